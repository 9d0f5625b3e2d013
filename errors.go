package odbx

import (
	"errors"
	"fmt"
	"strings"
)

// Local errors raised without touching the native layer.
var (
	// ErrConnectionClosed is returned by any operation on a closed Conn.
	ErrConnectionClosed = errors.New("odbx: connection closed")

	// ErrCursorClosed is returned by any operation on a closed Cursor.
	// It also guards against invalid-handle use after the owning
	// connection has been released.
	ErrCursorClosed = errors.New("odbx: cursor closed")

	// ErrNoActiveResult is returned by fetch operations when the cursor
	// has no current result set, including after the final result set
	// has been exhausted.
	ErrNoActiveResult = errors.New("odbx: no active result set")
)

// Error represents an engine-reported error with diagnostic information
// from the driver: SQLState, native error code, and message text.
type Error struct {
	SQLState    string
	NativeError int32
	Message     string

	// Diags holds every diagnostic record collected at the failing call
	// boundary, informational records included.
	Diags []DiagRecord
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s (native error: %d)", e.SQLState, e.Message, e.NativeError)
}

// Is reports whether target matches this error's SQLState, so callers
// can use errors.Is with a probe value.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.SQLState == t.SQLState
	}
	return false
}

// odbxError aliases Error for embedding: an embedded field named Error
// would shadow the promoted Error method.
type odbxError = Error

// DataError is an engine-reported data exception (SQLState class 22):
// truncation on write, conversion failure, division by zero.
type DataError struct{ odbxError }

// IntegrityError is an engine-reported constraint violation
// (SQLState class 23).
type IntegrityError struct{ odbxError }

// OperationalError is a connection failure or timeout (SQLState classes
// 08 and HYT). Usually retryable on a fresh connection.
type OperationalError struct{ odbxError }

// TypeError reports a host value that cannot be safely represented in
// the target native type. It is detected before any native call; no
// statement state has been touched.
type TypeError struct {
	Value  interface{}
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("odbx: cannot bind %T: %s", e.Value, e.Reason)
}

// OverflowError reports a numeric host value that exceeds the target
// type's range or a decimal that exceeds its declared precision.
// Detected before any native call.
type OverflowError struct {
	Value  string
	Target string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("odbx: value %s out of range for %s", e.Value, e.Target)
}

// BatchError reports a failure inside ExecuteMany. Row is the 0-based
// index of the failing parameter row. When the failure was detected
// during encoding, no statement was dispatched; when it came from the
// engine, rows before Row may already be applied (the caller's
// transaction decides their fate).
type BatchError struct {
	Row int
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("odbx: batch row %d: %v", e.Row, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// DiagRecord is a single diagnostic record returned by the native layer
// for one call.
type DiagRecord struct {
	SQLState    string
	NativeError int32
	Message     string
}

// Message is an informational diagnostic surfaced through
// Cursor.Messages rather than raised as an error.
type Message struct {
	SQLState    string
	NativeError int32
	Text        string
}

// diagRecords retrieves all diagnostic records for a handle.
func diagRecords(handleType SQLSMALLINT, handle SQLHANDLE) []DiagRecord {
	var records []DiagRecord
	sqlState := make([]byte, 6)
	message := make([]byte, 2048)

	for i := SQLSMALLINT(1); ; i++ {
		nativeError, msgLen, ret := getDiagRec(handleType, handle, i, sqlState, message)
		if !IsSuccess(ret) {
			break
		}
		if int(msgLen) > len(message) {
			msgLen = SQLSMALLINT(len(message))
		}
		records = append(records, DiagRecord{
			SQLState:    string(sqlState[:5]),
			NativeError: int32(nativeError),
			Message:     string(message[:msgLen]),
		})
	}
	return records
}

// isInformational reports whether a record is a warning/print-style
// message (class 01) that should accumulate as a Message instead of
// being raised.
func isInformational(rec DiagRecord) bool {
	return strings.HasPrefix(rec.SQLState, "01")
}

// infoMessages converts the informational records in diags to Messages.
func infoMessages(diags []DiagRecord) []Message {
	var msgs []Message
	for _, rec := range diags {
		if isInformational(rec) {
			msgs = append(msgs, Message{
				SQLState:    rec.SQLState,
				NativeError: rec.NativeError,
				Text:        rec.Message,
			})
		}
	}
	return msgs
}

// newHandleError builds a classified error from the diagnostic records
// of a failed call on the given handle.
func newHandleError(handleType SQLSMALLINT, handle SQLHANDLE) error {
	return classifyDiags(diagRecords(handleType, handle))
}

func classifyDiags(diags []DiagRecord) error {
	// The first non-informational record decides the class; all records
	// travel with the error.
	var first *DiagRecord
	for i := range diags {
		if !isInformational(diags[i]) {
			first = &diags[i]
			break
		}
	}
	if first == nil {
		if len(diags) > 0 {
			first = &diags[0]
		} else {
			return &Error{SQLState: SQLStateGeneralError, Message: "unknown ODBC error"}
		}
	}

	base := Error{
		SQLState:    first.SQLState,
		NativeError: first.NativeError,
		Message:     first.Message,
		Diags:       diags,
	}
	switch {
	case strings.HasPrefix(base.SQLState, "22"):
		return &DataError{base}
	case strings.HasPrefix(base.SQLState, "23"):
		return &IntegrityError{base}
	case strings.HasPrefix(base.SQLState, "08"), strings.HasPrefix(base.SQLState, "HYT"):
		return &OperationalError{base}
	default:
		return &base
	}
}

// SQLState constants for common conditions. These follow the ODBC
// specification and can be used with errors.Is against an *Error probe.
const (
	// Connection errors (08xxx)
	SQLStateConnectionFailure  = "08001" // Unable to connect
	SQLStateConnectionNotOpen  = "08003" // Connection not open
	SQLStateConnectionRejected = "08004" // Connection rejected by server
	SQLStateConnectionError    = "08S01" // Communication link failure

	// Warning states (01xxx)
	SQLStateGeneralWarning = "01000" // General warning (PRINT-style messages)
	SQLStateDataTruncation = "01004" // Data truncated on read

	// No data (02xxx)
	SQLStateNoData = "02000" // No data found

	// Data errors (22xxx)
	SQLStateStringTruncation = "22001" // String data right truncation
	SQLStateNumericOverflow  = "22003" // Numeric value out of range
	SQLStateInvalidDatetime  = "22007" // Invalid datetime format
	SQLStateDivisionByZero   = "22012" // Division by zero

	// Constraint violations (23xxx)
	SQLStateConstraintViolation = "23000" // Integrity constraint violation

	// Cursor/transaction states
	SQLStateInvalidCursorState = "24000" // Invalid cursor state
	SQLStateInvalidTransState  = "25000" // Invalid transaction state

	// Syntax/access errors (42xxx)
	SQLStateSyntaxError    = "42000" // Syntax error or access violation
	SQLStateTableNotFound  = "42S02" // Table not found
	SQLStateColumnNotFound = "42S22" // Column not found

	// General errors (HYxxx)
	SQLStateGeneralError          = "HY000" // General error
	SQLStateFunctionSequenceError = "HY010" // Function sequence error
	SQLStateTimeout               = "HYT00" // Timeout expired
	SQLStateConnectionTimeout     = "HYT01" // Connection timeout expired
)

// IsConnectionError reports whether err indicates a connection problem.
// Connection errors have SQLState codes starting with "08".
func IsConnectionError(err error) bool {
	var oe *OperationalError
	if errors.As(err, &oe) {
		return strings.HasPrefix(oe.SQLState, "08")
	}
	var e *Error
	if errors.As(err, &e) {
		return strings.HasPrefix(e.SQLState, "08")
	}
	return false
}

// IsRetryable reports whether err represents a transient condition that
// may succeed if retried: connection failures, timeouts, deadlocks.
func IsRetryable(err error) bool {
	sqlState := ""
	var oe *OperationalError
	var e *Error
	switch {
	case errors.As(err, &oe):
		sqlState = oe.SQLState
	case errors.As(err, &e):
		sqlState = e.SQLState
	default:
		return false
	}

	switch sqlState {
	case SQLStateConnectionFailure, SQLStateConnectionError,
		SQLStateTimeout, SQLStateConnectionTimeout, "40001", "40003":
		return true
	}
	return strings.HasPrefix(sqlState, "08")
}
