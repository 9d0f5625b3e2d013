package odbx

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// daeThreshold is the payload size above which variable-length
// parameters switch to data-at-execution streaming instead of one
// upfront buffer.
const daeThreshold = 8000

// WideString marks a string for explicit wide-character (NCHAR/NVARCHAR)
// binding. Plain strings bind through the narrow character class.
type WideString string

// Date is a calendar date without a time component, matching the native
// DATE type.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// TimeOfDay is a wall-clock time without a date component, matching the
// native TIME type.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Decimal is an exact base-10 value with the declared precision and
// scale of its target column. The value is never approximated through
// binary floating point on the marshaling path.
type Decimal struct {
	Value     decimal.Decimal
	Precision int // total digits, 1-38
	Scale     int // digits after the decimal point, 0-Precision
}

// NewDecimal parses s (fixed-point or exponential notation) and attaches
// the declared precision and scale. The value itself is validated
// against them at encode time.
func NewDecimal(s string, precision, scale int) (Decimal, error) {
	if precision < 1 || precision > 38 {
		return Decimal{}, fmt.Errorf("odbx: decimal precision must be 1-38, got %d", precision)
	}
	if scale < 0 || scale > precision {
		return Decimal{}, fmt.Errorf("odbx: decimal scale must be 0-%d, got %d", precision, scale)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("odbx: invalid decimal %q: %w", s, err)
	}
	return Decimal{Value: v, Precision: precision, Scale: scale}, nil
}

// ParseDecimal parses s and infers precision and scale from its digits.
func ParseDecimal(s string) (Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("odbx: invalid decimal %q: %w", s, err)
	}
	intDigits, fracDigits := decimalDigits(v)
	precision := intDigits + fracDigits
	if precision < 1 {
		precision = 1
	}
	if precision > 38 {
		precision = 38
	}
	return Decimal{Value: v, Precision: precision, Scale: fracDigits}, nil
}

func (d Decimal) String() string {
	return d.Value.StringFixed(int32(d.Scale))
}

// decimalDigits counts the integer and fractional digits of the exact
// fixed-point form of v. "0" counts as zero integer digits.
func decimalDigits(v decimal.Decimal) (intDigits, fracDigits int) {
	s := v.Abs().String() // plain notation, never exponential
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		fracDigits = len(s) - dot - 1
		s = s[:dot]
	}
	s = strings.TrimLeft(s, "0")
	return len(s), fracDigits
}

// TypeHint is an explicit per-parameter binding hint, the equivalent of
// DB-API setinputsizes. A zero Type leaves inference in place.
type TypeHint struct {
	Type       SQLSMALLINT // target native SQL type code
	Size       int         // column size / precision
	Scale      int         // decimal digits
	DataAtExec bool        // force deferred streaming regardless of size
}

// boundValue is one marshaled parameter: the typed native buffer, the
// binding metadata SQLBindParameter wants, and the length/indicator cell
// distinguishing NULL, a known length, and data-at-execution.
type boundValue struct {
	buf       interface{} // keeps the native buffer reachable during execution
	ctype     SQLSMALLINT
	sqltype   SQLSMALLINT
	colSize   SQLULEN
	decDigits SQLSMALLINT
	bufLen    SQLLEN
	ind       SQLLEN

	// dae holds the full payload of a deferred parameter. Non-nil for
	// any data-at-execution binding, including an empty (zero-length)
	// payload, which is distinct from deferred NULL.
	dae []byte

	// tvp is set instead of buf for a table-valued parameter.
	tvp *tvpBinding
}

// typeMarshaler converts host values to and from typed native buffers.
// It is pure except for the connection-scoped configuration it reads
// through the two accessors, which are consulted at call time rather
// than cached (the identifier-decode mode in particular may change
// between fetches).
type typeMarshaler struct {
	codecs     func() textCodecs
	nativeUUID func() bool
}

// encode converts one host value into a boundValue for the given
// optional hint. Unsafe values (non-finite floats, out-of-range
// integers, decimals exceeding their declared precision) fail here,
// before any native call is issued.
func (m *typeMarshaler) encode(value interface{}, hint *TypeHint) (*boundValue, error) {
	switch v := value.(type) {
	case nil:
		return m.encodeNull(hint), nil

	case bool:
		b := new(byte)
		if v {
			*b = 1
		}
		return &boundValue{buf: b, ctype: SQL_C_BIT, sqltype: SQL_BIT, colSize: 1, bufLen: 1, ind: 1}, nil

	case int:
		return m.encodeInt64(int64(v), hint)
	case int64:
		return m.encodeInt64(v, hint)
	case int8:
		val := new(int8)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_STINYINT, sqltype: SQL_TINYINT, colSize: 4, bufLen: 1, ind: 1}, nil
	case int16:
		val := new(int16)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_SSHORT, sqltype: SQL_SMALLINT, colSize: 6, bufLen: 2, ind: 2}, nil
	case int32:
		val := new(int32)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_SLONG, sqltype: SQL_INTEGER, colSize: 11, bufLen: 4, ind: 4}, nil

	case uint:
		return m.encodeUint64(uint64(v), hint)
	case uint64:
		return m.encodeUint64(v, hint)
	case uint8:
		val := new(uint8)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_UTINYINT, sqltype: SQL_TINYINT, colSize: 3, bufLen: 1, ind: 1}, nil
	case uint16:
		val := new(uint16)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_USHORT, sqltype: SQL_SMALLINT, colSize: 5, bufLen: 2, ind: 2}, nil
	case uint32:
		val := new(uint32)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_ULONG, sqltype: SQL_INTEGER, colSize: 10, bufLen: 4, ind: 4}, nil

	case float32:
		if err := checkFinite(float64(v), v); err != nil {
			return nil, err
		}
		val := new(float32)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_FLOAT, sqltype: SQL_REAL, colSize: 7, bufLen: 4, ind: 4}, nil
	case float64:
		if err := checkFinite(v, v); err != nil {
			return nil, err
		}
		val := new(float64)
		*val = v
		return &boundValue{buf: val, ctype: SQL_C_DOUBLE, sqltype: SQL_DOUBLE, colSize: 15, bufLen: 8, ind: 8}, nil

	case string:
		if hint != nil && isWideClass(hint.Type) {
			return m.encodeWideString(string(v), hint)
		}
		return m.encodeString(v, hint)
	case WideString:
		return m.encodeWideString(string(v), hint)

	case []byte:
		return m.encodeBytes(v, hint), nil

	case time.Time:
		// Truncate to millisecond precision for broad engine
		// compatibility; the Fraction field is in billionths.
		fraction := SQLUINTEGER((v.Nanosecond() / 1_000_000) * 1_000_000)
		ts := &SQL_TIMESTAMP_STRUCT{
			Year:     SQLSMALLINT(v.Year()),
			Month:    SQLUSMALLINT(v.Month()),
			Day:      SQLUSMALLINT(v.Day()),
			Hour:     SQLUSMALLINT(v.Hour()),
			Minute:   SQLUSMALLINT(v.Minute()),
			Second:   SQLUSMALLINT(v.Second()),
			Fraction: fraction,
		}
		size := SQLLEN(unsafe.Sizeof(*ts))
		return &boundValue{buf: ts, ctype: SQL_C_TIMESTAMP, sqltype: SQL_TYPE_TIMESTAMP, colSize: 23, decDigits: 3, bufLen: size, ind: size}, nil

	case Date:
		d := &SQL_DATE_STRUCT{Year: SQLSMALLINT(v.Year), Month: SQLUSMALLINT(v.Month), Day: SQLUSMALLINT(v.Day)}
		size := SQLLEN(unsafe.Sizeof(*d))
		return &boundValue{buf: d, ctype: SQL_C_DATE, sqltype: SQL_TYPE_DATE, colSize: 10, bufLen: size, ind: size}, nil

	case TimeOfDay:
		t := &SQL_TIME_STRUCT{Hour: SQLUSMALLINT(v.Hour), Minute: SQLUSMALLINT(v.Minute), Second: SQLUSMALLINT(v.Second)}
		size := SQLLEN(unsafe.Sizeof(*t))
		return &boundValue{buf: t, ctype: SQL_C_TIME, sqltype: SQL_TYPE_TIME, colSize: 8, bufLen: size, ind: size}, nil

	case Decimal:
		return m.encodeDecimal(v)

	case uuid.UUID:
		g := uuidToGUID(v)
		size := SQLLEN(unsafe.Sizeof(*g))
		return &boundValue{buf: g, ctype: SQL_C_GUID, sqltype: SQL_GUID, colSize: 36, bufLen: size, ind: size}, nil

	default:
		// Last resort: the value's string form through the narrow class.
		return m.encodeString(fmt.Sprintf("%v", v), hint)
	}
}

func (m *typeMarshaler) encodeNull(hint *TypeHint) *boundValue {
	bv := &boundValue{ctype: SQL_C_CHAR, sqltype: SQL_VARCHAR, colSize: 1, ind: SQL_NULL_DATA}
	if hint != nil && hint.Type != 0 {
		bv.sqltype = hint.Type
		bv.ctype = defaultCTypeFor(hint.Type)
		if hint.Size > 0 {
			bv.colSize = SQLULEN(hint.Size)
		}
		bv.decDigits = SQLSMALLINT(hint.Scale)
	}
	return bv
}

func (m *typeMarshaler) encodeInt64(v int64, hint *TypeHint) (*boundValue, error) {
	if hint != nil {
		if err := checkIntRange(v, hint.Type); err != nil {
			return nil, err
		}
	}
	val := new(int64)
	*val = v
	return &boundValue{buf: val, ctype: SQL_C_SBIGINT, sqltype: SQL_BIGINT, colSize: 20, bufLen: 8, ind: 8}, nil
}

func (m *typeMarshaler) encodeUint64(v uint64, hint *TypeHint) (*boundValue, error) {
	if hint != nil && hint.Type == SQL_BIGINT && v > math.MaxInt64 {
		return nil, &OverflowError{Value: fmt.Sprintf("%d", v), Target: "BIGINT"}
	}
	if v > math.MaxInt64 {
		// No native unsigned 64-bit type: fall back to the decimal
		// string form.
		return m.encodeString(fmt.Sprintf("%d", v), nil)
	}
	if hint != nil {
		if err := checkIntRange(int64(v), hint.Type); err != nil {
			return nil, err
		}
	}
	val := new(int64)
	*val = int64(v)
	return &boundValue{buf: val, ctype: SQL_C_SBIGINT, sqltype: SQL_BIGINT, colSize: 20, bufLen: 8, ind: 8}, nil
}

func (m *typeMarshaler) encodeString(s string, hint *TypeHint) (*boundValue, error) {
	raw, err := m.codecs().encodeNarrow(s)
	if err != nil {
		return nil, err
	}
	bv := &boundValue{ctype: SQL_C_CHAR, sqltype: SQL_VARCHAR, ind: SQLLEN(len(raw))}
	bv.colSize = SQLULEN(len(raw))
	if bv.colSize == 0 {
		bv.colSize = 1 // empty string still needs a non-zero column size
	}
	if hint != nil {
		if hint.Type != 0 {
			bv.sqltype = hint.Type
		}
		if hint.Size > 0 {
			bv.colSize = SQLULEN(hint.Size)
		}
	}
	if len(raw) > daeThreshold || (hint != nil && hint.DataAtExec) {
		bv.sqltype = SQL_LONGVARCHAR
		bv.dae = raw
		bv.ind = lenDataAtExec(len(raw))
		return bv, nil
	}
	buf := append(raw, 0) // null-terminated
	bv.buf = buf
	bv.bufLen = SQLLEN(len(buf))
	return bv, nil
}

func (m *typeMarshaler) encodeWideString(s string, hint *TypeHint) (*boundValue, error) {
	raw, err := m.codecs().encodeWide(s)
	if err != nil {
		return nil, err
	}
	bv := &boundValue{ctype: SQL_C_WCHAR, sqltype: SQL_WVARCHAR, ind: SQLLEN(len(raw))}
	bv.colSize = SQLULEN(len(raw) / 2)
	if bv.colSize == 0 {
		bv.colSize = 1
	}
	if hint != nil {
		if hint.Type != 0 {
			bv.sqltype = hint.Type
		}
		if hint.Size > 0 {
			bv.colSize = SQLULEN(hint.Size)
		}
	}
	if len(raw) > daeThreshold || (hint != nil && hint.DataAtExec) {
		bv.sqltype = SQL_WLONGVARCHAR
		bv.dae = raw
		bv.ind = lenDataAtExec(len(raw))
		return bv, nil
	}
	buf := append(raw, 0, 0) // UTF-16 null terminator
	bv.buf = buf
	bv.bufLen = SQLLEN(len(buf))
	return bv, nil
}

func (m *typeMarshaler) encodeBytes(b []byte, hint *TypeHint) *boundValue {
	bv := &boundValue{ctype: SQL_C_BINARY, sqltype: SQL_VARBINARY, ind: SQLLEN(len(b))}
	bv.colSize = SQLULEN(len(b))
	if bv.colSize == 0 {
		bv.colSize = 1 // empty is valid and distinct from NULL
	}
	if hint != nil {
		if hint.Type != 0 {
			bv.sqltype = hint.Type
		}
		if hint.Size > 0 {
			bv.colSize = SQLULEN(hint.Size)
		}
	}
	if len(b) > daeThreshold || (hint != nil && hint.DataAtExec) {
		bv.sqltype = SQL_LONGVARBINARY
		bv.dae = b
		bv.ind = lenDataAtExec(len(b))
		return bv
	}
	bv.buf = b
	bv.bufLen = SQLLEN(len(b))
	return bv
}

func (m *typeMarshaler) encodeDecimal(d Decimal) (*boundValue, error) {
	intDigits, fracDigits := decimalDigits(d.Value)
	if fracDigits > d.Scale || intDigits > d.Precision-d.Scale {
		return nil, &OverflowError{
			Value:  d.Value.String(),
			Target: fmt.Sprintf("DECIMAL(%d,%d)", d.Precision, d.Scale),
		}
	}
	// Fixed-point text form; exponential notation never reaches the
	// engine.
	s := d.Value.StringFixed(int32(d.Scale))
	buf := append([]byte(s), 0)
	return &boundValue{
		buf:       buf,
		ctype:     SQL_C_CHAR,
		sqltype:   SQL_DECIMAL,
		colSize:   SQLULEN(d.Precision),
		decDigits: SQLSMALLINT(d.Scale),
		bufLen:    SQLLEN(len(buf)),
		ind:       SQLLEN(len(s)),
	}, nil
}

// checkFinite rejects non-finite floats before any native call: the
// engine is never asked to represent them.
func checkFinite(f float64, orig interface{}) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &TypeError{Value: orig, Reason: "non-finite floating point values cannot be stored"}
	}
	return nil
}

// checkIntRange validates v against the range of the hinted target type.
func checkIntRange(v int64, target SQLSMALLINT) error {
	var lo, hi int64
	var name string
	switch target {
	case SQL_TINYINT:
		lo, hi, name = 0, 255, "TINYINT"
	case SQL_SMALLINT:
		lo, hi, name = math.MinInt16, math.MaxInt16, "SMALLINT"
	case SQL_INTEGER:
		lo, hi, name = math.MinInt32, math.MaxInt32, "INTEGER"
	default:
		return nil
	}
	if v < lo || v > hi {
		return &OverflowError{Value: fmt.Sprintf("%d", v), Target: name}
	}
	return nil
}

// defaultCTypeFor picks the C buffer type used when only a SQL type is
// known (NULL binding with a hint).
func defaultCTypeFor(sqlType SQLSMALLINT) SQLSMALLINT {
	switch sqlType {
	case SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		return SQL_C_BINARY
	case SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		return SQL_C_WCHAR
	case SQL_BIT:
		return SQL_C_BIT
	case SQL_TINYINT, SQL_SMALLINT, SQL_INTEGER, SQL_BIGINT:
		return SQL_C_SBIGINT
	case SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		return SQL_C_DOUBLE
	case SQL_TYPE_DATE:
		return SQL_C_DATE
	case SQL_TYPE_TIME:
		return SQL_C_TIME
	case SQL_TYPE_TIMESTAMP, SQL_DATETIME:
		return SQL_C_TIMESTAMP
	case SQL_GUID:
		return SQL_C_GUID
	default:
		return SQL_C_CHAR
	}
}

// bufferPtr returns the native pointer and byte length for a bound
// buffer. The interface value in boundValue.buf keeps the memory
// reachable; this only derives the address SQLBindParameter needs.
func bufferPtr(buf interface{}) (uintptr, SQLLEN) {
	switch v := buf.(type) {
	case []byte:
		if len(v) == 0 {
			return 0, 0
		}
		return uintptr(unsafe.Pointer(&v[0])), SQLLEN(len(v))
	case *byte:
		return uintptr(unsafe.Pointer(v)), 1
	case *int8:
		return uintptr(unsafe.Pointer(v)), 1
	case *int16:
		return uintptr(unsafe.Pointer(v)), 2
	case *int32:
		return uintptr(unsafe.Pointer(v)), 4
	case *int64:
		return uintptr(unsafe.Pointer(v)), 8
	case *uint16:
		return uintptr(unsafe.Pointer(v)), 2
	case *uint32:
		return uintptr(unsafe.Pointer(v)), 4
	case *float32:
		return uintptr(unsafe.Pointer(v)), 4
	case *float64:
		return uintptr(unsafe.Pointer(v)), 8
	case *SQL_TIMESTAMP_STRUCT:
		return uintptr(unsafe.Pointer(v)), SQLLEN(unsafe.Sizeof(*v))
	case *SQL_DATE_STRUCT:
		return uintptr(unsafe.Pointer(v)), SQLLEN(unsafe.Sizeof(*v))
	case *SQL_TIME_STRUCT:
		return uintptr(unsafe.Pointer(v)), SQLLEN(unsafe.Sizeof(*v))
	case *SQL_GUID_STRUCT:
		return uintptr(unsafe.Pointer(v)), SQLLEN(unsafe.Sizeof(*v))
	default:
		return 0, 0
	}
}

// decodeTimestamp converts a native timestamp struct to time.Time.
func decodeTimestamp(ts SQL_TIMESTAMP_STRUCT) time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), int(ts.Fraction), time.UTC)
}

func decodeDate(d SQL_DATE_STRUCT) Date {
	return Date{Year: int(d.Year), Month: time.Month(d.Month), Day: int(d.Day)}
}

func decodeTime(t SQL_TIME_STRUCT) TimeOfDay {
	return TimeOfDay{Hour: int(t.Hour), Minute: int(t.Minute), Second: int(t.Second)}
}

// decodeGUID converts a native GUID struct to the host form selected by
// the connection's identifier-decode mode, which is read here at decode
// time rather than captured per column.
func (m *typeMarshaler) decodeGUID(g SQL_GUID_STRUCT) interface{} {
	u := guidToUUID(g)
	if m.nativeUUID() {
		return u
	}
	return strings.ToUpper(u.String())
}

// decodeDecimal parses the engine's fixed-point text form into an exact
// Decimal carrying the column's declared precision and scale.
func decodeDecimal(s string, precision, scale int) (Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, &DataError{Error{
			SQLState: SQLStateNumericOverflow,
			Message:  fmt.Sprintf("invalid decimal %q from engine", s),
		}}
	}
	return Decimal{Value: v, Precision: precision, Scale: scale}, nil
}

// uuidToGUID converts an RFC 4122 UUID (big-endian bytes) to the ODBC
// GUID struct (native-endian integer fields).
func uuidToGUID(u uuid.UUID) *SQL_GUID_STRUCT {
	g := &SQL_GUID_STRUCT{
		Data1: binary.BigEndian.Uint32(u[0:4]),
		Data2: binary.BigEndian.Uint16(u[4:6]),
		Data3: binary.BigEndian.Uint16(u[6:8]),
	}
	copy(g.Data4[:], u[8:16])
	return g
}

func guidToUUID(g SQL_GUID_STRUCT) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], g.Data1)
	binary.BigEndian.PutUint16(u[4:6], g.Data2)
	binary.BigEndian.PutUint16(u[6:8], g.Data3)
	copy(u[8:16], g.Data4[:])
	return u
}
