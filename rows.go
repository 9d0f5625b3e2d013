package odbx

import (
	"io"
	"strings"
	"unsafe"
)

// getDataChunk is the per-call buffer size for variable-length column
// reads through SQLGetData.
const getDataChunk = 4096

// ColumnDesc describes one result-set column as reported by the engine.
type ColumnDesc struct {
	Name      string
	SQLType   SQLSMALLINT
	Size      SQLULEN
	DecDigits SQLSMALLINT
	Nullable  bool
}

// OutputConverter overrides decoding for a SQL type: it receives the
// column's raw bytes as the driver delivers them and returns the host
// value. Converters are never invoked for NULL cells.
type OutputConverter func(raw []byte) (interface{}, error)

// resultSet reads one active result set of a statement: column metadata
// described once up front, then row-at-a-time fetching with per-column
// retrieval.
type resultSet struct {
	stmt      SQLHSTMT
	cols      []ColumnDesc
	marshaler *typeMarshaler

	// converter lookup and name folding are connection-scoped and read
	// through these accessors so configuration changes take effect on
	// the next describe or decode.
	converter func(SQLSMALLINT) (OutputConverter, bool)
}

// describe populates column metadata for the statement's current result
// set. A statement with no result columns (DML, DDL) yields nil
// metadata.
func (r *resultSet) describe(lowercase bool) error {
	var count SQLSMALLINT
	if ret := numResultCols(r.stmt, &count); !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
	}
	if count == 0 {
		r.cols = nil
		return nil
	}
	cols := make([]ColumnDesc, count)
	nameBuf := make([]byte, 256)
	for i := range cols {
		nameLen, dataType, colSize, decDigits, nullable, ret := describeCol(r.stmt, SQLUSMALLINT(i+1), nameBuf)
		if !IsSuccess(ret) {
			return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
		}
		n := int(nameLen)
		if n > len(nameBuf) {
			n = len(nameBuf)
		}
		name := string(nameBuf[:n])
		if lowercase {
			name = strings.ToLower(name)
		}
		cols[i] = ColumnDesc{
			Name:      name,
			SQLType:   dataType,
			Size:      colSize,
			DecDigits: decDigits,
			Nullable:  nullable != SQL_NO_NULLS,
		}
	}
	r.cols = cols
	return nil
}

// fetchRow advances to the next row and decodes every column. Returns
// io.EOF when the result set is exhausted.
func (r *resultSet) fetchRow() (*Row, error) {
	ret := fetch(r.stmt)
	if ret == SQL_NO_DATA {
		return nil, io.EOF
	}
	if !IsSuccess(ret) {
		return nil, newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
	}
	values := make([]interface{}, len(r.cols))
	for i := range r.cols {
		v, err := r.decodeColumn(i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &Row{cols: r.cols, values: values}, nil
}

// skip advances past a row without decoding any column data.
func (r *resultSet) skip() error {
	ret := fetch(r.stmt)
	if ret == SQL_NO_DATA {
		return io.EOF
	}
	if !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
	}
	return nil
}

func (r *resultSet) decodeColumn(i int) (interface{}, error) {
	col := &r.cols[i]
	num := SQLUSMALLINT(i + 1)

	// A registered converter takes over the whole decode for its SQL
	// type. The raw bytes are read with the binary target so the
	// converter sees the driver's wire form untouched.
	if conv, ok := r.converter(col.SQLType); ok {
		raw, isNull, err := r.getVariable(num, SQL_C_BINARY)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return conv(raw)
	}

	switch col.SQLType {
	case SQL_CHAR, SQL_VARCHAR, SQL_LONGVARCHAR:
		raw, isNull, err := r.getVariable(num, SQL_C_CHAR)
		if err != nil || isNull {
			return nil, err
		}
		return r.marshaler.codecs().decodeNarrow(raw)

	case SQL_WCHAR, SQL_WVARCHAR, SQL_WLONGVARCHAR:
		raw, isNull, err := r.getVariable(num, SQL_C_WCHAR)
		if err != nil || isNull {
			return nil, err
		}
		return r.marshaler.codecs().decodeWide(raw)

	case SQL_BINARY, SQL_VARBINARY, SQL_LONGVARBINARY:
		raw, isNull, err := r.getVariable(num, SQL_C_BINARY)
		if err != nil || isNull {
			return nil, err
		}
		if raw == nil {
			raw = []byte{}
		}
		return raw, nil

	case SQL_BIT:
		var v byte
		isNull, err := r.getFixed(num, SQL_C_BIT, uintptr(unsafe.Pointer(&v)), 1)
		if err != nil || isNull {
			return nil, err
		}
		return v != 0, nil

	case SQL_TINYINT, SQL_SMALLINT, SQL_INTEGER, SQL_BIGINT:
		var v int64
		isNull, err := r.getFixed(num, SQL_C_SBIGINT, uintptr(unsafe.Pointer(&v)), 8)
		if err != nil || isNull {
			return nil, err
		}
		return v, nil

	case SQL_REAL, SQL_FLOAT, SQL_DOUBLE:
		var v float64
		isNull, err := r.getFixed(num, SQL_C_DOUBLE, uintptr(unsafe.Pointer(&v)), 8)
		if err != nil || isNull {
			return nil, err
		}
		return v, nil

	case SQL_DECIMAL, SQL_NUMERIC:
		raw, isNull, err := r.getVariable(num, SQL_C_CHAR)
		if err != nil || isNull {
			return nil, err
		}
		return decodeDecimal(string(raw), int(col.Size), int(col.DecDigits))

	case SQL_TYPE_DATE:
		var v SQL_DATE_STRUCT
		isNull, err := r.getFixed(num, SQL_C_DATE, uintptr(unsafe.Pointer(&v)), SQLLEN(unsafe.Sizeof(v)))
		if err != nil || isNull {
			return nil, err
		}
		return decodeDate(v), nil

	case SQL_TYPE_TIME:
		var v SQL_TIME_STRUCT
		isNull, err := r.getFixed(num, SQL_C_TIME, uintptr(unsafe.Pointer(&v)), SQLLEN(unsafe.Sizeof(v)))
		if err != nil || isNull {
			return nil, err
		}
		return decodeTime(v), nil

	case SQL_TYPE_TIMESTAMP, SQL_DATETIME:
		var v SQL_TIMESTAMP_STRUCT
		isNull, err := r.getFixed(num, SQL_C_TIMESTAMP, uintptr(unsafe.Pointer(&v)), SQLLEN(unsafe.Sizeof(v)))
		if err != nil || isNull {
			return nil, err
		}
		return decodeTimestamp(v), nil

	case SQL_GUID:
		var v SQL_GUID_STRUCT
		isNull, err := r.getFixed(num, SQL_C_GUID, uintptr(unsafe.Pointer(&v)), SQLLEN(unsafe.Sizeof(v)))
		if err != nil || isNull {
			return nil, err
		}
		return r.marshaler.decodeGUID(v), nil

	default:
		raw, isNull, err := r.getVariable(num, SQL_C_CHAR)
		if err != nil || isNull {
			return nil, err
		}
		return r.marshaler.codecs().decodeNarrow(raw)
	}
}

// getFixed reads a fixed-size column value into the caller's buffer.
// Returns isNull true for SQL NULL.
func (r *resultSet) getFixed(num SQLUSMALLINT, ctype SQLSMALLINT, ptr uintptr, size SQLLEN) (bool, error) {
	var ind SQLLEN
	ret := getData(r.stmt, num, ctype, ptr, size, &ind)
	if !IsSuccess(ret) {
		return false, newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
	}
	return ind == SQL_NULL_DATA, nil
}

// getVariable reads a variable-length column in chunks. Character
// targets reserve space for the driver's terminator in every chunk, so
// each truncated call yields bufLen-terminator payload bytes and the
// final call yields exactly the remaining length, whatever the value's
// size relative to the chunk boundary.
func (r *resultSet) getVariable(num SQLUSMALLINT, ctype SQLSMALLINT) ([]byte, bool, error) {
	term := 0
	switch ctype {
	case SQL_C_CHAR:
		term = 1
	case SQL_C_WCHAR:
		term = 2
	}
	buf := make([]byte, getDataChunk)
	var result []byte
	for {
		var ind SQLLEN
		ret := getData(r.stmt, num, ctype, uintptr(unsafe.Pointer(&buf[0])), SQLLEN(len(buf)), &ind)
		if ret == SQL_NO_DATA {
			// Everything was consumed by earlier calls.
			return result, false, nil
		}
		if !IsSuccess(ret) {
			return nil, false, newHandleError(SQL_HANDLE_STMT, SQLHANDLE(r.stmt))
		}
		if ind == SQL_NULL_DATA {
			return nil, true, nil
		}
		avail := SQLLEN(len(buf) - term)
		if ret == SQL_SUCCESS_WITH_INFO && (ind == SQL_NO_TOTAL || ind > avail) {
			// Truncated: the driver filled the buffer up to the
			// terminator. More remains.
			result = append(result, buf[:avail]...)
			continue
		}
		// Final chunk: ind is the byte count actually delivered.
		if ind > avail {
			ind = avail
		}
		result = append(result, buf[:ind]...)
		return result, false, nil
	}
}
