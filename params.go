package odbx

import (
	"fmt"
	"unsafe"
)

// daeChunk is the chunk size for streaming a data-at-execution payload
// through SQLPutData.
const daeChunk = 4096

// TableParam is a table-valued parameter: the server-side table type
// name and the row data. Every row must have the same number of cells.
type TableParam struct {
	TypeName string
	Rows     [][]interface{}
}

// tvpColumn is one column of a table-valued parameter, marshaled
// column-wise: a stride-packed data array plus per-row indicators.
type tvpColumn struct {
	ctype     SQLSMALLINT
	sqltype   SQLSMALLINT
	colSize   SQLULEN
	decDigits SQLSMALLINT
	stride    SQLLEN
	data      []byte
	inds      []SQLLEN
}

// tvpBinding is a fully marshaled table-valued parameter ready to bind.
// All cells are encoded before any native call so that an unmarshalable
// cell fails the whole statement up front.
type tvpBinding struct {
	typeName []byte // UTF-16LE with terminator, for the IPD record
	rowCount SQLLEN // pointed to by the parameter's indicator
	cols     []tvpColumn
}

// paramBinder marshals host parameters and binds them to a statement
// handle. It owns the native buffers between bind and execution: the
// engine reads them during SQLExecute, so they must stay reachable
// until the next bind cycle.
type paramBinder struct {
	marshaler *typeMarshaler

	hints []TypeHint // explicit per-position hints, empty Type means unset

	bound []*boundValue // keep-alive for the current execution
	inds  []*SQLLEN     // indicator cells, one per bound parameter
	dae   map[uintptr][]byte
}

func newParamBinder(m *typeMarshaler) *paramBinder {
	return &paramBinder{marshaler: m}
}

// setHints installs explicit binding hints, positionally. They stay in
// effect for subsequent executions until replaced. A nil slice clears
// them.
func (b *paramBinder) setHints(hints []TypeHint) {
	b.hints = hints
}

// reset drops the previous execution's buffers. Hints persist.
func (b *paramBinder) reset() {
	b.bound = nil
	b.inds = nil
	b.dae = nil
}

func (b *paramBinder) hintFor(i int) *TypeHint {
	if i < len(b.hints) && b.hints[i] != (TypeHint{}) {
		return &b.hints[i]
	}
	return nil
}

// encodeAll marshals every parameter without touching the statement.
// Used by batch execution to validate a whole parameter row before any
// native call: one bad value rejects the row atomically.
func (b *paramBinder) encodeAll(params []interface{}) ([]*boundValue, error) {
	out := make([]*boundValue, len(params))
	for i, p := range params {
		if tp, ok := p.(*TableParam); ok {
			tvp, err := b.marshalTable(tp)
			if err != nil {
				return nil, err
			}
			out[i] = &boundValue{tvp: tvp}
			continue
		}
		bv, err := b.marshaler.encode(p, b.hintFor(i))
		if err != nil {
			return nil, err
		}
		out[i] = bv
	}
	return out, nil
}

// bindAll marshals and binds params to stmt. NULLs without an explicit
// hint are typed by asking the engine to describe the parameter; when
// the driver cannot (SQLDescribeParam is optional), a one-character
// VARCHAR binding is used, which engines accept for NULL.
func (b *paramBinder) bindAll(stmt SQLHSTMT, params []interface{}) error {
	b.reset()
	for i, p := range params {
		var bv *boundValue
		var err error
		if tp, ok := p.(*TableParam); ok {
			tvp, merr := b.marshalTable(tp)
			if merr != nil {
				return merr
			}
			bv = &boundValue{tvp: tvp}
		} else {
			hint := b.hintFor(i)
			if p == nil && hint == nil {
				hint = b.describeNull(stmt, i)
			}
			bv, err = b.marshaler.encode(p, hint)
			if err != nil {
				return err
			}
		}
		if err := b.bindOne(stmt, i, bv); err != nil {
			return err
		}
	}
	return nil
}

// bindEncoded binds a pre-marshaled parameter row (from encodeAll).
func (b *paramBinder) bindEncoded(stmt SQLHSTMT, row []*boundValue) error {
	b.reset()
	for i, bv := range row {
		if err := b.bindOne(stmt, i, bv); err != nil {
			return err
		}
	}
	return nil
}

func (b *paramBinder) bindOne(stmt SQLHSTMT, i int, bv *boundValue) error {
	if bv.tvp != nil {
		return b.bindTable(stmt, i, bv)
	}
	num := SQLUSMALLINT(i + 1)
	ind := new(SQLLEN)
	*ind = bv.ind

	var ptr uintptr
	var bufLen SQLLEN
	if bv.dae != nil {
		// Deferred: the "value" is an application token SQLParamData
		// hands back when the engine wants the payload.
		ptr = uintptr(i + 1)
		if b.dae == nil {
			b.dae = make(map[uintptr][]byte)
		}
		b.dae[ptr] = bv.dae
	} else {
		ptr, bufLen = bufferPtr(bv.buf)
		if bv.bufLen != 0 {
			bufLen = bv.bufLen
		}
	}

	ret := bindParameter(stmt, num, SQL_PARAM_INPUT, bv.ctype, bv.sqltype,
		bv.colSize, bv.decDigits, ptr, bufLen, ind)
	if !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}
	b.bound = append(b.bound, bv)
	b.inds = append(b.inds, ind)
	return nil
}

// describeNull asks the engine for the declared type of parameter i so
// an untyped NULL binds with matching metadata. Returns nil when the
// driver cannot describe it.
func (b *paramBinder) describeNull(stmt SQLHSTMT, i int) *TypeHint {
	dataType, paramSize, decDigits, _, ret := describeParam(stmt, SQLUSMALLINT(i+1))
	if !IsSuccess(ret) || dataType == 0 {
		return nil
	}
	return &TypeHint{Type: dataType, Size: int(paramSize), Scale: int(decDigits)}
}

// feedDAE runs the data-at-execution exchange after SQLExecute returned
// SQL_NEED_DATA: for each token the engine requests, stream the
// registered payload in chunks. A zero-length payload still issues one
// SQLPutData call so the engine stores empty, not NULL.
func (b *paramBinder) feedDAE(stmt SQLHSTMT) (SQLRETURN, error) {
	for {
		var token uintptr
		ret := paramData(stmt, &token)
		if ret != SQL_NEED_DATA {
			return ret, nil
		}
		payload, ok := b.dae[token]
		if !ok {
			return ret, &Error{
				SQLState: SQLStateFunctionSequenceError,
				Message:  fmt.Sprintf("engine requested data for unknown parameter token %d", token),
			}
		}
		if len(payload) == 0 {
			if r := putData(stmt, 0, 0); !IsSuccess(r) {
				return r, newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
			}
			continue
		}
		for off := 0; off < len(payload); off += daeChunk {
			end := off + daeChunk
			if end > len(payload) {
				end = len(payload)
			}
			chunk := payload[off:end]
			if r := putData(stmt, uintptr(unsafe.Pointer(&chunk[0])), SQLLEN(len(chunk))); !IsSuccess(r) {
				return r, newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
			}
		}
	}
}

// marshalTable encodes every cell of a table parameter eagerly. Ragged
// rows and cells with no safe native form fail here, before binding.
func (b *paramBinder) marshalTable(tp *TableParam) (*tvpBinding, error) {
	if tp.TypeName == "" {
		return nil, &TypeError{Value: tp, Reason: "table parameter requires a type name"}
	}
	if len(tp.Rows) == 0 {
		// Valid: binds as the table type with zero rows.
		wideName, err := wideUTF16Bytes(tp.TypeName)
		if err != nil {
			return nil, err
		}
		return &tvpBinding{typeName: wideName, rowCount: 0}, nil
	}
	width := len(tp.Rows[0])
	if width == 0 {
		return nil, &TypeError{Value: tp, Reason: "table parameter rows must have at least one column"}
	}
	for r, row := range tp.Rows {
		if len(row) != width {
			return nil, &TypeError{
				Value:  tp,
				Reason: fmt.Sprintf("table parameter row %d has %d cells, expected %d", r, len(row), width),
			}
		}
	}

	// Encode column-wise: every cell now, so a bad value in the last
	// row rejects the parameter before anything touches the engine.
	cells := make([][]*boundValue, width)
	for c := 0; c < width; c++ {
		cells[c] = make([]*boundValue, len(tp.Rows))
		for r, row := range tp.Rows {
			bv, err := b.marshaler.encode(row[c], nil)
			if err != nil {
				return nil, &TypeError{
					Value:  row[c],
					Reason: fmt.Sprintf("table parameter cell [%d][%d]: %v", r, c, err),
				}
			}
			if bv.dae != nil {
				// No deferred streaming inside a table parameter; pack
				// the payload inline instead.
				bv.buf = bv.dae
				bv.bufLen = SQLLEN(len(bv.dae))
				bv.ind = SQLLEN(len(bv.dae))
				bv.dae = nil
			}
			cells[c][r] = bv
		}
	}

	wideName, err := wideUTF16Bytes(tp.TypeName)
	if err != nil {
		return nil, err
	}
	tvp := &tvpBinding{
		typeName: wideName,
		rowCount: SQLLEN(len(tp.Rows)),
		cols:     make([]tvpColumn, width),
	}
	for c := 0; c < width; c++ {
		col, err := packColumn(cells[c], c)
		if err != nil {
			return nil, err
		}
		tvp.cols[c] = col
	}
	return tvp, nil
}

// packColumn lays a column's cells into one stride-packed array with a
// parallel indicator array, the column-wise layout the engine reads for
// table parameters.
func packColumn(cells []*boundValue, colIndex int) (tvpColumn, error) {
	col := tvpColumn{inds: make([]SQLLEN, len(cells))}
	for r, bv := range cells {
		if bv.ind == SQL_NULL_DATA {
			col.inds[r] = SQL_NULL_DATA
			continue
		}
		if col.ctype == 0 {
			col.ctype = bv.ctype
			col.sqltype = bv.sqltype
			col.colSize = bv.colSize
			col.decDigits = bv.decDigits
		} else if col.ctype != bv.ctype {
			return tvpColumn{}, &TypeError{
				Value:  nil,
				Reason: fmt.Sprintf("table parameter column %d mixes incompatible value types", colIndex),
			}
		}
		if bv.colSize > col.colSize {
			col.colSize = bv.colSize
		}
		_, n := bufferPtr(bv.buf)
		if bv.bufLen > n {
			n = bv.bufLen
		}
		if n > col.stride {
			col.stride = n
		}
	}
	if col.ctype == 0 {
		// Entirely NULL column: a minimal character binding suffices.
		col.ctype = SQL_C_CHAR
		col.sqltype = SQL_VARCHAR
		col.colSize = 1
	}
	if col.stride == 0 {
		col.stride = 1
	}
	if col.colSize == 0 {
		col.colSize = 1
	}
	col.data = make([]byte, int(col.stride)*len(cells))
	for r, bv := range cells {
		if bv.ind == SQL_NULL_DATA {
			continue
		}
		col.inds[r] = bv.ind
		ptr, n := bufferPtr(bv.buf)
		if bv.bufLen != 0 && bv.bufLen < n {
			n = bv.bufLen
		}
		if ptr == 0 || n == 0 {
			continue
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(n))
		copy(col.data[r*int(col.stride):], src)
	}
	return col, nil
}

// bindTable binds a marshaled table parameter: the outer SQL_SS_TABLE
// binding, the type name on the implementation parameter descriptor,
// then each column bound under parameter focus.
func (b *paramBinder) bindTable(stmt SQLHSTMT, i int, bv *boundValue) error {
	tvp := bv.tvp
	num := SQLUSMALLINT(i + 1)
	ind := new(SQLLEN)
	*ind = tvp.rowCount

	ret := bindParameter(stmt, num, SQL_PARAM_INPUT, SQL_C_DEFAULT, SQL_SS_TABLE,
		SQLULEN(tvp.rowCount), 0, 0, 0, ind)
	if !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}

	var ipd uintptr
	if r := getStmtAttr(stmt, SQL_ATTR_IMP_PARAM_DESC, &ipd); !IsSuccess(r) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}
	r := setDescField(SQLHDESC(ipd), SQLSMALLINT(num), SQL_CA_SS_TYPE_NAME,
		uintptr(unsafe.Pointer(&tvp.typeName[0])), SQL_NTS)
	if !IsSuccess(r) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}

	if tvp.rowCount == 0 {
		b.bound = append(b.bound, bv)
		b.inds = append(b.inds, ind)
		return nil
	}

	// Focus shifts subsequent parameter binds into the table's columns.
	if r := setStmtAttr(stmt, SQL_SOPT_SS_PARAM_FOCUS, uintptr(num)); !IsSuccess(r) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}
	defer setStmtAttr(stmt, SQL_SOPT_SS_PARAM_FOCUS, 0)

	// Paramset size applies only to the focused column binds; restore
	// the default so later executes on this handle stay single-set.
	if r := setStmtAttr(stmt, SQL_ATTR_PARAMSET_SIZE, uintptr(tvp.rowCount)); !IsSuccess(r) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
	}
	defer setStmtAttr(stmt, SQL_ATTR_PARAMSET_SIZE, 1)
	for c := range tvp.cols {
		col := &tvp.cols[c]
		var dataPtr uintptr
		if len(col.data) > 0 {
			dataPtr = uintptr(unsafe.Pointer(&col.data[0]))
		}
		r := bindParameter(stmt, SQLUSMALLINT(c+1), SQL_PARAM_INPUT, col.ctype,
			col.sqltype, col.colSize, col.decDigits, dataPtr, col.stride, &col.inds[0])
		if !IsSuccess(r) {
			return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(stmt))
		}
	}

	b.bound = append(b.bound, bv)
	b.inds = append(b.inds, ind)
	return nil
}

// wideUTF16Bytes encodes s as null-terminated UTF-16LE.
func wideUTF16Bytes(s string) ([]byte, error) {
	enc := wideUTF16.NewEncoder()
	raw, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, &TypeError{Value: s, Reason: "string is not encodable as UTF-16"}
	}
	return append(raw, 0, 0), nil
}
