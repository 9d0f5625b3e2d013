package odbx

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"testing"
	"unsafe"
)

// The tests in this package run against an in-process fake engine that
// stands in for the driver manager: the package-level sql* function
// vars are swapped for methods on fakeEngine, which emulates handle
// allocation, prepared-statement scripts, chunked SQLGetData with
// truncation diagnostics, multiple result sets, data-at-execution, and
// transaction completion.

type fakeDiag struct {
	state  string
	native SQLINTEGER
	msg    string
}

type fakeCol struct {
	name     string
	sqlType  SQLSMALLINT
	size     SQLULEN
	dec      SQLSMALLINT
	nullable bool
}

// fakeCell is one column value in wire form: the raw bytes SQLGetData
// serves for whatever C type the caller requests.
type fakeCell struct {
	raw  []byte
	null bool
}

func cellNull() fakeCell          { return fakeCell{null: true} }
func cellStr(s string) fakeCell   { return fakeCell{raw: []byte(s)} }
func cellBytes(b []byte) fakeCell { return fakeCell{raw: b} }

func cellInt64(v int64) fakeCell {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, uint64(v))
	return fakeCell{raw: raw}
}

func cellFloat64(v float64) fakeCell {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, math.Float64bits(v))
	return fakeCell{raw: raw}
}

func cellBool(v bool) fakeCell {
	if v {
		return fakeCell{raw: []byte{1}}
	}
	return fakeCell{raw: []byte{0}}
}

func cellWide(s string) fakeCell {
	raw, err := wideUTF16Bytes(s)
	if err != nil {
		panic(err)
	}
	return fakeCell{raw: raw[:len(raw)-2]} // strip terminator
}

type fakeResultSet struct {
	cols []fakeCol
	rows [][]fakeCell
}

type paramDesc struct {
	sqlType SQLSMALLINT
	size    SQLULEN
	dec     SQLSMALLINT
}

// fakeScript is the engine-side behavior of one statement text.
type fakeScript struct {
	sets     []fakeResultSet
	rowcount SQLLEN // reported when the statement produces no columns

	execRet   SQLRETURN // 0 means SQL_SUCCESS
	execDiags []fakeDiag
	doneDiags []fakeDiag // posted when fetch reports the end of the rows

	paramTypes []paramDesc // served by SQLDescribeParam
}

// capturedParam is what the fake observed bound at execute time.
type capturedParam struct {
	ctype     SQLSMALLINT
	sqltype   SQLSMALLINT
	colSize   SQLULEN
	decDigits SQLSMALLINT
	ind       SQLLEN
	null      bool
	data      []byte
	dae       bool
}

type fakeBinding struct {
	ctype     SQLSMALLINT
	sqltype   SQLSMALLINT
	colSize   SQLULEN
	decDigits SQLSMALLINT
	value     uintptr
	bufLen    SQLLEN
	indPtr    *SQLLEN
}

type executedStmt struct {
	query  string
	params []capturedParam
}

type fakeStmt struct {
	query    string
	bindings map[SQLUSMALLINT]*fakeBinding // focus 0 only
	tvpCols  map[uintptr]map[SQLUSMALLINT]*fakeBinding

	setIdx  int
	rowIdx  int
	offsets map[int]int
	done    map[int]bool

	attrs    map[SQLINTEGER]uintptr
	diags    []fakeDiag
	endDiags bool // doneDiags already posted for the current set

	daeTokens []uintptr
	daePos    int
	daeData   map[uintptr][]byte
	needData  bool
}

type fakeEngine struct {
	mu         sync.Mutex
	nextHandle SQLHANDLE
	scripts    map[string]*fakeScript
	stmts      map[SQLHSTMT]*fakeStmt

	connected   bool
	connDiags   []fakeDiag
	connectFail bool
	connAttrs   map[SQLINTEGER]uintptr

	commits   int
	rollbacks int
	cancels   int

	descTypeNames map[uintptr]string
	executed      []executedStmt
	putChunks     []int // byte length of each SQLPutData call
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextHandle:    100,
		scripts:       make(map[string]*fakeScript),
		stmts:         make(map[SQLHSTMT]*fakeStmt),
		connAttrs:     make(map[SQLINTEGER]uintptr),
		descTypeNames: make(map[uintptr]string),
	}
}

func (fe *fakeEngine) script(query string, s *fakeScript) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.scripts[query] = s
}

// singleSet is shorthand for a one-result-set script.
func (fe *fakeEngine) singleSet(query string, cols []fakeCol, rows [][]fakeCell) {
	fe.script(query, &fakeScript{sets: []fakeResultSet{{cols: cols, rows: rows}}, rowcount: -1})
}

func (fe *fakeEngine) lastExecuted() executedStmt {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.executed) == 0 {
		return executedStmt{}
	}
	return fe.executed[len(fe.executed)-1]
}

// install swaps the package function vars for the fake and restores
// them when the test finishes. The loader Once is consumed so Connect
// never touches a real library.
func (fe *fakeEngine) install(t *testing.T) {
	t.Helper()
	initOnce.Do(func() {})

	savedAlloc, savedFree := sqlAllocHandle, sqlFreeHandle
	savedEnvAttr, savedConnect, savedDisconnect := sqlSetEnvAttr, sqlDriverConnect, sqlDisconnect
	savedConnAttr, savedGetInfo := sqlSetConnectAttr, sqlGetInfo
	savedExecDirect, savedPrepare, savedExecute := sqlExecDirect, sqlPrepare, sqlExecute
	savedNumCols, savedDescCol, savedBind := sqlNumResultCols, sqlDescribeCol, sqlBindParameter
	savedFetch, savedGetData, savedRowCount := sqlFetch, sqlGetData, sqlRowCount
	savedNumParams, savedDescParam, savedDiag := sqlNumParams, sqlDescribeParam, sqlGetDiagRec
	savedEndTran, savedCloseCur, savedCancel := sqlEndTran, sqlCloseCursor, sqlCancel
	savedFreeStmt, savedMore := sqlFreeStmt, sqlMoreResults
	savedSetStmt, savedGetStmt := sqlSetStmtAttr, sqlGetStmtAttr
	savedParamData, savedPutData, savedSetDesc := sqlParamData, sqlPutData, sqlSetDescField
	t.Cleanup(func() {
		sqlAllocHandle, sqlFreeHandle = savedAlloc, savedFree
		sqlSetEnvAttr, sqlDriverConnect, sqlDisconnect = savedEnvAttr, savedConnect, savedDisconnect
		sqlSetConnectAttr, sqlGetInfo = savedConnAttr, savedGetInfo
		sqlExecDirect, sqlPrepare, sqlExecute = savedExecDirect, savedPrepare, savedExecute
		sqlNumResultCols, sqlDescribeCol, sqlBindParameter = savedNumCols, savedDescCol, savedBind
		sqlFetch, sqlGetData, sqlRowCount = savedFetch, savedGetData, savedRowCount
		sqlNumParams, sqlDescribeParam, sqlGetDiagRec = savedNumParams, savedDescParam, savedDiag
		sqlEndTran, sqlCloseCursor, sqlCancel = savedEndTran, savedCloseCur, savedCancel
		sqlFreeStmt, sqlMoreResults = savedFreeStmt, savedMore
		sqlSetStmtAttr, sqlGetStmtAttr = savedSetStmt, savedGetStmt
		sqlParamData, sqlPutData, sqlSetDescField = savedParamData, savedPutData, savedSetDesc
	})

	sqlAllocHandle = fe.allocHandle
	sqlFreeHandle = fe.freeHandle
	sqlSetEnvAttr = func(SQLHENV, SQLINTEGER, uintptr, SQLINTEGER) SQLRETURN { return SQL_SUCCESS }
	sqlDriverConnect = fe.driverConnect
	sqlDisconnect = func(SQLHDBC) SQLRETURN { return SQL_SUCCESS }
	sqlSetConnectAttr = fe.setConnectAttr
	sqlGetInfo = fe.getInfo
	sqlExecDirect = func(stmt SQLHSTMT, text *byte, _ SQLINTEGER) SQLRETURN {
		if ret := fe.prepare(stmt, text, 0); !IsSuccess(ret) {
			return ret
		}
		return fe.execute(stmt)
	}
	sqlPrepare = fe.prepare
	sqlExecute = fe.execute
	sqlNumResultCols = fe.numResultCols
	sqlDescribeCol = fe.describeCol
	sqlBindParameter = fe.bindParameter
	sqlFetch = fe.fetch
	sqlGetData = fe.getData
	sqlRowCount = fe.rowCount
	sqlNumParams = func(SQLHSTMT, *SQLSMALLINT) SQLRETURN { return SQL_SUCCESS }
	sqlDescribeParam = fe.describeParam
	sqlGetDiagRec = fe.getDiagRec
	sqlEndTran = fe.endTran
	sqlCloseCursor = fe.closeCursor
	sqlCancel = func(SQLHSTMT) SQLRETURN { fe.mu.Lock(); fe.cancels++; fe.mu.Unlock(); return SQL_SUCCESS }
	sqlFreeStmt = fe.freeStmt
	sqlMoreResults = fe.moreResults
	sqlSetStmtAttr = fe.setStmtAttr
	sqlGetStmtAttr = fe.getStmtAttr
	sqlParamData = fe.paramData
	sqlPutData = fe.putData
	sqlSetDescField = fe.setDescField
}

func (fe *fakeEngine) allocHandle(handleType SQLSMALLINT, _ SQLHANDLE, out *SQLHANDLE) SQLRETURN {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.nextHandle++
	*out = fe.nextHandle
	if handleType == SQL_HANDLE_STMT {
		fe.stmts[SQLHSTMT(fe.nextHandle)] = &fakeStmt{
			bindings: make(map[SQLUSMALLINT]*fakeBinding),
			tvpCols:  make(map[uintptr]map[SQLUSMALLINT]*fakeBinding),
			offsets:  make(map[int]int),
			done:     make(map[int]bool),
			attrs:    make(map[SQLINTEGER]uintptr),
			daeData:  make(map[uintptr][]byte),
		}
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) freeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if handleType == SQL_HANDLE_STMT {
		delete(fe.stmts, SQLHSTMT(handle))
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) driverConnect(_ SQLHDBC, _ uintptr, _ *byte, _ SQLSMALLINT, _ *byte, _ SQLSMALLINT, _ *SQLSMALLINT, _ SQLUSMALLINT) SQLRETURN {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.connectFail {
		fe.connDiags = []fakeDiag{{state: "08001", native: 17, msg: "login failed"}}
		return SQL_ERROR
	}
	fe.connected = true
	return SQL_SUCCESS
}

func (fe *fakeEngine) setConnectAttr(_ SQLHDBC, attr SQLINTEGER, value uintptr, _ SQLINTEGER) SQLRETURN {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.connAttrs[attr] = value
	return SQL_SUCCESS
}

func (fe *fakeEngine) getInfo(_ SQLHDBC, _ SQLUSMALLINT, value uintptr, _ SQLSMALLINT, strLen *SQLSMALLINT) SQLRETURN {
	name := "FakeDB"
	dst := unsafe.Slice((*byte)(unsafe.Pointer(value)), len(name))
	copy(dst, name)
	*strLen = SQLSMALLINT(len(name))
	return SQL_SUCCESS
}

func (fe *fakeEngine) stmt(h SQLHSTMT) *fakeStmt {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.stmts[h]
}

func (fe *fakeEngine) scriptFor(query string) *fakeScript {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.scripts[query]
}

func cString(p *byte) string {
	var sb strings.Builder
	for ptr := uintptr(unsafe.Pointer(p)); ; ptr++ {
		c := *(*byte)(unsafe.Pointer(ptr))
		if c == 0 {
			return sb.String()
		}
		sb.WriteByte(c)
	}
}

func (fe *fakeEngine) prepare(h SQLHSTMT, text *byte, _ SQLINTEGER) SQLRETURN {
	st := fe.stmt(h)
	st.query = cString(text)
	st.diags = nil
	return SQL_SUCCESS
}

func (fe *fakeEngine) bindParameter(h SQLHSTMT, num SQLUSMALLINT, _ SQLSMALLINT, ctype SQLSMALLINT, sqltype SQLSMALLINT, colSize SQLULEN, dec SQLSMALLINT, value uintptr, bufLen SQLLEN, ind *SQLLEN) SQLRETURN {
	st := fe.stmt(h)
	b := &fakeBinding{ctype: ctype, sqltype: sqltype, colSize: colSize, decDigits: dec, value: value, bufLen: bufLen, indPtr: ind}
	focus := st.attrs[SQL_SOPT_SS_PARAM_FOCUS]
	if focus != 0 {
		if st.tvpCols[focus] == nil {
			st.tvpCols[focus] = make(map[SQLUSMALLINT]*fakeBinding)
		}
		st.tvpCols[focus][num] = b
		return SQL_SUCCESS
	}
	st.bindings[num] = b
	return SQL_SUCCESS
}

func (fe *fakeEngine) execute(h SQLHSTMT) SQLRETURN {
	st := fe.stmt(h)
	script := fe.scriptFor(st.query)
	st.setIdx = 0
	st.rowIdx = 0
	st.offsets = make(map[int]int)
	st.done = make(map[int]bool)
	st.diags = nil
	st.endDiags = false
	st.daeTokens = nil
	st.daePos = 0
	st.daeData = make(map[uintptr][]byte)
	st.needData = false

	// Deferred parameters postpone capture until the put loop ends.
	for num := SQLUSMALLINT(1); int(num) <= len(st.bindings); num++ {
		b := st.bindings[num]
		if b == nil {
			continue
		}
		if b.indPtr != nil && *b.indPtr <= SQL_LEN_DATA_AT_EXEC_OFFSET {
			st.daeTokens = append(st.daeTokens, b.value)
		}
	}
	if len(st.daeTokens) > 0 {
		st.needData = true
		return SQL_NEED_DATA
	}
	return fe.finishExecute(st, script)
}

func (fe *fakeEngine) finishExecute(st *fakeStmt, script *fakeScript) SQLRETURN {
	params := make([]capturedParam, 0, len(st.bindings))
	for num := SQLUSMALLINT(1); int(num) <= len(st.bindings); num++ {
		b := st.bindings[num]
		if b == nil {
			continue
		}
		p := capturedParam{ctype: b.ctype, sqltype: b.sqltype, colSize: b.colSize, decDigits: b.decDigits}
		if b.indPtr != nil {
			p.ind = *b.indPtr
		}
		switch {
		case p.ind == SQL_NULL_DATA:
			p.null = true
		case p.ind <= SQL_LEN_DATA_AT_EXEC_OFFSET:
			p.dae = true
			p.data = st.daeData[b.value]
		default:
			n := p.ind
			if n < 0 || (b.bufLen > 0 && n > b.bufLen) {
				n = b.bufLen
			}
			if b.value != 0 && n > 0 {
				src := unsafe.Slice((*byte)(unsafe.Pointer(b.value)), int(n))
				p.data = append([]byte(nil), src...)
			}
		}
		params = append(params, p)
	}

	fe.mu.Lock()
	fe.executed = append(fe.executed, executedStmt{query: st.query, params: params})
	fe.mu.Unlock()

	if script == nil {
		st.diags = []fakeDiag{{state: "42000", native: 102, msg: "could not prepare statement"}}
		return SQL_ERROR
	}
	if script.execRet != 0 && script.execRet != SQL_SUCCESS {
		st.diags = script.execDiags
		return script.execRet
	}
	st.diags = script.execDiags
	return SQL_SUCCESS
}

func (fe *fakeEngine) paramData(h SQLHSTMT, token *uintptr) SQLRETURN {
	st := fe.stmt(h)
	if st.daePos < len(st.daeTokens) {
		*token = st.daeTokens[st.daePos]
		st.daePos++
		return SQL_NEED_DATA
	}
	st.needData = false
	return fe.finishExecute(st, fe.scriptFor(st.query))
}

func (fe *fakeEngine) putData(h SQLHSTMT, data uintptr, strLenOrInd SQLLEN) SQLRETURN {
	st := fe.stmt(h)
	if st.daePos == 0 {
		return SQL_ERROR
	}
	token := st.daeTokens[st.daePos-1]
	fe.mu.Lock()
	fe.putChunks = append(fe.putChunks, int(strLenOrInd))
	fe.mu.Unlock()
	if data != 0 && strLenOrInd > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(data)), int(strLenOrInd))
		st.daeData[token] = append(st.daeData[token], src...)
	} else if _, seen := st.daeData[token]; !seen {
		st.daeData[token] = []byte{}
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) currentSet(st *fakeStmt) *fakeResultSet {
	script := fe.scriptFor(st.query)
	if script == nil || st.setIdx >= len(script.sets) {
		return nil
	}
	return &script.sets[st.setIdx]
}

func (fe *fakeEngine) numResultCols(h SQLHSTMT, count *SQLSMALLINT) SQLRETURN {
	st := fe.stmt(h)
	set := fe.currentSet(st)
	if set == nil {
		*count = 0
	} else {
		*count = SQLSMALLINT(len(set.cols))
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) describeCol(h SQLHSTMT, num SQLUSMALLINT, name *byte, bufLen SQLSMALLINT, nameLen *SQLSMALLINT, dataType *SQLSMALLINT, colSize *SQLULEN, dec *SQLSMALLINT, nullable *SQLSMALLINT) SQLRETURN {
	st := fe.stmt(h)
	set := fe.currentSet(st)
	if set == nil || int(num) > len(set.cols) {
		return SQL_ERROR
	}
	col := set.cols[num-1]
	dst := unsafe.Slice(name, int(bufLen))
	n := copy(dst, col.name)
	*nameLen = SQLSMALLINT(n)
	*dataType = col.sqlType
	*colSize = col.size
	*dec = col.dec
	if col.nullable {
		*nullable = SQL_NULLABLE
	} else {
		*nullable = SQL_NO_NULLS
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) fetch(h SQLHSTMT) SQLRETURN {
	st := fe.stmt(h)
	set := fe.currentSet(st)
	if set == nil || st.rowIdx >= len(set.rows) {
		if script := fe.scriptFor(st.query); script != nil && !st.endDiags {
			st.diags = append(st.diags, script.doneDiags...)
			st.endDiags = true
		}
		return SQL_NO_DATA
	}
	st.rowIdx++
	st.offsets = make(map[int]int)
	st.done = make(map[int]bool)
	st.diags = nil
	return SQL_SUCCESS
}

// getData serves the current row's column bytes with real truncation
// semantics: character targets lose one (or two) buffer bytes to the
// terminator, a partial read returns SQL_SUCCESS_WITH_INFO with state
// 01004 and the indicator holding the bytes remaining before the call,
// and a read past the end returns SQL_NO_DATA.
func (fe *fakeEngine) getData(h SQLHSTMT, num SQLUSMALLINT, targetType SQLSMALLINT, value uintptr, bufLen SQLLEN, ind *SQLLEN) SQLRETURN {
	st := fe.stmt(h)
	set := fe.currentSet(st)
	if set == nil || st.rowIdx == 0 || st.rowIdx > len(set.rows) {
		return SQL_ERROR
	}
	cell := set.rows[st.rowIdx-1][num-1]
	if cell.null {
		*ind = SQL_NULL_DATA
		return SQL_SUCCESS
	}
	col := int(num)
	if st.done[col] {
		return SQL_NO_DATA
	}

	term := SQLLEN(0)
	switch targetType {
	case SQL_C_CHAR:
		term = 1
	case SQL_C_WCHAR:
		term = 2
	}

	remaining := SQLLEN(len(cell.raw) - st.offsets[col])
	avail := bufLen - term
	if avail < 0 {
		avail = 0
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(value)), int(bufLen))
	if remaining > avail {
		copy(dst, cell.raw[st.offsets[col]:st.offsets[col]+int(avail)])
		*ind = remaining
		st.offsets[col] += int(avail)
		st.diags = append(st.diags, fakeDiag{state: "01004", native: 0, msg: "string data, right truncated"})
		return SQL_SUCCESS_WITH_INFO
	}
	copy(dst, cell.raw[st.offsets[col]:])
	*ind = remaining
	st.offsets[col] = len(cell.raw)
	st.done[col] = true
	return SQL_SUCCESS
}

func (fe *fakeEngine) rowCount(h SQLHSTMT, count *SQLLEN) SQLRETURN {
	st := fe.stmt(h)
	script := fe.scriptFor(st.query)
	if script == nil {
		*count = -1
	} else {
		*count = script.rowcount
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) describeParam(h SQLHSTMT, num SQLUSMALLINT, dataType *SQLSMALLINT, size *SQLULEN, dec *SQLSMALLINT, nullable *SQLSMALLINT) SQLRETURN {
	st := fe.stmt(h)
	script := fe.scriptFor(st.query)
	if script == nil || int(num) > len(script.paramTypes) {
		return SQL_ERROR
	}
	p := script.paramTypes[num-1]
	*dataType = p.sqlType
	*size = p.size
	*dec = p.dec
	*nullable = SQL_NULLABLE
	return SQL_SUCCESS
}

func (fe *fakeEngine) getDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, recNum SQLSMALLINT, state *byte, native *SQLINTEGER, msg *byte, msgBufLen SQLSMALLINT, msgLen *SQLSMALLINT) SQLRETURN {
	var diags []fakeDiag
	if handleType == SQL_HANDLE_STMT {
		if st := fe.stmt(SQLHSTMT(handle)); st != nil {
			diags = st.diags
		}
	} else {
		fe.mu.Lock()
		diags = fe.connDiags
		fe.mu.Unlock()
	}
	if int(recNum) > len(diags) {
		return SQL_NO_DATA
	}
	d := diags[recNum-1]
	stateDst := unsafe.Slice(state, 5)
	copy(stateDst, d.state)
	*native = d.native
	msgDst := unsafe.Slice(msg, int(msgBufLen))
	n := copy(msgDst, d.msg)
	*msgLen = SQLSMALLINT(n)
	return SQL_SUCCESS
}

func (fe *fakeEngine) endTran(_ SQLSMALLINT, _ SQLHANDLE, completion SQLSMALLINT) SQLRETURN {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if completion == SQL_COMMIT {
		fe.commits++
	} else {
		fe.rollbacks++
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) closeCursor(h SQLHSTMT) SQLRETURN {
	st := fe.stmt(h)
	st.setIdx = 0
	st.rowIdx = 0
	st.offsets = make(map[int]int)
	st.done = make(map[int]bool)
	return SQL_SUCCESS
}

func (fe *fakeEngine) freeStmt(h SQLHSTMT, option SQLUSMALLINT) SQLRETURN {
	st := fe.stmt(h)
	if st != nil && option == SQL_RESET_PARAMS {
		st.bindings = make(map[SQLUSMALLINT]*fakeBinding)
		st.tvpCols = make(map[uintptr]map[SQLUSMALLINT]*fakeBinding)
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) moreResults(h SQLHSTMT) SQLRETURN {
	st := fe.stmt(h)
	script := fe.scriptFor(st.query)
	st.setIdx++
	st.rowIdx = 0
	st.offsets = make(map[int]int)
	st.done = make(map[int]bool)
	st.diags = nil
	st.endDiags = false
	if script == nil || st.setIdx >= len(script.sets) {
		return SQL_NO_DATA
	}
	return SQL_SUCCESS
}

func (fe *fakeEngine) setStmtAttr(h SQLHSTMT, attr SQLINTEGER, value uintptr, _ SQLINTEGER) SQLRETURN {
	st := fe.stmt(h)
	st.attrs[attr] = value
	return SQL_SUCCESS
}

func (fe *fakeEngine) getStmtAttr(h SQLHSTMT, attr SQLINTEGER, value uintptr, _ SQLINTEGER, _ *SQLINTEGER) SQLRETURN {
	if attr == SQL_ATTR_IMP_PARAM_DESC {
		// A synthetic descriptor handle derived from the statement.
		*(*uintptr)(unsafe.Pointer(value)) = uintptr(h) + 10000
		return SQL_SUCCESS
	}
	st := fe.stmt(h)
	*(*uintptr)(unsafe.Pointer(value)) = st.attrs[attr]
	return SQL_SUCCESS
}

func (fe *fakeEngine) setDescField(desc SQLHDESC, _ SQLSMALLINT, fieldID SQLSMALLINT, value uintptr, _ SQLINTEGER) SQLRETURN {
	if fieldID == SQL_CA_SS_TYPE_NAME {
		fe.mu.Lock()
		fe.descTypeNames[uintptr(desc)] = wideCString(value)
		fe.mu.Unlock()
	}
	return SQL_SUCCESS
}

// wideCString reads a null-terminated UTF-16LE string from native
// memory.
func wideCString(ptr uintptr) string {
	var units []uint16
	for ; ; ptr += 2 {
		u := *(*uint16)(unsafe.Pointer(ptr))
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	raw := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[2*i:], u)
	}
	s, err := textCodecs{}.decodeWide(raw)
	if err != nil {
		return ""
	}
	return s
}

// newFakeConn installs fe and opens a connection through it.
func newFakeConn(t *testing.T, fe *fakeEngine, cfg Config) *Conn {
	t.Helper()
	fe.install(t)
	if cfg.ConnString == "" {
		cfg.ConnString = "DSN=fake"
	}
	conn, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
