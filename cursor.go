package odbx

import (
	"io"
	"sync"
	"sync/atomic"
)

type cursorState int

const (
	cursorIdle cursorState = iota
	cursorPrepared
	cursorExecuted
	cursorExhausted
)

// Cursor is a statement session: one native statement handle plus the
// execute/fetch state around it. A Cursor is safe for serialized use
// from multiple goroutines; the internal mutex guards the handle, which
// supports one in-flight native call at a time.
type Cursor struct {
	conn *Conn

	mu    sync.Mutex
	stmt  SQLHSTMT // set at creation, never reassigned
	state cursorState

	// closed is atomic so Cancel can check it without the mutex.
	closed atomic.Bool

	binder *paramBinder
	rs     *resultSet

	rowcount  int64
	messages  []Message
	lastQuery string
	noMore    bool

	// Arraysize is the default row count for FetchMany when called
	// with n <= 0.
	Arraysize int
}

func (c *Cursor) guard() error {
	if c.closed.Load() {
		return ErrCursorClosed
	}
	if c.conn.isClosed() {
		return ErrConnectionClosed
	}
	return nil
}

// drain collects the statement's pending informational diagnostics into
// the message list.
func (c *Cursor) drain() {
	diags := diagRecords(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
	c.messages = append(c.messages, infoMessages(diags)...)
}

// beginStatement resets per-execution state: messages, the row-count
// sentinel, and any open result set from the previous execution.
func (c *Cursor) beginStatement() {
	c.messages = nil
	c.rowcount = -1
	c.noMore = false
	if c.rs != nil || c.state == cursorExecuted || c.state == cursorExhausted {
		closeCursor(c.stmt)
		c.rs = nil
	}
}

func (c *Cursor) stmtError() error {
	c.state = cursorIdle
	return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
}

// prepareLocked prepares query unless it is already the statement's
// prepared text, in which case the handle is reused as-is.
func (c *Cursor) prepareLocked(query string) error {
	if query == c.lastQuery && c.state != cursorIdle {
		return nil
	}
	if ret := prepare(c.stmt, query); !IsSuccess(ret) {
		c.lastQuery = ""
		return c.stmtError()
	}
	c.lastQuery = query
	c.state = cursorPrepared
	c.drain()
	return nil
}

// runLocked executes the prepared statement, feeding any deferred
// parameters the engine asks for.
func (c *Cursor) runLocked() error {
	ret := execute(c.stmt)
	if ret == SQL_NEED_DATA {
		var err error
		ret, err = c.binder.feedDAE(c.stmt)
		if err != nil {
			c.state = cursorIdle
			return err
		}
	}
	// SQL_NO_DATA from execute means a searched update matched zero
	// rows, which is success.
	if !IsSuccess(ret) && ret != SQL_NO_DATA {
		return c.stmtError()
	}
	return nil
}

// describeLocked builds the reader for the new result set, or records
// the affected-row count when the statement produced none.
func (c *Cursor) describeLocked() error {
	rs := &resultSet{stmt: c.stmt, marshaler: c.conn.marshaler, converter: c.conn.getOutputConverter}
	if err := rs.describe(c.conn.lowercaseColumns()); err != nil {
		c.state = cursorIdle
		return err
	}
	if len(rs.cols) == 0 {
		c.rs = nil
		var n SQLLEN
		if ret := rowCount(c.stmt, &n); IsSuccess(ret) {
			c.rowcount = int64(n)
		}
		return nil
	}
	c.rs = rs
	c.rowcount = -1 // row-producing statements report the unknown sentinel
	return nil
}

// Execute prepares (if needed) and runs query with the given positional
// parameters. Any previous result set on this cursor is discarded.
func (c *Cursor) Execute(query string, params ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	c.beginStatement()
	if err := c.prepareLocked(query); err != nil {
		return err
	}
	if len(params) > 0 {
		if err := c.binder.bindAll(c.stmt, params); err != nil {
			return err
		}
	} else {
		c.binder.reset()
		freeStmt(c.stmt, SQL_RESET_PARAMS)
	}
	if err := c.runLocked(); err != nil {
		return err
	}
	c.drain()
	if err := c.describeLocked(); err != nil {
		return err
	}
	c.state = cursorExecuted
	cols := 0
	if c.rs != nil {
		cols = len(c.rs.cols)
	}
	c.conn.logger.Debug("statement executed", "rowcount", c.rowcount, "columns", cols)
	return nil
}

// ExecuteMany runs query once per parameter row. Every row is marshaled
// before the first execution, so a value no row can bind fails the
// whole batch without touching the engine. An engine-side failure
// mid-batch stops the batch and is reported with the failing row's
// index; rows already applied are not rolled back here.
func (c *Cursor) ExecuteMany(query string, rows [][]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	c.beginStatement()
	if err := c.prepareLocked(query); err != nil {
		return err
	}

	encoded := make([][]*boundValue, len(rows))
	for i, row := range rows {
		enc, err := c.binder.encodeAll(row)
		if err != nil {
			return &BatchError{Row: i, Err: err}
		}
		encoded[i] = enc
	}

	var total int64
	for i, enc := range encoded {
		if err := c.binder.bindEncoded(c.stmt, enc); err != nil {
			return &BatchError{Row: i, Err: err}
		}
		if err := c.runLocked(); err != nil {
			return &BatchError{Row: i, Err: err}
		}
		c.drain()
		var n SQLLEN
		if ret := rowCount(c.stmt, &n); IsSuccess(ret) && n > 0 {
			total += int64(n)
		}
		closeCursor(c.stmt)
	}
	c.rowcount = total
	c.rs = nil
	c.state = cursorExecuted
	c.conn.logger.Debug("batch executed", "rows", len(rows), "rowcount", total)
	return nil
}

// FetchOne returns the next row of the current result set, or io.EOF
// when the set is exhausted. Fetching with no result set available
// (after NextResultSet returned false, or after a statement that
// produced none) returns ErrNoActiveResult.
func (c *Cursor) FetchOne() (*Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchOneLocked()
}

func (c *Cursor) fetchOneLocked() (*Row, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.rs == nil {
		return nil, ErrNoActiveResult
	}
	row, err := c.rs.fetchRow()
	if err == io.EOF {
		c.state = cursorExhausted
		c.drain()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	c.drain()
	return row, nil
}

// FetchMany returns up to n rows. With n <= 0 it uses Arraysize
// (default 1). Fewer rows than requested, including zero, means the
// result set ended; that is not an error.
func (c *Cursor) FetchMany(n int) ([]*Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		n = c.Arraysize
		if n <= 0 {
			n = 1
		}
	}
	rows := make([]*Row, 0, n)
	for len(rows) < n {
		row, err := c.fetchOneLocked()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll returns every remaining row of the current result set.
func (c *Cursor) FetchAll() ([]*Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rows []*Row
	for {
		row, err := c.fetchOneLocked()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// FetchVal returns the first column of the next row, a convenience for
// single-value queries. io.EOF signals an empty result set.
func (c *Cursor) FetchVal() (interface{}, error) {
	row, err := c.FetchOne()
	if err != nil {
		return nil, err
	}
	return row.At(0), nil
}

// Skip advances past n rows of the current result set without decoding
// them. io.EOF reports fewer than n rows remained.
func (c *Cursor) Skip(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return err
	}
	if c.rs == nil {
		return ErrNoActiveResult
	}
	for i := 0; i < n; i++ {
		if err := c.rs.skip(); err != nil {
			if err == io.EOF {
				c.state = cursorExhausted
				c.drain()
			}
			return err
		}
	}
	c.drain()
	return nil
}

// NextResultSet advances to the statement's next result set. The final
// false is terminal: the message list is emptied, later fetches return
// ErrNoActiveResult, and further calls keep returning false.
func (c *Cursor) NextResultSet() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(); err != nil {
		return false, err
	}
	if c.noMore || c.state == cursorIdle || c.state == cursorPrepared {
		return false, nil
	}
	ret := moreResults(c.stmt)
	if ret == SQL_NO_DATA {
		c.noMore = true
		c.rs = nil
		c.messages = nil
		c.state = cursorExhausted
		return false, nil
	}
	if !IsSuccess(ret) {
		return false, c.stmtError()
	}
	c.messages = nil
	c.drain()
	if err := c.describeLocked(); err != nil {
		return false, err
	}
	c.state = cursorExecuted
	return true, nil
}

// RowCount returns the affected-row count of the last execution, or -1
// when the engine does not report one (row-producing statements).
func (c *Cursor) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowcount
}

// Description returns the column metadata of the current result set,
// nil when there is none. The slice is stable for the life of the
// result set.
func (c *Cursor) Description() []ColumnDesc {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rs == nil {
		return nil
	}
	return c.rs.cols
}

// Messages returns the informational diagnostics accumulated since the
// last execute or result-set advance.
func (c *Cursor) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// SetInputSizes installs explicit positional binding hints for
// subsequent executions, the DB-API setinputsizes equivalent. Calling
// it with no arguments clears the hints.
func (c *Cursor) SetInputSizes(hints ...TypeHint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binder.setHints(hints)
}

// Cancel requests cancellation of an in-flight operation on this
// cursor. Best-effort: the operation may complete normally before the
// request lands, and both outcomes are valid.
func (c *Cursor) Cancel() error {
	// Deliberately not acquiring the mutex: Cancel exists to interrupt
	// a call that is holding it. The statement handle is immutable, and
	// closed is atomic.
	if c.closed.Load() {
		return ErrCursorClosed
	}
	if ret := cancelStmt(c.stmt); !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
	}
	return nil
}

// Close releases the statement handle. Further operations on the
// cursor return ErrCursorClosed. Closing twice is a no-op.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)
	c.rs = nil
	c.binder.reset()
	if !c.conn.isClosed() {
		freeHandle(SQL_HANDLE_STMT, SQLHANDLE(c.stmt))
	}
	c.conn.removeCursor(c)
	return nil
}
