package odbx

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Config describes a connection. ConnString is the full ODBC connection
// string; everything else is session configuration.
type Config struct {
	ConnString string

	// Autocommit enables per-statement commit. When false (the
	// default) statements join a transaction the caller ends with
	// Commit or Rollback.
	Autocommit bool

	// LoginTimeout and QueryTimeout are in seconds; 0 means no limit.
	// QueryTimeout applies to cursors created after the value is set.
	LoginTimeout int
	QueryTimeout int

	// Encoding and WideEncoding select the text codecs for the narrow
	// and wide character classes. Empty means UTF-8 and UTF-16LE.
	// Names resolve through the IANA registry ("latin1", "cp1252",
	// "utf-8", ...).
	Encoding     string
	WideEncoding string

	// NativeUUID decodes GUID columns as uuid.UUID instead of their
	// upper-case string form.
	NativeUUID bool

	// LowercaseColumns folds described column names to lower case.
	// Set it before creating cursors; a cursor's result set is
	// described with the value current at execute time.
	LowercaseColumns bool

	Logger *slog.Logger
}

// Conn is a connection session: one native connection handle plus the
// configuration every cursor created from it shares by reference.
// Changing a setting on the Conn is visible to live cursors on their
// next decode.
type Conn struct {
	mu     sync.Mutex
	env    SQLHENV
	dbc    SQLHDBC
	closed bool

	autocommit   bool
	queryTimeout int
	nativeUUID   bool
	lowercase    bool
	codecs       textCodecs
	converters   map[SQLSMALLINT]OutputConverter
	cursors      map[*Cursor]struct{}

	marshaler *typeMarshaler
	logger    *slog.Logger
}

// Connect opens a connection described by cfg.
func Connect(cfg Config) (*Conn, error) {
	if err := initDriver(); err != nil {
		return nil, err
	}

	codecs, err := newTextCodecs(cfg.Encoding, cfg.WideEncoding)
	if err != nil {
		return nil, err
	}

	var env SQLHANDLE
	if ret := allocHandle(SQL_HANDLE_ENV, SQL_NULL_HANDLE, &env); !IsSuccess(ret) {
		return nil, &Error{SQLState: SQLStateGeneralError, Message: "failed to allocate environment handle"}
	}
	if ret := setEnvAttr(SQLHENV(env), SQL_ATTR_ODBC_VERSION, SQL_OV_ODBC3); !IsSuccess(ret) {
		freeHandle(SQL_HANDLE_ENV, env)
		return nil, newHandleError(SQL_HANDLE_ENV, env)
	}

	var dbc SQLHANDLE
	if ret := allocHandle(SQL_HANDLE_DBC, env, &dbc); !IsSuccess(ret) {
		err := newHandleError(SQL_HANDLE_ENV, env)
		freeHandle(SQL_HANDLE_ENV, env)
		return nil, err
	}
	if cfg.LoginTimeout > 0 {
		setConnectAttr(SQLHDBC(dbc), SQL_ATTR_LOGIN_TIMEOUT, uintptr(cfg.LoginTimeout))
	}
	if ret := driverConnect(SQLHDBC(dbc), cfg.ConnString); !IsSuccess(ret) {
		err := newHandleError(SQL_HANDLE_DBC, dbc)
		freeHandle(SQL_HANDLE_DBC, dbc)
		freeHandle(SQL_HANDLE_ENV, env)
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Conn{
		env:          SQLHENV(env),
		dbc:          SQLHDBC(dbc),
		autocommit:   cfg.Autocommit,
		queryTimeout: cfg.QueryTimeout,
		nativeUUID:   cfg.NativeUUID,
		lowercase:    cfg.LowercaseColumns,
		codecs:       codecs,
		converters:   make(map[SQLSMALLINT]OutputConverter),
		cursors:      make(map[*Cursor]struct{}),
		logger:       logger,
	}
	c.marshaler = &typeMarshaler{
		codecs:     c.currentCodecs,
		nativeUUID: c.NativeUUID,
	}
	if err := c.applyAutocommit(cfg.Autocommit); err != nil {
		c.teardown()
		return nil, err
	}
	c.logger.Debug("connected", "autocommit", cfg.Autocommit)
	return c, nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) currentCodecs() textCodecs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codecs
}

func (c *Conn) lowercaseColumns() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lowercase
}

func (c *Conn) applyAutocommit(on bool) error {
	value := uintptr(SQL_AUTOCOMMIT_OFF)
	if on {
		value = SQL_AUTOCOMMIT_ON
	}
	if ret := setConnectAttr(c.dbc, SQL_ATTR_AUTOCOMMIT, value); !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	return nil
}

// Cursor creates a statement session on this connection. The cursor
// shares the connection's codecs, converters, and decode modes by
// reference.
func (c *Conn) Cursor() (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	var stmt SQLHANDLE
	if ret := allocHandle(SQL_HANDLE_STMT, SQLHANDLE(c.dbc), &stmt); !IsSuccess(ret) {
		return nil, newHandleError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	if c.queryTimeout > 0 {
		setStmtAttr(SQLHSTMT(stmt), SQL_ATTR_QUERY_TIMEOUT, uintptr(c.queryTimeout))
	}
	cur := &Cursor{
		conn:     c,
		stmt:     SQLHSTMT(stmt),
		binder:   newParamBinder(c.marshaler),
		rowcount: -1,
	}
	c.cursors[cur] = struct{}{}
	return cur, nil
}

func (c *Conn) removeCursor(cur *Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, cur)
}

// Commit ends the current transaction, making its changes durable.
func (c *Conn) Commit() error {
	return c.endTran(SQL_COMMIT)
}

// Rollback ends the current transaction, discarding its changes.
func (c *Conn) Rollback() error {
	return c.endTran(SQL_ROLLBACK)
}

func (c *Conn) endTran(completion SQLSMALLINT) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if ret := endTran(SQL_HANDLE_DBC, SQLHANDLE(c.dbc), completion); !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	return nil
}

// Transact runs fn inside a transaction scope. A normal return commits;
// an error return or a panic rolls back (the panic is re-raised after
// the rollback). Autocommit is suspended for the scope and restored
// afterwards.
func (c *Conn) Transact(fn func(*Conn) error) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	wasAutocommit := c.autocommit
	c.mu.Unlock()

	if wasAutocommit {
		if err := c.SetAutocommit(false); err != nil {
			return err
		}
		defer func() {
			if rerr := c.SetAutocommit(true); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	done := false
	defer func() {
		if !done {
			// Reached by panic: roll back, then let it propagate.
			c.Rollback()
		}
	}()

	if err := fn(c); err != nil {
		done = true
		if rerr := c.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rerr)
		}
		return err
	}
	done = true
	return c.Commit()
}

// SetAutocommit switches per-statement commit on or off for subsequent
// statements.
func (c *Conn) SetAutocommit(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.applyAutocommit(on); err != nil {
		return err
	}
	c.autocommit = on
	return nil
}

// Autocommit reports whether per-statement commit is active.
func (c *Conn) Autocommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autocommit
}

// SetTimeout sets the statement timeout in seconds for cursors created
// afterwards and the connection-level timeout for subsequent
// operations. 0 disables the limit. An operation already in flight is
// unaffected.
func (c *Conn) SetTimeout(seconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if ret := setConnectAttr(c.dbc, SQL_ATTR_CONNECTION_TIMEOUT, uintptr(seconds)); !IsSuccess(ret) {
		return newHandleError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	c.queryTimeout = seconds
	return nil
}

// SetEncoding selects the codec for the narrow character class, by
// IANA name. Live cursors pick it up on their next encode or decode.
func (c *Conn) SetEncoding(name string) error {
	enc, err := resolveEncoding(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codecs.narrow = enc
	return nil
}

// SetWideEncoding selects the codec for the wide character class, by
// IANA name.
func (c *Conn) SetWideEncoding(name string) error {
	enc, err := resolveEncoding(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codecs.wide = enc
	return nil
}

// SetNativeUUID selects the decoded form of GUID columns: uuid.UUID
// when on, the upper-case string form when off. The mode is read at
// decode time, so it affects rows fetched after the change.
func (c *Conn) SetNativeUUID(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nativeUUID = on
}

// NativeUUID reports the current GUID decode mode.
func (c *Conn) NativeUUID() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nativeUUID
}

// AddOutputConverter registers fn to decode columns of the given native
// type code, replacing any previous converter for that code. A nil fn
// removes the registration.
func (c *Conn) AddOutputConverter(sqlType SQLSMALLINT, fn OutputConverter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.converters, sqlType)
		return
	}
	c.converters[sqlType] = fn
}

// GetOutputConverter returns the converter registered for the type
// code, if any.
func (c *Conn) GetOutputConverter(sqlType SQLSMALLINT) (OutputConverter, bool) {
	return c.getOutputConverter(sqlType)
}

func (c *Conn) getOutputConverter(sqlType SQLSMALLINT) (OutputConverter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn, ok := c.converters[sqlType]
	return fn, ok
}

// RemoveOutputConverter drops the converter for the type code.
// Removing an unregistered code is a no-op.
func (c *Conn) RemoveOutputConverter(sqlType SQLSMALLINT) {
	c.AddOutputConverter(sqlType, nil)
}

// ClearOutputConverters drops every registered converter, restoring
// default decoding for all types.
func (c *Conn) ClearOutputConverters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.converters = make(map[SQLSMALLINT]OutputConverter)
}

// GetInfo returns a string-valued driver or data source attribute, for
// example SQL_DBMS_NAME or SQL_DRIVER_NAME.
func (c *Conn) GetInfo(infoType SQLUSMALLINT) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrConnectionClosed
	}
	s, ret := getInfoString(c.dbc, infoType)
	if !IsSuccess(ret) {
		return "", newHandleError(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	}
	return s, nil
}

// Close releases every open cursor, disconnects, and frees the native
// handles. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	open := make([]*Cursor, 0, len(c.cursors))
	for cur := range c.cursors {
		open = append(open, cur)
	}
	c.mu.Unlock()

	for _, cur := range open {
		cur.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardown()
	c.logger.Debug("connection closed")
	return nil
}

func (c *Conn) teardown() {
	disconnect(c.dbc)
	freeHandle(SQL_HANDLE_DBC, SQLHANDLE(c.dbc))
	freeHandle(SQL_HANDLE_ENV, SQLHANDLE(c.env))
}
