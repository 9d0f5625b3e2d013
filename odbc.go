package odbx

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	odbcLib  uintptr
	initOnce sync.Once
	initErr  error
)

// ODBC function pointers - populated by purego. Tests replace these with
// an in-process fake engine; production code must always call through
// the package-level vars so the substitution takes effect.
var (
	sqlAllocHandle    func(handleType SQLSMALLINT, inputHandle SQLHANDLE, outputHandle *SQLHANDLE) SQLRETURN
	sqlFreeHandle     func(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN
	sqlSetEnvAttr     func(env SQLHENV, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN
	sqlDriverConnect  func(dbc SQLHDBC, hwnd uintptr, inConnStr *byte, inConnStrLen SQLSMALLINT, outConnStr *byte, outConnStrMax SQLSMALLINT, outConnStrLen *SQLSMALLINT, driverCompletion SQLUSMALLINT) SQLRETURN
	sqlDisconnect     func(dbc SQLHDBC) SQLRETURN
	sqlSetConnectAttr func(dbc SQLHDBC, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN
	sqlGetInfo        func(dbc SQLHDBC, infoType SQLUSMALLINT, infoValue uintptr, bufferLength SQLSMALLINT, stringLength *SQLSMALLINT) SQLRETURN
	sqlExecDirect     func(stmt SQLHSTMT, stmtText *byte, textLength SQLINTEGER) SQLRETURN
	sqlPrepare        func(stmt SQLHSTMT, stmtText *byte, textLength SQLINTEGER) SQLRETURN
	sqlExecute        func(stmt SQLHSTMT) SQLRETURN
	sqlNumResultCols  func(stmt SQLHSTMT, columnCount *SQLSMALLINT) SQLRETURN
	sqlDescribeCol    func(stmt SQLHSTMT, colNum SQLUSMALLINT, colName *byte, bufferLen SQLSMALLINT, nameLen *SQLSMALLINT, dataType *SQLSMALLINT, colSize *SQLULEN, decDigits *SQLSMALLINT, nullable *SQLSMALLINT) SQLRETURN
	sqlBindParameter  func(stmt SQLHSTMT, paramNum SQLUSMALLINT, ioType SQLSMALLINT, valueType SQLSMALLINT, paramType SQLSMALLINT, colSize SQLULEN, decDigits SQLSMALLINT, paramValue uintptr, bufferLen SQLLEN, strLenOrInd *SQLLEN) SQLRETURN
	sqlFetch          func(stmt SQLHSTMT) SQLRETURN
	sqlGetData        func(stmt SQLHSTMT, colNum SQLUSMALLINT, targetType SQLSMALLINT, targetValue uintptr, bufferLen SQLLEN, strLenOrInd *SQLLEN) SQLRETURN
	sqlRowCount       func(stmt SQLHSTMT, rowCount *SQLLEN) SQLRETURN
	sqlNumParams      func(stmt SQLHSTMT, paramCount *SQLSMALLINT) SQLRETURN
	sqlDescribeParam  func(stmt SQLHSTMT, paramNum SQLUSMALLINT, dataType *SQLSMALLINT, paramSize *SQLULEN, decDigits *SQLSMALLINT, nullable *SQLSMALLINT) SQLRETURN
	sqlGetDiagRec     func(handleType SQLSMALLINT, handle SQLHANDLE, recNum SQLSMALLINT, sqlState *byte, nativeError *SQLINTEGER, msgText *byte, bufferLen SQLSMALLINT, textLen *SQLSMALLINT) SQLRETURN
	sqlEndTran        func(handleType SQLSMALLINT, handle SQLHANDLE, completionType SQLSMALLINT) SQLRETURN
	sqlCloseCursor    func(stmt SQLHSTMT) SQLRETURN
	sqlCancel         func(stmt SQLHSTMT) SQLRETURN
	sqlFreeStmt       func(stmt SQLHSTMT, option SQLUSMALLINT) SQLRETURN
	sqlMoreResults    func(stmt SQLHSTMT) SQLRETURN
	sqlSetStmtAttr    func(stmt SQLHSTMT, attribute SQLINTEGER, value uintptr, stringLength SQLINTEGER) SQLRETURN
	sqlGetStmtAttr    func(stmt SQLHSTMT, attribute SQLINTEGER, value uintptr, bufferLength SQLINTEGER, stringLength *SQLINTEGER) SQLRETURN
	sqlParamData      func(stmt SQLHSTMT, value *uintptr) SQLRETURN
	sqlPutData        func(stmt SQLHSTMT, data uintptr, strLenOrInd SQLLEN) SQLRETURN
	sqlSetDescField   func(desc SQLHDESC, recNum SQLSMALLINT, fieldId SQLSMALLINT, value uintptr, bufferLen SQLINTEGER) SQLRETURN
)

// libraryPath returns the platform-specific ODBC library path.
// The ODBX_LIBRARY_PATH environment variable overrides the default.
func libraryPath() string {
	if path := os.Getenv("ODBX_LIBRARY_PATH"); path != "" {
		return path
	}

	switch runtime.GOOS {
	case "windows":
		return "odbc32.dll"
	case "darwin":
		// Check common macOS locations for unixODBC
		paths := []string{
			"/opt/homebrew/lib/libodbc.2.dylib", // Apple Silicon Homebrew
			"/usr/local/lib/libodbc.2.dylib",    // Intel Homebrew
			"/opt/homebrew/lib/libodbc.dylib",
			"/usr/local/lib/libodbc.dylib",
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		return "libodbc.2.dylib" // Let purego search standard paths
	default:
		// Linux and other Unix-like systems
		return "libodbc.so.2"
	}
}

// initDriver loads the ODBC driver manager and registers all functions.
// If loading fails, set ODBX_LIBRARY_PATH to specify a custom location.
func initDriver() error {
	initOnce.Do(func() {
		libPath := libraryPath()

		odbcLib, initErr = loadODBCLibrary(libPath)
		if initErr != nil {
			initErr = fmt.Errorf("odbx: failed to load ODBC library %q: %w (set ODBX_LIBRARY_PATH to override)", libPath, initErr)
			return
		}

		purego.RegisterLibFunc(&sqlAllocHandle, odbcLib, "SQLAllocHandle")
		purego.RegisterLibFunc(&sqlFreeHandle, odbcLib, "SQLFreeHandle")
		purego.RegisterLibFunc(&sqlSetEnvAttr, odbcLib, "SQLSetEnvAttr")

		// The narrow entry points carry an 'A' suffix on Windows only.
		if runtime.GOOS == "windows" {
			purego.RegisterLibFunc(&sqlDriverConnect, odbcLib, "SQLDriverConnectA")
			purego.RegisterLibFunc(&sqlGetInfo, odbcLib, "SQLGetInfoA")
			purego.RegisterLibFunc(&sqlExecDirect, odbcLib, "SQLExecDirectA")
			purego.RegisterLibFunc(&sqlPrepare, odbcLib, "SQLPrepareA")
			purego.RegisterLibFunc(&sqlDescribeCol, odbcLib, "SQLDescribeColA")
			purego.RegisterLibFunc(&sqlGetDiagRec, odbcLib, "SQLGetDiagRecA")
			purego.RegisterLibFunc(&sqlSetDescField, odbcLib, "SQLSetDescFieldA")
		} else {
			purego.RegisterLibFunc(&sqlDriverConnect, odbcLib, "SQLDriverConnect")
			purego.RegisterLibFunc(&sqlGetInfo, odbcLib, "SQLGetInfo")
			purego.RegisterLibFunc(&sqlExecDirect, odbcLib, "SQLExecDirect")
			purego.RegisterLibFunc(&sqlPrepare, odbcLib, "SQLPrepare")
			purego.RegisterLibFunc(&sqlDescribeCol, odbcLib, "SQLDescribeCol")
			purego.RegisterLibFunc(&sqlGetDiagRec, odbcLib, "SQLGetDiagRec")
			purego.RegisterLibFunc(&sqlSetDescField, odbcLib, "SQLSetDescField")
		}
		purego.RegisterLibFunc(&sqlDisconnect, odbcLib, "SQLDisconnect")
		purego.RegisterLibFunc(&sqlSetConnectAttr, odbcLib, "SQLSetConnectAttr")
		purego.RegisterLibFunc(&sqlExecute, odbcLib, "SQLExecute")
		purego.RegisterLibFunc(&sqlNumResultCols, odbcLib, "SQLNumResultCols")
		purego.RegisterLibFunc(&sqlBindParameter, odbcLib, "SQLBindParameter")
		purego.RegisterLibFunc(&sqlFetch, odbcLib, "SQLFetch")
		purego.RegisterLibFunc(&sqlGetData, odbcLib, "SQLGetData")
		purego.RegisterLibFunc(&sqlRowCount, odbcLib, "SQLRowCount")
		purego.RegisterLibFunc(&sqlNumParams, odbcLib, "SQLNumParams")
		purego.RegisterLibFunc(&sqlDescribeParam, odbcLib, "SQLDescribeParam")
		purego.RegisterLibFunc(&sqlEndTran, odbcLib, "SQLEndTran")
		purego.RegisterLibFunc(&sqlCloseCursor, odbcLib, "SQLCloseCursor")
		purego.RegisterLibFunc(&sqlCancel, odbcLib, "SQLCancel")
		purego.RegisterLibFunc(&sqlFreeStmt, odbcLib, "SQLFreeStmt")
		purego.RegisterLibFunc(&sqlMoreResults, odbcLib, "SQLMoreResults")
		purego.RegisterLibFunc(&sqlSetStmtAttr, odbcLib, "SQLSetStmtAttr")
		purego.RegisterLibFunc(&sqlGetStmtAttr, odbcLib, "SQLGetStmtAttr")
		purego.RegisterLibFunc(&sqlParamData, odbcLib, "SQLParamData")
		purego.RegisterLibFunc(&sqlPutData, odbcLib, "SQLPutData")
	})
	return initErr
}

// allocHandle allocates an ODBC handle
func allocHandle(handleType SQLSMALLINT, inputHandle SQLHANDLE, outputHandle *SQLHANDLE) SQLRETURN {
	return sqlAllocHandle(handleType, inputHandle, outputHandle)
}

// freeHandle frees an ODBC handle
func freeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	return sqlFreeHandle(handleType, handle)
}

// setEnvAttr sets an environment attribute
func setEnvAttr(env SQLHENV, attribute SQLINTEGER, value uintptr) SQLRETURN {
	return sqlSetEnvAttr(env, attribute, value, 0)
}

// driverConnect connects to a data source using a connection string
func driverConnect(dbc SQLHDBC, connStr string) SQLRETURN {
	inBytes := append([]byte(connStr), 0)
	var outLen SQLSMALLINT
	out := make([]byte, 1024)
	return sqlDriverConnect(dbc, 0, &inBytes[0], SQLSMALLINT(SQL_NTS), &out[0], SQLSMALLINT(len(out)), &outLen, SQL_DRIVER_NOPROMPT)
}

// disconnect disconnects from a data source
func disconnect(dbc SQLHDBC) SQLRETURN {
	return sqlDisconnect(dbc)
}

// setConnectAttr sets a connection attribute
func setConnectAttr(dbc SQLHDBC, attribute SQLINTEGER, value uintptr) SQLRETURN {
	return sqlSetConnectAttr(dbc, attribute, value, 0)
}

// getInfoString retrieves a string-valued driver/data source attribute
func getInfoString(dbc SQLHDBC, infoType SQLUSMALLINT) (string, SQLRETURN) {
	buf := make([]byte, 1024)
	var strLen SQLSMALLINT
	ret := sqlGetInfo(dbc, infoType, uintptr(unsafe.Pointer(&buf[0])), SQLSMALLINT(len(buf)), &strLen)
	if !IsSuccess(ret) {
		return "", ret
	}
	if int(strLen) > len(buf) {
		strLen = SQLSMALLINT(len(buf))
	}
	return string(buf[:strLen]), ret
}

// execDirect executes an SQL statement directly
func execDirect(stmt SQLHSTMT, query string) SQLRETURN {
	queryBytes := append([]byte(query), 0)
	return sqlExecDirect(stmt, &queryBytes[0], SQL_NTS)
}

// prepare prepares an SQL statement for execution
func prepare(stmt SQLHSTMT, query string) SQLRETURN {
	queryBytes := append([]byte(query), 0)
	return sqlPrepare(stmt, &queryBytes[0], SQL_NTS)
}

// execute executes a prepared statement
func execute(stmt SQLHSTMT) SQLRETURN {
	return sqlExecute(stmt)
}

// numResultCols returns the number of columns in a result set
func numResultCols(stmt SQLHSTMT, columnCount *SQLSMALLINT) SQLRETURN {
	return sqlNumResultCols(stmt, columnCount)
}

// describeCol describes a column in a result set
func describeCol(stmt SQLHSTMT, colNum SQLUSMALLINT, colName []byte) (nameLen SQLSMALLINT, dataType SQLSMALLINT, colSize SQLULEN, decDigits SQLSMALLINT, nullable SQLSMALLINT, ret SQLRETURN) {
	ret = sqlDescribeCol(stmt, colNum, &colName[0], SQLSMALLINT(len(colName)), &nameLen, &dataType, &colSize, &decDigits, &nullable)
	return
}

// bindParameter binds a parameter buffer to a statement
func bindParameter(stmt SQLHSTMT, paramNum SQLUSMALLINT, ioType SQLSMALLINT, valueType SQLSMALLINT, paramType SQLSMALLINT, colSize SQLULEN, decDigits SQLSMALLINT, paramValue uintptr, bufferLen SQLLEN, strLenOrInd *SQLLEN) SQLRETURN {
	return sqlBindParameter(stmt, paramNum, ioType, valueType, paramType, colSize, decDigits, paramValue, bufferLen, strLenOrInd)
}

// fetch fetches the next row from the result set
func fetch(stmt SQLHSTMT) SQLRETURN {
	return sqlFetch(stmt)
}

// getData retrieves data for a single column
func getData(stmt SQLHSTMT, colNum SQLUSMALLINT, targetType SQLSMALLINT, targetValue uintptr, bufferLen SQLLEN, strLenOrInd *SQLLEN) SQLRETURN {
	return sqlGetData(stmt, colNum, targetType, targetValue, bufferLen, strLenOrInd)
}

// rowCount returns the number of rows affected by an UPDATE, INSERT, or DELETE
func rowCount(stmt SQLHSTMT, count *SQLLEN) SQLRETURN {
	return sqlRowCount(stmt, count)
}

// numParams returns the number of parameter markers in a prepared statement
func numParams(stmt SQLHSTMT, paramCount *SQLSMALLINT) SQLRETURN {
	return sqlNumParams(stmt, paramCount)
}

// describeParam describes a parameter marker in a prepared statement
func describeParam(stmt SQLHSTMT, paramNum SQLUSMALLINT) (dataType SQLSMALLINT, paramSize SQLULEN, decDigits SQLSMALLINT, nullable SQLSMALLINT, ret SQLRETURN) {
	ret = sqlDescribeParam(stmt, paramNum, &dataType, &paramSize, &decDigits, &nullable)
	return
}

// getDiagRec retrieves one diagnostic record
func getDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, recNum SQLSMALLINT, sqlState []byte, message []byte) (nativeError SQLINTEGER, msgLen SQLSMALLINT, ret SQLRETURN) {
	ret = sqlGetDiagRec(handleType, handle, recNum, &sqlState[0], &nativeError, &message[0], SQLSMALLINT(len(message)), &msgLen)
	return
}

// endTran commits or rolls back a transaction
func endTran(handleType SQLSMALLINT, handle SQLHANDLE, completionType SQLSMALLINT) SQLRETURN {
	return sqlEndTran(handleType, handle, completionType)
}

// closeCursor closes an open cursor
func closeCursor(stmt SQLHSTMT) SQLRETURN {
	return sqlCloseCursor(stmt)
}

// cancelStmt requests cancellation of an in-flight statement
func cancelStmt(stmt SQLHSTMT) SQLRETURN {
	return sqlCancel(stmt)
}

// freeStmt frees resources associated with a statement
func freeStmt(stmt SQLHSTMT, option SQLUSMALLINT) SQLRETURN {
	return sqlFreeStmt(stmt, option)
}

// moreResults advances to the next result set
func moreResults(stmt SQLHSTMT) SQLRETURN {
	return sqlMoreResults(stmt)
}

// setStmtAttr sets a statement attribute
func setStmtAttr(stmt SQLHSTMT, attribute SQLINTEGER, value uintptr) SQLRETURN {
	return sqlSetStmtAttr(stmt, attribute, value, 0)
}

// getStmtAttr retrieves a pointer-valued statement attribute
func getStmtAttr(stmt SQLHSTMT, attribute SQLINTEGER, value *uintptr) SQLRETURN {
	var strLen SQLINTEGER
	return sqlGetStmtAttr(stmt, attribute, uintptr(unsafe.Pointer(value)), 0, &strLen)
}

// paramData advances the data-at-execution loop and reports which
// parameter wants data next
func paramData(stmt SQLHSTMT, token *uintptr) SQLRETURN {
	return sqlParamData(stmt, token)
}

// putData supplies one chunk of a data-at-execution parameter
func putData(stmt SQLHSTMT, data uintptr, strLenOrInd SQLLEN) SQLRETURN {
	return sqlPutData(stmt, data, strLenOrInd)
}

// setDescField sets one field of a descriptor record
func setDescField(desc SQLHDESC, recNum SQLSMALLINT, fieldId SQLSMALLINT, value uintptr, bufferLen SQLINTEGER) SQLRETURN {
	return sqlSetDescField(desc, recNum, fieldId, value, bufferLen)
}
