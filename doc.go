// Package odbx is a direct client binding to SQL databases through an
// ODBC driver manager, loaded at runtime with purego (no cgo).
//
// Unlike a database/sql driver, odbx exposes the statement handle
// lifecycle directly: a Conn creates Cursors, a Cursor prepares and
// executes statements, fetches rows from one or more result sets, and
// reports per-statement diagnostics. Values round-trip through typed
// native buffers, including exact decimals, wide (UTF-16) text, GUIDs,
// streamed large parameters, and table-valued parameters.
//
//	conn, err := odbx.Connect(odbx.Config{ConnString: dsn})
//	if err != nil { ... }
//	defer conn.Close()
//
//	cur, _ := conn.Cursor()
//	defer cur.Close()
//	if err := cur.Execute("select id, name from users where id < ?", 10); err != nil { ... }
//	for {
//		row, err := cur.FetchOne()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package odbx
