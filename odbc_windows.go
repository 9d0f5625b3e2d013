//go:build windows

package odbx

import (
	"syscall"
)

// loadODBCLibrary loads the ODBC driver manager on Windows
func loadODBCLibrary(libPath string) (uintptr, error) {
	handle, err := syscall.LoadLibrary(libPath)
	if err != nil {
		return 0, err
	}
	return uintptr(handle), nil
}
