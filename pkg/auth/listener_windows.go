//go:build windows

package auth

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
)

// Winsock reports a taken port as WSAEADDRINUSE, not EADDRINUSE.
func isAddrInUse(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE) || errors.Is(err, syscall.EADDRINUSE)
}
