//go:build windows

package auth

import (
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/windows"
)

func TestIsAddrInUse(t *testing.T) {
	bindErr := func(errno syscall.Errno) error {
		return &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", errno)}
	}
	assert.True(t, isAddrInUse(bindErr(windows.WSAEADDRINUSE)))
	assert.True(t, isAddrInUse(bindErr(syscall.EADDRINUSE)))
	assert.False(t, isAddrInUse(bindErr(windows.ERROR_ACCESS_DENIED)))
	assert.False(t, isAddrInUse(nil))
}
