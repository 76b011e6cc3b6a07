//go:build windows

package server

import (
	"syscall"
)

// setSocketOptions applies the configured receive buffer size
func setSocketOptions(fd uintptr, recvBuf int) error {
	if recvBuf <= 0 {
		return nil
	}
	// On Windows, fd needs to be cast to syscall.Handle
	return syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf)
}
