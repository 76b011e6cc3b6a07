//go:build unix

package server

import (
	"syscall"
)

// setSocketOptions applies the configured receive buffer size
func setSocketOptions(fd uintptr, recvBuf int) error {
	if recvBuf <= 0 {
		return nil
	}
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, recvBuf)
}
