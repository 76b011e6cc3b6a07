//go:build !linux

package server

import "time"

// logReceiveBufferLimit is a no-op on non-Linux systems
func (s *Server) logReceiveBufferLimit() {}

// monitorReceiveErrors is a no-op on non-Linux systems
func (s *Server) monitorReceiveErrors(time.Duration) {}
