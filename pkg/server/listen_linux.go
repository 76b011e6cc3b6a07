//go:build linux

package server

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// logReceiveBufferLimit logs the kernel's cap on socket receive buffers
func (s *Server) logReceiveBufferLimit() {
	data, err := os.ReadFile("/proc/sys/net/core/rmem_max")
	if err != nil {
		return
	}
	rmemMax, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return
	}

	event := s.logger.Debug()
	if s.config.SocketRecvBuf > rmemMax {
		event = s.logger.Warn().Int("requested", s.config.SocketRecvBuf)
	}
	event.Int("rmem_max", rmemMax).Msg("kernel receive buffer limit")
}

// monitorReceiveErrors watches the kernel's UDP receive-buffer overflow
// counter and warns when datagrams are being dropped before the relay sees them
func (s *Server) monitorReceiveErrors(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last, _ := udpReceiveBufferErrors()

	for {
		select {
		case <-ticker.C:
			errs, ok := udpReceiveBufferErrors()
			if !ok {
				continue
			}
			if errs > last {
				s.logger.Warn().
					Uint64("dropped", errs-last).
					Uint64("total", errs).
					Msg("kernel dropped datagrams on full receive buffer; consider raising socket_receive_buffer")
			}
			last = errs

		case <-s.shutdown:
			return
		}
	}
}

// udpReceiveBufferErrors reads RcvbufErrors from /proc/net/snmp
func udpReceiveBufferErrors() (uint64, bool) {
	file, err := os.Open("/proc/net/snmp")
	if err != nil {
		return 0, false
	}
	defer file.Close()
	return parseUDPCounter(bufio.NewScanner(file), "RcvbufErrors")
}

// parseUDPCounter finds a named column in the "Udp:" header/value line pair
func parseUDPCounter(scanner *bufio.Scanner, name string) (uint64, bool) {
	var headers, values []string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Udp:") {
			continue
		}
		fields := strings.Fields(line)
		if len(headers) == 0 {
			headers = fields[1:] // Skip "Udp:" prefix
		} else {
			values = fields[1:]
			break
		}
	}

	for i, header := range headers {
		if header == name && i < len(values) {
			v, err := strconv.ParseUint(values[i], 10, 64)
			return v, err == nil
		}
	}
	return 0, false
}
