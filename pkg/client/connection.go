package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aeolun/chirp/pkg/protocol"
)

const defaultUDPPort = "12000"

var (
	// ErrNoMessage means the receive deadline passed without a datagram
	ErrNoMessage = errors.New("no message available")
)

// Connection is the client's datagram socket, fixed to one relay address.
// Datagrams from any other address are discarded.
type Connection struct {
	addr   string
	server *net.UDPAddr
	conn   net.PacketConn

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	buf []byte
}

// NewConnection resolves the relay address and opens a local UDP socket
func NewConnection(addr string) (*Connection, error) {
	hostPort, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	server, err := net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", hostPort, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}

	return &Connection{
		addr:   hostPort,
		server: server,
		conn:   conn,
		buf:    make([]byte, 1024),
	}, nil
}

// Send encodes msg and writes it to the relay
func (c *Connection) Send(msg *protocol.Message) error {
	n, err := c.conn.WriteTo(protocol.Encode(msg), c.server)
	if n > 0 {
		c.bytesSent.Add(uint64(n))
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

// Receive waits until deadline for the next datagram from the relay.
// A zero deadline blocks. Outcomes: a message; ErrNoMessage when the
// deadline passes; protocol.ErrMalformedMessage for an undecodable datagram;
// anything else is a transport failure.
// Receive is not safe for concurrent use.
func (c *Connection) Receive(deadline time.Time) (*protocol.Message, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	for {
		n, from, err := c.conn.ReadFrom(c.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrNoMessage
			}
			return nil, err
		}
		c.bytesReceived.Add(uint64(n))

		if !c.fromServer(from) {
			continue
		}
		return protocol.Decode(c.buf[:n])
	}
}

func (c *Connection) fromServer(from net.Addr) bool {
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return from.String() == c.server.String()
	}
	if udp.Port != c.server.Port {
		return false
	}
	// An unspecified server address accepts replies from any interface
	return c.server.IP == nil || c.server.IP.IsUnspecified() || udp.IP.Equal(c.server.IP)
}

// Close closes the socket; a blocked Receive returns net.ErrClosed
func (c *Connection) Close() error {
	return c.conn.Close()
}

// GetAddress returns the relay address
func (c *Connection) GetAddress() string {
	return c.addr
}

// LocalAddr returns the local socket address
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// GetBytesSent returns the total bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// parseServerAddress accepts host, host:port or udp://host:port
func parseServerAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("server address is empty")
	}

	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		if scheme := strings.ToLower(u.Scheme); scheme != "udp" && scheme != "" {
			return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
		}
		hostPort = u.Host
	}

	host, port, err := splitHostPortWithDefault(hostPort, defaultUDPPort)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
