package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrConnectionTimeout = errors.New("connection timed out waiting for the server")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
)

// listenPoll bounds how long Listen blocks before rechecking ctx and state
const listenPoll = 500 * time.Millisecond

// ConnectionState is where a Client is in its handshake lifecycle
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is one user's session with the relay
type Client struct {
	conn   *Connection
	config ClientConfig
	state  StateInterface
	logger zerolog.Logger

	mu         sync.RWMutex
	status     ConnectionState
	id         uint32
	previousID uint32
	username   string
	directory  map[uint32]string

	recvMu sync.Mutex // one reader of the socket at a time
}

// NewClient opens a socket for config.ServerAddress. state may be nil.
func NewClient(config ClientConfig, state StateInterface, logger zerolog.Logger) (*Client, error) {
	username := protocol.SanitizeName(config.Username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultClientConfig().HandshakeTimeout
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultClientConfig().RefreshInterval
	}

	conn, err := NewConnection(config.ServerAddress)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:      conn,
		config:    config,
		state:     state,
		logger:    logger.With().Str("server", conn.GetAddress()).Logger(),
		username:  username,
		directory: make(map[uint32]string),
	}, nil
}

// Connect performs the Hello handshake, claiming the id from any earlier
// handshake in this process. On success the server-assigned id is adopted and
// the client is Connected. Anything other than the Hello reply
// that arrives during the handshake is dropped.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.status != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.status = StateConnecting
	provisional := c.id
	c.mu.Unlock()

	c.logger.Debug().Uint32("provisional_id", provisional).Msg("sending hello")
	if err := c.conn.Send(protocol.NewHello(provisional, protocol.ServerID, c.username)); err != nil {
		c.setStatus(StateDisconnected)
		return err
	}

	id, err := c.awaitHello(time.Now().Add(c.config.HandshakeTimeout))
	if err != nil {
		c.setStatus(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.id = id
	c.status = StateConnected
	c.mu.Unlock()

	c.logger.Info().Uint32("id", id).Str("username", c.username).Msg("connected")

	if c.state != nil {
		prev, err := c.state.GetLastSessionID(c.conn.GetAddress())
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to read connection history")
		}
		c.mu.Lock()
		c.previousID = prev
		c.mu.Unlock()
		if prev != 0 && prev != id {
			c.logger.Debug().Uint32("previous_id", prev).Msg("server assigned a new id")
		}

		if err := c.state.SaveSuccessfulConnection(c.conn.GetAddress(), c.username, id); err != nil {
			c.logger.Warn().Err(err).Msg("failed to save connection history")
		}
	}
	return nil
}

func (c *Client) awaitHello(deadline time.Time) (uint32, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for {
		msg, err := c.conn.Receive(deadline)
		switch {
		case errors.Is(err, ErrNoMessage):
			return 0, ErrConnectionTimeout
		case errors.Is(err, protocol.ErrMalformedMessage):
			continue
		case err != nil:
			return 0, err
		}

		if msg.Kind == protocol.KindHello && msg.OriginID == protocol.ServerID {
			return msg.DestinationID, nil
		}
		c.logger.Debug().Str("kind", msg.Kind.String()).Msg("dropping message during handshake")
	}
}

// Post sends text to destinationID (0 broadcasts). Nothing is acknowledged.
func (c *Client) Post(text string, destinationID uint32) error {
	id, err := c.connectedID()
	if err != nil {
		return err
	}
	return c.conn.Send(protocol.NewPost(id, destinationID, c.username, text))
}

// RefreshDirectory asks the relay for the peer list. The reply arrives
// through ReceiveNext, which folds it into the directory.
func (c *Client) RefreshDirectory() error {
	id, err := c.connectedID()
	if err != nil {
		return err
	}
	return c.conn.Send(protocol.NewListRequest(id, c.username))
}

// Disconnect sends Bye and returns to Disconnected without waiting for the server
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.status != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.status = StateDisconnected
	id := c.id
	c.mu.Unlock()

	c.logger.Info().Uint32("id", id).Msg("disconnecting")
	return c.conn.Send(protocol.NewBye(id, c.username))
}

// Close disconnects if needed and releases the socket
func (c *Client) Close() error {
	err := c.Disconnect()
	return errors.Join(err, c.conn.Close())
}

// ReceiveNext returns the next message from the relay, waiting at most
// timeout (0 waits forever). List replies update the directory before they
// are returned.
func (c *Client) ReceiveNext(timeout time.Duration) (*protocol.Message, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	c.recvMu.Lock()
	msg, err := c.conn.Receive(deadline)
	c.recvMu.Unlock()
	if err != nil {
		return nil, err
	}

	switch msg.Kind {
	case protocol.KindList:
		c.foldDirectory(msg.Text)
	case protocol.KindHello:
		// Late or repeated handshake reply
		if msg.OriginID == protocol.ServerID && msg.DestinationID != 0 {
			c.mu.Lock()
			if c.status == StateConnected {
				c.id = msg.DestinationID
			}
			c.mu.Unlock()
		}
	}
	return msg, nil
}

// foldDirectory replaces the cached directory with a fresh listing
func (c *Client) foldDirectory(text string) {
	entries := protocol.ParseDirectory(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.directory = make(map[uint32]string, len(entries))
	for _, e := range entries {
		c.directory[e.ID] = e.Name
	}
}

// Directory returns a copy of the cached peer directory
func (c *Client) Directory() map[uint32]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[uint32]string, len(c.directory))
	for id, name := range c.directory {
		out[id] = name
	}
	return out
}

// Peers returns the cached directory ordered by id
func (c *Client) Peers() []protocol.Entry {
	c.mu.RLock()
	peers := make([]protocol.Entry, 0, len(c.directory))
	for id, name := range c.directory {
		peers = append(peers, protocol.Entry{ID: id, Name: name})
	}
	c.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// Listen delivers every received message to fn until ctx is cancelled, the
// client leaves Connected, or the transport fails. Malformed datagrams are
// logged and skipped.
func (c *Client) Listen(ctx context.Context, fn func(*protocol.Message)) error {
	for c.IsConnected() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := c.ReceiveNext(listenPoll)
		switch {
		case errors.Is(err, ErrNoMessage):
			continue
		case errors.Is(err, protocol.ErrMalformedMessage):
			c.logger.Debug().Err(err).Msg("dropping malformed datagram")
			continue
		case err != nil:
			if !c.IsConnected() {
				return nil
			}
			return err
		}
		fn(msg)
	}
	return nil
}

// RunRefresh sends a List request every RefreshInterval while connected
func (c *Client) RunRefresh(ctx context.Context) error {
	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.IsConnected() {
				return nil
			}
			if err := c.RefreshDirectory(); err != nil {
				c.logger.Warn().Err(err).Msg("directory refresh failed")
			}
		}
	}
}

// IsConnected reports whether the handshake has completed
func (c *Client) IsConnected() bool {
	return c.Status() == StateConnected
}

// Status returns the lifecycle state
func (c *Client) Status() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ID returns the server-assigned id (0 before the first handshake)
func (c *Client) ID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// PreviousID returns the id this server gave us on the last recorded
// connection before the current one, 0 when there is none
func (c *Client) PreviousID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previousID
}

// Username returns the display name, as truncated on the wire
func (c *Client) Username() string {
	return c.username
}

// Connection exposes the transport, for traffic counters
func (c *Client) Connection() *Connection {
	return c.conn
}

func (c *Client) setStatus(s ConnectionState) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) connectedID() (uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status != StateConnected {
		return 0, ErrNotConnected
	}
	return c.id, nil
}
