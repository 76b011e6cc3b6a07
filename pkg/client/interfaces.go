package client

import (
	"context"
	"time"

	"github.com/aeolun/chirp/pkg/protocol"
)

// Session is the client-side view of a relay connection. *Client implements it;
// front ends depend on this so they can be driven by a fake in tests.
type Session interface {
	Connect() error
	Disconnect() error
	Close() error
	IsConnected() bool
	ID() uint32
	Username() string

	Post(text string, destinationID uint32) error
	RefreshDirectory() error
	ReceiveNext(timeout time.Duration) (*protocol.Message, error)
	Peers() []protocol.Entry

	Listen(ctx context.Context, fn func(*protocol.Message)) error
	RunRefresh(ctx context.Context) error
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Username management
	GetLastUsername() string
	SetLastUsername(username string) error

	// Handshake history
	GetLastSessionID(serverAddress string) (uint32, error)
	SaveSuccessfulConnection(serverAddress, username string, sessionID uint32) error

	// First run tracking
	GetFirstRun() bool
	SetFirstRunComplete() error

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}

var (
	_ StateInterface = (*State)(nil)
	_ StateInterface = (*MockState)(nil)
	_ Session        = (*Client)(nil)
)
