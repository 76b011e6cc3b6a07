package client

import (
	"sync"
)

// MockState is an in-memory test implementation of StateInterface
type MockState struct {
	mu sync.RWMutex

	// In-memory storage
	config   map[string]string
	sessions map[string]uint32 // server address -> last assigned id
	dir      string

	saveConnErr error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:   make(map[string]string),
		sessions: make(map[string]uint32),
		dir:      "/tmp/mock-state",
	}
}

func (s *MockState) getConfig(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config[key]
}

func (s *MockState) setConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

// GetLastUsername returns the last used display name
func (s *MockState) GetLastUsername() string {
	return s.getConfig("last_username")
}

// SetLastUsername stores the last used display name
func (s *MockState) SetLastUsername(username string) error {
	return s.setConfig("last_username", username)
}

// GetLastSessionID returns the last id recorded for a server
func (s *MockState) GetLastSessionID(serverAddress string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[serverAddress], nil
}

// SaveSuccessfulConnection records an assigned id
func (s *MockState) SaveSuccessfulConnection(serverAddress, username string, sessionID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveConnErr != nil {
		return s.saveConnErr
	}
	s.sessions[serverAddress] = sessionID
	return nil
}

// GetFirstRun checks if this is the first run
func (s *MockState) GetFirstRun() bool {
	return s.getConfig("first_run_complete") != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *MockState) SetFirstRunComplete() error {
	return s.setConfig("first_run_complete", "true")
}

// GetStateDir returns the state directory
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close is a no-op for the mock
func (s *MockState) Close() error {
	return nil
}

// SetSaveConnectionError makes SaveSuccessfulConnection fail
func (s *MockState) SetSaveConnectionError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveConnErr = err
}
