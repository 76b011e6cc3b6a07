package server

import (
	"sync"

	"github.com/aeolun/chirp/pkg/database"
)

// mockEventStore is a simple in-memory EventStore for testing
type mockEventStore struct {
	mu     sync.Mutex
	events []database.SessionEvent
	closed bool

	// Error injection
	recordErr error
	closeErr  error
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{}
}

func (m *mockEventStore) RecordSessionEvent(ev database.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockEventStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

func (m *mockEventStore) recorded() []database.SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.SessionEvent(nil), m.events...)
}
