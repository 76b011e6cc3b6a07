package server

import (
	"time"

	"github.com/aeolun/chirp/pkg/database"
)

// Journal records session lifecycle events
type Journal interface {
	Connected(sess Session, at time.Time) error
	Disconnected(sess Session, at time.Time) error
	Close() error
}

// EventStore defines the persistence the database journal needs.
// This abstraction allows for easier testing and other storage backends.
type EventStore interface {
	RecordSessionEvent(ev database.SessionEvent) error
	Close() error
}

var (
	_ Journal    = (*fileJournal)(nil)
	_ Journal    = (*dbJournal)(nil)
	_ Journal    = multiJournal(nil)
	_ Journal    = nopJournal{}
	_ EventStore = bufferedStore{}
)
