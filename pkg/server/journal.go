package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aeolun/chirp/pkg/database"
	"github.com/aeolun/chirp/pkg/protocol"
)

// fileJournal appends one human-readable line per event:
//
//	Connected: alice#1 - 2026-10-16T12:00:00Z
type fileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileJournal opens (or creates) an append-only journal file
func OpenFileJournal(path string) (Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &fileJournal{f: f}, nil
}

// JournalLine formats one journal entry without the trailing newline
func JournalLine(event string, sess Session, at time.Time) string {
	return fmt.Sprintf("%s: %s#%d - %s", event, protocol.SanitizeName(sess.Name), sess.ID, at.Format(time.RFC3339))
}

func (j *fileJournal) write(event string, sess Session, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := fmt.Fprintln(j.f, JournalLine(event, sess, at))
	return err
}

func (j *fileJournal) Connected(sess Session, at time.Time) error {
	return j.write("Connected", sess, at)
}

func (j *fileJournal) Disconnected(sess Session, at time.Time) error {
	return j.write("Disconnected", sess, at)
}

func (j *fileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// dbJournal mirrors events into an EventStore
type dbJournal struct {
	store EventStore
}

// NewDBJournal wraps an open database; Close closes the database
func NewDBJournal(db *database.DB) Journal {
	return NewStoreJournal(bufferedStore{db})
}

// NewStoreJournal journals into any EventStore
func NewStoreJournal(store EventStore) Journal {
	return &dbJournal{store: store}
}

// bufferedStore writes through the database's batching write buffer
type bufferedStore struct {
	db *database.DB
}

func (b bufferedStore) RecordSessionEvent(ev database.SessionEvent) error {
	return b.db.WriteBuffer.RecordSessionEvent(ev)
}

func (b bufferedStore) Close() error {
	return b.db.Close()
}

func (j *dbJournal) record(kind database.EventKind, sess Session, at time.Time) error {
	return j.store.RecordSessionEvent(database.SessionEvent{
		Kind:      kind,
		SessionID: sess.ID,
		Name:      sess.Name,
		Address:   sess.Addr.String(),
		At:        at.UnixMilli(),
	})
}

func (j *dbJournal) Connected(sess Session, at time.Time) error {
	return j.record(database.EventConnected, sess, at)
}

func (j *dbJournal) Disconnected(sess Session, at time.Time) error {
	return j.record(database.EventDisconnected, sess, at)
}

func (j *dbJournal) Close() error {
	return j.store.Close()
}

// multiJournal fans every event out to all journals
type multiJournal []Journal

func (m multiJournal) Connected(sess Session, at time.Time) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Connected(sess, at))
	}
	return errors.Join(errs...)
}

func (m multiJournal) Disconnected(sess Session, at time.Time) error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Disconnected(sess, at))
	}
	return errors.Join(errs...)
}

func (m multiJournal) Close() error {
	var errs []error
	for _, j := range m {
		errs = append(errs, j.Close())
	}
	return errors.Join(errs...)
}

type nopJournal struct{}

func (nopJournal) Connected(Session, time.Time) error    { return nil }
func (nopJournal) Disconnected(Session, time.Time) error { return nil }
func (nopJournal) Close() error                          { return nil }
