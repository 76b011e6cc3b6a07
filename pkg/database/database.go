package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

var (
	// ErrClosed indicates the database has already been closed.
	ErrClosed = errors.New("database closed")
)

// EventKind is the lifecycle transition recorded for a session
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// SessionEvent is one row of the session journal
type SessionEvent struct {
	ID        int64
	Kind      EventKind
	SessionID uint32
	Name      string
	Address   string
	At        int64 // Unix milliseconds
}

// DB wraps the SQLite database connection
type DB struct {
	conn        *sql.DB // Read connection pool
	writeConn   *sql.DB // Dedicated write connection (1 connection)
	logger      zerolog.Logger
	WriteBuffer *WriteBuffer
}

// Open opens a connection to the SQLite database at the given path
// and applies pending migrations
func Open(path string, logger zerolog.Logger) (*DB, error) {
	conn, err := openConn(path, 10)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; keep writes on their own connection
	writeConn, err := openConn(path, 1)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetConnMaxLifetime(0)

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		logger:    logger.With().Str("component", "database").Logger(),
	}

	if err := runMigrations(writeConn, path, db.logger); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.WriteBuffer = NewWriteBuffer(db, 100*time.Millisecond)

	return db, nil
}

func openConn(path string, maxOpen int) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return conn, nil
}

// Close flushes pending writes and closes both connections
func (db *DB) Close() error {
	if db.WriteBuffer != nil {
		db.WriteBuffer.Close()
	}
	db.writeConn.Close()
	return db.conn.Close()
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// RecordSessionEvent writes one event synchronously
func (db *DB) RecordSessionEvent(ev SessionEvent) (int64, error) {
	if ev.At == 0 {
		ev.At = nowMillis()
	}
	result, err := db.writeConn.Exec(`
		INSERT INTO SessionEvent (kind, session_id, name, address, at)
		VALUES (?, ?, ?, ?, ?)
	`, string(ev.Kind), ev.SessionID, ev.Name, ev.Address, ev.At)
	if err != nil {
		return 0, fmt.Errorf("failed to record session event: %w", err)
	}
	return result.LastInsertId()
}

// ListSessionEvents returns the most recent events, oldest first
func (db *DB) ListSessionEvents(limit int) ([]*SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT id, kind, session_id, name, address, at FROM (
			SELECT id, kind, session_id, name, address, at
			FROM SessionEvent
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListEventsForSession returns every event recorded for one session id
func (db *DB) ListEventsForSession(sessionID uint32) ([]*SessionEvent, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, session_id, name, address, at
		FROM SessionEvent
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for session %d: %w", sessionID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// CountSessionEvents returns the number of recorded events of a kind
func (db *DB) CountSessionEvents(kind EventKind) (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM SessionEvent WHERE kind = ?`, string(kind)).Scan(&count)
	return count, err
}

func scanEvents(rows *sql.Rows) ([]*SessionEvent, error) {
	var events []*SessionEvent
	for rows.Next() {
		var ev SessionEvent
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.SessionID, &ev.Name, &ev.Address, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
