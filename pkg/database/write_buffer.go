package database

import (
	"sync"
	"time"
)

// WriteBuffer batches session events so journal writes never sit on the
// relay's hot path
type WriteBuffer struct {
	db            *DB
	flushInterval time.Duration

	eventMu sync.Mutex
	events  []SessionEvent
	closed  bool

	// Shutdown
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriteBuffer creates a new write buffer with the given flush interval
func NewWriteBuffer(db *DB, flushInterval time.Duration) *WriteBuffer {
	wb := &WriteBuffer{
		db:            db,
		flushInterval: flushInterval,
		events:        make([]SessionEvent, 0, 64),
		shutdown:      make(chan struct{}),
	}

	// Start flush loop
	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// RecordSessionEvent queues an event for the next flush
func (wb *WriteBuffer) RecordSessionEvent(ev SessionEvent) error {
	if ev.At == 0 {
		ev.At = nowMillis()
	}

	wb.eventMu.Lock()
	defer wb.eventMu.Unlock()
	if wb.closed {
		return ErrClosed
	}
	wb.events = append(wb.events, ev)
	return nil
}

// Pending returns the number of queued events
func (wb *WriteBuffer) Pending() int {
	wb.eventMu.Lock()
	defer wb.eventMu.Unlock()
	return len(wb.events)
}

// flushLoop periodically flushes buffered writes
func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wb.Flush()
		case <-wb.shutdown:
			// Final flush on shutdown
			wb.Flush()
			return
		}
	}
}

// Flush writes all buffered events to the database in a single transaction
func (wb *WriteBuffer) Flush() {
	start := time.Now()

	wb.eventMu.Lock()
	events := wb.events
	wb.events = make([]SessionEvent, 0, 64)
	wb.eventMu.Unlock()

	if len(events) == 0 {
		return
	}

	tx, err := wb.db.writeConn.Begin()
	if err != nil {
		wb.db.logger.Error().Err(err).Msg("write buffer: begin transaction failed")
		wb.requeue(events)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO SessionEvent (kind, session_id, name, address, at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		wb.db.logger.Error().Err(err).Msg("write buffer: prepare event insert failed")
		wb.requeue(events)
		return
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(string(ev.Kind), ev.SessionID, ev.Name, ev.Address, ev.At); err != nil {
			wb.db.logger.Error().Err(err).Str("kind", string(ev.Kind)).Uint32("session", ev.SessionID).Msg("write buffer: insert failed")
		}
	}

	if err := tx.Commit(); err != nil {
		wb.db.logger.Error().Err(err).Msg("write buffer: commit failed")
		wb.requeue(events)
		return
	}

	// Only log slow flushes (those that exceed the flush interval)
	if elapsed := time.Since(start); elapsed > wb.flushInterval {
		wb.db.logger.Warn().Int("events", len(events)).Dur("elapsed", elapsed).Msg("write buffer: slow flush")
	}
}

// requeue puts events back at the front of the queue for the next flush
func (wb *WriteBuffer) requeue(events []SessionEvent) {
	wb.eventMu.Lock()
	wb.events = append(events, wb.events...)
	wb.eventMu.Unlock()
}

// Close shuts down the write buffer and flushes remaining writes
func (wb *WriteBuffer) Close() {
	wb.closeOnce.Do(func() {
		wb.eventMu.Lock()
		wb.closed = true
		wb.eventMu.Unlock()

		close(wb.shutdown)
		wb.wg.Wait()
	})
}
