package server

import (
	"fmt"
	"io"
	"time"

	"github.com/aeolun/chirp/pkg/database"
)

// EventHistory reads back the session journal database
type EventHistory interface {
	ListSessionEvents(limit int) ([]*database.SessionEvent, error)
	ListEventsForSession(sessionID uint32) ([]*database.SessionEvent, error)
	CountSessionEvents(kind database.EventKind) (int64, error)
}

var _ EventHistory = (*database.DB)(nil)

// HistoryLine renders a stored event in the file journal's format plus the
// peer address
func HistoryLine(ev *database.SessionEvent) string {
	event := "Connected"
	if ev.Kind == database.EventDisconnected {
		event = "Disconnected"
	}
	sess := Session{ID: ev.SessionID, Name: ev.Name}
	line := JournalLine(event, sess, time.UnixMilli(ev.At).UTC())
	if ev.Address != "" {
		line += " (" + ev.Address + ")"
	}
	return line
}

// WriteSessionHistory prints the events for sessionID, or the latest limit
// events when sessionID is 0, followed by totals
func WriteSessionHistory(w io.Writer, h EventHistory, limit int, sessionID uint32) error {
	var (
		events []*database.SessionEvent
		err    error
	)
	if sessionID != 0 {
		events, err = h.ListEventsForSession(sessionID)
	} else {
		events, err = h.ListSessionEvents(limit)
	}
	if err != nil {
		return err
	}

	for _, ev := range events {
		if _, err := fmt.Fprintln(w, HistoryLine(ev)); err != nil {
			return err
		}
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no session events recorded")
	}

	connected, err := h.CountSessionEvents(database.EventConnected)
	if err != nil {
		return err
	}
	disconnected, err := h.CountSessionEvents(database.EventDisconnected)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "total: %d connected, %d disconnected\n", connected, disconnected)
	return err
}
