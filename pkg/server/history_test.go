package server

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aeolun/chirp/pkg/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSessions(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := database.Open(path, zerolog.Nop())
	require.NoError(t, err)

	j := NewDBJournal(db)
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	alice := Session{ID: 1, Name: "alice", Addr: udpAddr(5001)}
	bob := Session{ID: 2, Name: "bob", Addr: udpAddr(5002)}
	require.NoError(t, j.Connected(alice, at))
	require.NoError(t, j.Connected(bob, at.Add(time.Second)))
	require.NoError(t, j.Disconnected(alice, at.Add(2*time.Second)))
	require.NoError(t, j.Close())

	db, err = database.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteSessionHistoryLatest(t *testing.T) {
	db := recordSessions(t)

	var buf bytes.Buffer
	require.NoError(t, WriteSessionHistory(&buf, db, 2, 0))
	assert.Equal(t,
		"Connected: bob#2 - 2026-03-04T05:06:08Z ("+udpAddr(5002).String()+")\n"+
			"Disconnected: alice#1 - 2026-03-04T05:06:09Z ("+udpAddr(5001).String()+")\n"+
			"total: 2 connected, 1 disconnected\n",
		buf.String())
}

func TestWriteSessionHistoryForSession(t *testing.T) {
	db := recordSessions(t)

	var buf bytes.Buffer
	require.NoError(t, WriteSessionHistory(&buf, db, 0, 1))
	assert.Equal(t,
		"Connected: alice#1 - 2026-03-04T05:06:07Z ("+udpAddr(5001).String()+")\n"+
			"Disconnected: alice#1 - 2026-03-04T05:06:09Z ("+udpAddr(5001).String()+")\n"+
			"total: 2 connected, 1 disconnected\n",
		buf.String())

	buf.Reset()
	require.NoError(t, WriteSessionHistory(&buf, db, 0, 42))
	assert.Equal(t, "no session events recorded\ntotal: 2 connected, 1 disconnected\n", buf.String())
}

func TestHistoryLineSanitizesStoredNames(t *testing.T) {
	ev := &database.SessionEvent{
		Kind:      database.EventConnected,
		SessionID: 5,
		Name:      "eve\nDisconnected: root",
		At:        time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC).UnixMilli(),
	}
	assert.Equal(t, "Connected: eveDisconnected: root#5 - 2026-03-04T05:06:07Z", HistoryLine(ev))
}

type failingHistory struct{ err error }

func (f failingHistory) ListSessionEvents(int) ([]*database.SessionEvent, error) { return nil, f.err }
func (f failingHistory) ListEventsForSession(uint32) ([]*database.SessionEvent, error) {
	return nil, f.err
}
func (f failingHistory) CountSessionEvents(database.EventKind) (int64, error) { return 0, f.err }

func TestWriteSessionHistoryPropagatesErrors(t *testing.T) {
	boom := errors.New("disk gone")
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteSessionHistory(&buf, failingHistory{boom}, 10, 0), boom)
	assert.Empty(t, buf.String())
}
