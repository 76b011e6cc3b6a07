package server

import (
	"net"
	"sort"
	"sync"
	"time"
)

// Session represents a registered client, alive between HELLO and BYE
type Session struct {
	ID          uint32
	Addr        net.Addr
	Name        string
	ConnectedAt time.Time
}

// SessionRegistry is the server's only shared mutable state. Every operation
// takes the same exclusive lock; callers get copies and must do their network
// sends after the call returns.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uint32]Session
	byAddr   map[string]uint32
	nextID   uint32
	metrics  *Metrics
	now      func() time.Time
}

// NewSessionRegistry creates an empty registry. Ids start at 1; 0 is the server.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uint32]Session),
		byAddr:   make(map[string]uint32),
		nextID:   1,
		now:      time.Now,
	}
}

// SetMetrics attaches metrics to the registry
func (r *SessionRegistry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Register creates a session for addr unless the caller is already known,
// either by the origin id it claims or by its transport address. In that case
// nothing changes and the existing session is returned with created=false;
// no new id is issued, so the old address is never orphaned.
func (r *SessionRegistry) Register(addr net.Addr, name string, originID uint32) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if originID != 0 {
		if sess, ok := r.sessions[originID]; ok {
			return sess, false
		}
	}
	if id, ok := r.byAddr[addr.String()]; ok {
		return r.sessions[id], false
	}

	sess := Session{
		ID:          r.nextID,
		Addr:        addr,
		Name:        name,
		ConnectedAt: r.now(),
	}
	r.nextID++

	r.sessions[sess.ID] = sess
	r.byAddr[addr.String()] = sess.ID

	r.metrics.RecordActiveSessions(len(r.sessions))
	r.metrics.RecordSessionCreated()

	return sess, true
}

// Unregister removes a session and returns what was removed
func (r *SessionRegistry) Unregister(id uint32) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	if r.byAddr[sess.Addr.String()] == id {
		delete(r.byAddr, sess.Addr.String())
	}

	r.metrics.RecordActiveSessions(len(r.sessions))
	r.metrics.RecordSessionDisconnected()

	return sess, true
}

// Lookup returns a session by id
func (r *SessionRegistry) Lookup(id uint32) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Snapshot returns every session except excludeID, ordered by id.
// Pass 0 to include everyone.
func (r *SessionRegistry) Snapshot(excludeID uint32) []Session {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if id == excludeID {
			continue
		}
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Count returns the number of registered sessions
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// CloseAll drops every session and returns them, ordered by id
func (r *SessionRegistry) CloseAll() []Session {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[uint32]Session)
	r.byAddr = make(map[string]uint32)
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	r.metrics.RecordActiveSessions(0)
	return sessions
}
