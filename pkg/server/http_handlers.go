package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the body served on /healthz
type HealthStatus struct {
	Status         string `json:"status"`
	ServerID       string `json:"server_id"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
	Listen         string `json:"listen,omitempty"`
	EchoBroadcasts bool   `json:"echo_broadcasts"`
}

// Health reports the relay's current state
func (s *Server) Health() HealthStatus {
	h := HealthStatus{
		Status:         "healthy",
		ServerID:       s.config.ServerID,
		ActiveSessions: s.sessions.Count(),
		EchoBroadcasts: s.config.EchoBroadcasts,
	}
	if !s.startTime.IsZero() {
		h.UptimeSeconds = int64(s.now().Sub(s.startTime) / time.Second)
	}
	if addr := s.Addr(); addr != nil {
		h.Listen = addr.String()
	} else {
		h.Status = "stopped"
	}
	return h
}

// HealthHandler serves Health as JSON. A relay without a socket answers 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.Health()

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode health status")
	}
}
