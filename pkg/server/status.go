package server

import (
	"fmt"
	"time"

	"github.com/aeolun/chirp/pkg/protocol"
)

// StatusLine composes the heartbeat text, truncated to fit a message
func StatusLine(serverID string, clients int, uptime time.Duration) string {
	line := fmt.Sprintf("STATUS: %s | Clients: %d | Uptime: %s", serverID, clients, formatElapsed(uptime))
	return protocol.TruncateText(line)
}

// formatElapsed renders d as HH:MM:SS; hours keep growing past 99
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// statusLoop sends a heartbeat to every session on each tick
func (s *Server) statusLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sendStatus()
		case <-s.shutdown:
			return
		}
	}
}

// sendStatus sends one status post from the server to each session
// individually. The text is shared; only the destination changes.
func (s *Server) sendStatus() {
	sessions := s.sessions.Snapshot(0)
	text := StatusLine(s.config.ServerID, len(sessions), s.now().Sub(s.startTime))

	for _, sess := range sessions {
		s.sendTo(sess.Addr, protocol.NewPost(protocol.ServerID, sess.ID, s.config.ServerID, text))
	}
	s.metrics.RecordStatusSent()
	s.logger.Debug().Int("clients", len(sessions)).Msg("status heartbeat sent")
}
