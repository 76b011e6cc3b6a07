package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/aeolun/chirp/pkg/protocol"
)

// Error texts sent back to misbehaving peers
const (
	ErrTextNotRegistered     = "not registered"
	ErrTextRecipientNotFound = "recipient not found"
	ErrTextInvalidName       = "invalid name"
)

// handleDatagram decodes one datagram and routes it by kind
func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.RecordMalformed()
		s.logger.Debug().Err(err).Str("addr", addr.String()).Int("bytes", len(data)).Msg("dropping datagram")
		return
	}
	s.metrics.RecordMessageReceived(msg.Kind)

	switch msg.Kind {
	case protocol.KindHello:
		s.handleHello(addr, msg)
	case protocol.KindBye:
		s.handleBye(addr, msg)
	case protocol.KindPost:
		s.handlePost(addr, msg)
	case protocol.KindList:
		s.handleList(addr, msg)
	default:
		s.logger.Debug().Str("addr", addr.String()).Uint32("kind", uint32(msg.Kind)).Msg("ignoring message kind")
	}
}

// handleHello registers the sender and acknowledges with its id
func (s *Server) handleHello(addr net.Addr, msg *protocol.Message) {
	name := protocol.SanitizeName(msg.SenderName)
	if name == "" {
		s.logger.Debug().Str("addr", addr.String()).Msg("rejecting hello without a usable name")
		s.sendTo(addr, protocol.NewError(msg.OriginID, s.config.ServerID, ErrTextInvalidName))
		return
	}

	sess, created := s.sessions.Register(addr, name, msg.OriginID)
	if !created {
		// Lost ack: the owner asks again. Anyone else claiming the id is ignored.
		if sess.Addr.String() != addr.String() {
			s.logger.Warn().
				Str("addr", addr.String()).
				Uint32("claimed_id", msg.OriginID).
				Msg("hello for a session owned by another address")
			return
		}
		s.logger.Debug().Uint32("session_id", sess.ID).Msg("re-acknowledging hello")
		s.sendTo(addr, protocol.NewHello(protocol.ServerID, sess.ID, s.config.ServerID))
		return
	}

	s.logger.Info().
		Uint32("session_id", sess.ID).
		Str("name", sess.Name).
		Str("addr", addr.String()).
		Msg("client connected")
	if err := s.journal.Connected(sess, sess.ConnectedAt); err != nil {
		s.logger.Error().Err(err).Uint32("session_id", sess.ID).Msg("journal write failed")
	}

	s.sendTo(addr, protocol.NewHello(protocol.ServerID, sess.ID, s.config.ServerID))
}

// handleBye drops the session named by the origin id
func (s *Server) handleBye(addr net.Addr, msg *protocol.Message) {
	sess, ok := s.sessions.Unregister(msg.OriginID)
	if !ok {
		s.logger.Debug().Str("addr", addr.String()).Uint32("origin_id", msg.OriginID).Msg("bye from unknown session")
		return
	}

	s.logger.Info().
		Uint32("session_id", sess.ID).
		Str("name", sess.Name).
		Str("addr", sess.Addr.String()).
		Msg("client disconnected")
	if err := s.journal.Disconnected(sess, s.now()); err != nil {
		s.logger.Error().Err(err).Uint32("session_id", sess.ID).Msg("journal write failed")
	}
}

// handlePost routes a post as broadcast or private delivery
func (s *Server) handlePost(addr net.Addr, msg *protocol.Message) {
	sender, ok := s.sessions.Lookup(msg.OriginID)
	if !ok {
		s.sendTo(addr, protocol.NewError(msg.OriginID, s.config.ServerID, ErrTextNotRegistered))
		return
	}

	if msg.IsBroadcast() {
		s.submit(func() { s.broadcast(sender, msg) })
		return
	}
	s.submit(func() { s.deliver(sender, msg) })
}

// broadcast sends one copy of msg to every session except the sender,
// unless echo is enabled
func (s *Server) broadcast(sender Session, msg *protocol.Message) {
	exclude := sender.ID
	if s.config.EchoBroadcasts {
		exclude = 0
	}

	data := protocol.Encode(msg)
	recipients := s.sessions.Snapshot(exclude)
	for _, sess := range recipients {
		s.sendBytes(sess.Addr, msg.Kind, data)
	}
	s.metrics.RecordBroadcastFanout(len(recipients))
}

// deliver forwards a private post unmodified, or tells the sender the
// recipient is gone
func (s *Server) deliver(sender Session, msg *protocol.Message) {
	recipient, ok := s.sessions.Lookup(msg.DestinationID)
	if !ok {
		text := ErrTextRecipientNotFound
		s.sendTo(sender.Addr, protocol.NewError(sender.ID, s.config.ServerID, text))
		return
	}
	s.sendTo(recipient.Addr, msg)
}

// handleList replies with the directory of every other session
func (s *Server) handleList(addr net.Addr, msg *protocol.Message) {
	peers := s.sessions.Snapshot(msg.OriginID)
	entries := make([]protocol.Entry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, protocol.Entry{ID: p.ID, Name: p.Name})
	}

	s.sendTo(addr, protocol.NewListReply(msg.OriginID, s.config.ServerID, protocol.FormatDirectory(entries)))
}

// submit hands forwarding work to the delivery pool
func (s *Server) submit(job func()) {
	if !s.pool.Submit(job) {
		s.logger.Warn().Msg("delivery queue full, dropping message")
	}
}

// sendTo encodes and sends a message to addr
func (s *Server) sendTo(addr net.Addr, msg *protocol.Message) {
	s.sendBytes(addr, msg.Kind, protocol.Encode(msg))
}

func (s *Server) sendBytes(addr net.Addr, kind protocol.Kind, data []byte) {
	if err := s.writeTo(data, addr); err != nil {
		s.metrics.RecordSendFailure()
		s.logger.Warn().Err(err).Str("addr", addr.String()).Str("kind", kind.String()).Msg("send failed")
		return
	}
	s.metrics.RecordMessageSent(kind)
}

// ErrNotStarted is returned when sending before Start
var ErrNotStarted = errors.New("server not started")

func (s *Server) writeTo(data []byte, addr net.Addr) error {
	conn := s.packetConn()
	if conn == nil {
		return ErrNotStarted
	}
	n, err := conn.WriteTo(data, addr)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}
