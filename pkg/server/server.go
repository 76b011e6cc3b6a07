package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aeolun/chirp/pkg/database"
	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/rs/zerolog"
)

const receiveErrorCheckInterval = 10 * time.Second

// Server is the chirp relay: one UDP socket, one session registry
type Server struct {
	connMu sync.RWMutex
	conn   net.PacketConn

	sessions *SessionRegistry
	config   ServerConfig
	metrics  *Metrics
	journal  Journal
	pool     *deliveryPool
	logger   zerolog.Logger

	startTime time.Time
	now       func() time.Time

	metricsServer *http.Server

	shutdown chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer creates a relay and opens its journals. Nothing listens until Start.
func NewServer(config ServerConfig, logger zerolog.Logger) (*Server, error) {
	journal, err := openJournals(config, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		sessions: NewSessionRegistry(),
		config:   config,
		journal:  journal,
		logger:   logger,
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
	s.SetMetrics(NewMetrics(nil))
	return s, nil
}

func openJournals(config ServerConfig, logger zerolog.Logger) (Journal, error) {
	var journals multiJournal

	if config.LogPath != "" {
		path, err := ExpandHome(config.LogPath)
		if err != nil {
			return nil, err
		}
		j, err := OpenFileJournal(path)
		if err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}

	if config.DatabasePath != "" {
		path, err := ExpandHome(config.DatabasePath)
		if err != nil {
			journals.Close()
			return nil, err
		}
		db, err := database.Open(path, logger)
		if err != nil {
			journals.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		journals = append(journals, NewDBJournal(db))
	}

	switch len(journals) {
	case 0:
		return nopJournal{}, nil
	case 1:
		return journals[0], nil
	default:
		return journals, nil
	}
}

// SetMetrics replaces the server's metrics. Call before Start.
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
	s.sessions.SetMetrics(metrics)
}

// Metrics returns the server's metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Sessions exposes the registry
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Start binds the socket and starts the receive, status and delivery goroutines
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	conn, err := s.listenConfig().ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := s.serve(conn); err != nil {
		return err
	}

	s.logReceiveBufferLimit()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorReceiveErrors(receiveErrorCheckInterval)
	}()
	return nil
}

func (s *Server) listenConfig() *net.ListenConfig {
	recvBuf := s.config.SocketRecvBuf
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd, recvBuf)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

// serve runs the relay on an already bound socket
func (s *Server) serve(conn net.PacketConn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.startTime = s.now()
	s.logger.Info().Str("addr", conn.LocalAddr().String()).Str("server_id", s.config.ServerID).Msg("relay listening")

	s.pool = newDeliveryPool(s.config.DeliveryWorkers, s.config.DeliveryQueue, s.logger, s.metrics)
	s.pool.start()

	if s.config.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			conn.Close()
			s.pool.stop()
			return err
		}
	}

	if s.config.StatusInterval > 0 {
		// The ticker goroutine holds s directly; there is no global instance.
		s.wg.Add(1)
		go s.statusLoop(s.config.StatusInterval)
	}

	s.wg.Add(1)
	go s.receiveLoop(conn)

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	conn := s.packetConn()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

func (s *Server) packetConn() net.PacketConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *Server) startMetricsServer() error {
	addr := fmt.Sprintf(":%d", s.config.MetricsPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.HealthHandler)
	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("metrics listening")
	return nil
}

// Stop closes the socket, waits for the loops, drains pending deliveries,
// and journals every remaining session as disconnected
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.shutdown)

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn != nil {
			conn.Close()
		}

		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.metricsServer.Shutdown(ctx)
			cancel()
		}

		s.wg.Wait()
		if s.pool != nil {
			s.pool.stop()
		}

		at := s.now()
		for _, sess := range s.sessions.CloseAll() {
			if jerr := s.journal.Disconnected(sess, at); jerr != nil {
				s.logger.Error().Err(jerr).Uint32("session_id", sess.ID).Msg("journal write failed")
			}
		}

		err = s.journal.Close()
	})
	return err
}

// receiveLoop reads one datagram at a time until the socket closes
func (s *Server) receiveLoop(conn net.PacketConn) {
	defer s.wg.Done()

	size := s.config.ReadBufferSize
	if size < protocol.MessageSize {
		size = protocol.MessageSize
	}
	buf := make([]byte, size)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("receive error")
			continue
		}

		s.handleDatagram(addr, buf[:n])
	}
}
