package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/chirp/pkg/client"
	"github.com/aeolun/chirp/pkg/logging"
	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/rs/zerolog"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

// Syllables for generated usernames
const syllables = "ka ri to mu sen la vo qui den ar ro fi nel tas po mer shi gal bo ze lin dra"

// Ping posts are private posts a bot sends to itself to measure round trips
const pingPrefix = "ping "

var (
	loremWords    = strings.Fields(loremIpsum)
	usernameParts = strings.Fields(syllables)
)

// generateUsername glues two to four random syllables together
func generateUsername() string {
	n := 2 + rand.Intn(3)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(usernameParts[rand.Intn(len(usernameParts))])
	}
	return protocol.TruncateName(b.String())
}

func randomText() string {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rand.Intn(len(loremWords))])
	}
	return strings.Join(words, " ")
}

// Stats tracks performance metrics
type Stats struct {
	broadcastsSent   atomic.Int64
	privateSent      atomic.Int64
	pingsSent       atomic.Int64
	sendFailures     atomic.Int64
	connectionErrors atomic.Int64

	received      atomic.Int64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	heartbeats    atomic.Int64
	relayErrors   atomic.Int64
	pingsSeen    atomic.Int64
	totalPingRTT atomic.Int64 // in microseconds
}

func (s *Stats) recordPing(rtt time.Duration) {
	s.pingsSeen.Add(1)
	s.totalPingRTT.Add(rtt.Microseconds())
}

func (s *Stats) sent() int64 {
	return s.broadcastsSent.Load() + s.privateSent.Load() + s.pingsSent.Load()
}

func (s *Stats) avgPingMs() float64 {
	seen := s.pingsSeen.Load()
	if seen == 0 {
		return 0
	}
	return float64(s.totalPingRTT.Load()) / float64(seen) / 1000.0
}

// BotClient is a simulated user
type BotClient struct {
	id     int
	client *client.Client
	stats  *Stats
	logger zerolog.Logger
}

func NewBotClient(id int, serverAddr string, stats *Stats, logger zerolog.Logger) (*BotClient, error) {
	cfg := client.DefaultClientConfig()
	cfg.ServerAddress = serverAddr
	cfg.Username = generateUsername()
	cfg.HandshakeTimeout = 5 * time.Second

	c, err := client.NewClient(cfg, nil, zerolog.Nop())
	if err != nil {
		return nil, err
	}

	return &BotClient{
		id:     id,
		client: c,
		stats:  stats,
		logger: logger.With().Int("bot", id).Logger(),
	}, nil
}

func (bc *BotClient) Connect() error {
	return bc.client.Connect()
}

// handle counts one received message
func (bc *BotClient) handle(msg *protocol.Message) {
	bc.stats.received.Add(1)

	switch {
	case msg.Kind == protocol.KindError:
		bc.stats.relayErrors.Add(1)
	case msg.IsStatus():
		bc.stats.heartbeats.Add(1)
	case msg.Kind == protocol.KindPost && msg.OriginID == bc.client.ID() && strings.HasPrefix(msg.Text, pingPrefix):
		sentAt, err := strconv.ParseInt(strings.TrimPrefix(msg.Text, pingPrefix), 10, 64)
		if err == nil {
			bc.stats.recordPing(time.Since(time.Unix(0, sentAt)))
		}
	}
}

// PostRandomMessage broadcasts most of the time, otherwise posts privately
// to a random peer or pings itself to time the round trip
func (bc *BotClient) PostRandomMessage() error {
	roll := rand.Float32()

	switch {
	case roll < 0.1:
		text := pingPrefix + strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := bc.client.Post(text, bc.client.ID()); err != nil {
			return err
		}
		bc.stats.pingsSent.Add(1)

	case roll < 0.3:
		peers := bc.client.Peers()
		if len(peers) > 0 {
			peer := peers[rand.Intn(len(peers))]
			if err := bc.client.Post(randomText(), peer.ID); err != nil {
				return err
			}
			bc.stats.privateSent.Add(1)
			return nil
		}
		fallthrough

	default:
		if err := bc.client.Post(randomText(), 0); err != nil {
			return err
		}
		bc.stats.broadcastsSent.Add(1)
	}
	return nil
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer func() {
		bc.client.Close()
		conn := bc.client.Connection()
		bc.stats.bytesSent.Add(conn.GetBytesSent())
		bc.stats.bytesReceived.Add(conn.GetBytesReceived())
	}()
	defer func() {
		if r := recover(); r != nil {
			bc.logger.Error().Interface("panic", r).Msg("bot panicked")
		}
	}()

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go func() {
		if err := bc.client.Listen(listenCtx, bc.handle); err != nil {
			bc.logger.Debug().Err(err).Msg("receive loop ended")
		}
	}()

	if err := bc.client.RefreshDirectory(); err != nil {
		bc.stats.sendFailures.Add(1)
	}

	endTime := time.Now().Add(duration)
	iteration := 0

	for time.Now().Before(endTime) && ctx.Err() == nil {
		iteration++

		if err := bc.PostRandomMessage(); err != nil {
			bc.stats.sendFailures.Add(1)
		}

		// Refresh the directory every 3 iterations to discover peers
		if iteration%3 == 0 {
			if err := bc.client.RefreshDirectory(); err != nil {
				bc.stats.sendFailures.Add(1)
			}
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	// Stagger shutdown to avoid a burst of Byes
	if shutdownDelay > 0 && ctx.Err() == nil {
		select {
		case <-time.After(shutdownDelay):
		case <-ctx.Done():
		}
	}

	// Give in-flight replies a moment before Bye
	time.Sleep(100 * time.Millisecond)
}

func main() {
	// Command-line flags
	serverAddr := flag.String("server", "localhost:12000", "Server address (host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := logging.New("chirp-loadtest", *debug)

	if *numClients < 1 {
		logger.Fatal().Int("clients", *numClients).Msg("need at least one client")
	}

	// Ramp up over 25% of the test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	logger.Info().
		Str("server", *serverAddr).
		Int("clients", *numClients).
		Dur("duration", *duration).
		Dur("ramp_up", rampUpDuration).
		Dur("stagger", staggerDelay).
		Dur("min_delay", *minDelay).
		Dur("max_delay", *maxDelay).
		Msg("starting load test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn().Msg("shutdown signal received, stopping test")
		cancel()
	}()

	stats := &Stats{}
	var wg sync.WaitGroup
	startTime := time.Now()

	// Start stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sent := stats.sent()
				elapsed := time.Since(startTime).Seconds()
				logger.Info().
					Int64("sent", sent).
					Float64("sent_per_sec", float64(sent)/elapsed).
					Int64("received", stats.received.Load()).
					Int64("send_failures", stats.sendFailures.Load()).
					Int64("conn_errors", stats.connectionErrors.Load()).
					Float64("avg_ping_ms", stats.avgPingMs()).
					Msg("stats")
			case <-stopStats:
				return
			}
		}
	}()

	// Spawn clients
spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot, err := NewBotClient(id, *serverAddr, stats, logger)
			if err != nil {
				stats.connectionErrors.Add(1)
				logger.Debug().Err(err).Int("bot", id).Msg("failed to create bot")
				return
			}

			if err := bot.Connect(); err != nil {
				stats.connectionErrors.Add(1)
				bot.client.Close()
				return
			}

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				logger.Info().Int("bot", id).Uint32("session_id", bot.client.ID()).Msg("connected")
			}

			bot.Run(ctx, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		select {
		case <-time.After(staggerDelay):
		case <-ctx.Done():
			break spawn
		}
	}

	// Wait for all clients to finish
	wg.Wait()
	close(stopStats)

	// Final stats
	elapsed := time.Since(startTime)
	sent := stats.sent()
	received := stats.received.Load()

	avgDelay := (*minDelay + *maxDelay) / 2
	expectedPerClient := float64(*duration) / float64(avgDelay)
	expectedTotal := expectedPerClient * float64(*numClients)
	efficiency := 0.0
	if expectedTotal > 0 {
		efficiency = float64(sent) / expectedTotal * 100
	}

	pingLoss := 0.0
	if pings := stats.pingsSent.Load(); pings > 0 {
		pingLoss = float64(pings-stats.pingsSeen.Load()) / float64(pings) * 100
	}

	logger.Info().
		Dur("elapsed", elapsed).
		Int64("sent", sent).
		Float64("sent_per_sec", float64(sent)/elapsed.Seconds()).
		Int64("broadcasts", stats.broadcastsSent.Load()).
		Int64("private", stats.privateSent.Load()).
		Int64("pings", stats.pingsSent.Load()).
		Int64("send_failures", stats.sendFailures.Load()).
		Int64("conn_errors", stats.connectionErrors.Load()).
		Msg("final results: sending")

	logger.Info().
		Int64("received", received).
		Int64("heartbeats", stats.heartbeats.Load()).
		Int64("relay_errors", stats.relayErrors.Load()).
		Float64("avg_ping_ms", stats.avgPingMs()).
		Float64("ping_loss_pct", pingLoss).
		Float64("expected_sent", expectedTotal).
		Float64("efficiency_pct", efficiency).
		Str("bytes_sent", client.FormatBytes(stats.bytesSent.Load())).
		Str("bytes_received", client.FormatBytes(stats.bytesReceived.Load())).
		Msg("final results: receiving")
}
