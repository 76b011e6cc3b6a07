package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aeolun/chirp/pkg/database"
	"github.com/aeolun/chirp/pkg/logging"
	"github.com/aeolun/chirp/pkg/server"
	"github.com/aeolun/chirp/pkg/updater"
	"github.com/rs/zerolog"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "~/.chirp/server.toml", "Path to config file")
	addr := flag.String("addr", "", "Address to bind (overrides config)")
	port := flag.Int("port", 0, "UDP port to listen on (overrides config)")
	metricsPort := flag.Int("metrics-port", -1, "Port for /metrics, 0 disables (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite session journal (overrides config)")
	pprofAddr := flag.String("pprof", "", "Address for the pprof server, e.g. localhost:6060")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	checkUpdate := flag.Bool("check-update", false, "Check for a newer release and exit")
	events := flag.Int("events", 0, "Print the latest N session events from the database and exit")
	sessionID := flag.Uint("session", 0, "Print the recorded events of one session id and exit")
	flag.Parse()

	// Handle --version flag
	if *version {
		fmt.Printf("chirp server %s\n", Version)
		os.Exit(0)
	}

	if *checkUpdate {
		os.Exit(runUpdateCheck())
	}

	logger := logging.New("chirp-server", *debug)

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	// Command-line flags override config file
	if *addr != "" {
		config.Server.BindAddress = *addr
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *metricsPort >= 0 {
		config.Server.MetricsPort = *metricsPort
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}

	serverConfig := config.ToServerConfig()

	if *events > 0 || *sessionID > 0 {
		if err := printHistory(serverConfig.DatabasePath, *events, uint32(*sessionID), logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to read session history")
		}
		return
	}

	// Ensure journal directories exist
	for _, p := range []string{serverConfig.DatabasePath, serverConfig.LogPath} {
		if p == "" {
			continue
		}
		resolved, err := server.ExpandHome(p)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve path")
		}
		if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
			logger.Fatal().Err(err).Str("path", resolved).Msg("failed to create directory")
		}
	}

	srv, err := server.NewServer(serverConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	logger.Info().
		Str("version", Version).
		Str("config", *configPath).
		Str("listen", srv.Addr().String()).
		Str("server_id", serverConfig.ServerID).
		Bool("echo_broadcasts", serverConfig.EchoBroadcasts).
		Dur("status_interval", serverConfig.StatusInterval).
		Msg("chirp server started")
	if serverConfig.LogPath != "" {
		logger.Info().Str("path", serverConfig.LogPath).Msg("session journal")
	}
	if serverConfig.DatabasePath != "" {
		logger.Info().Str("path", serverConfig.DatabasePath).Msg("session database")
	}
	if serverConfig.MetricsPort > 0 {
		logger.Info().Int("port", serverConfig.MetricsPort).Msg("metrics on /metrics")
	}

	// Start pprof HTTP server for profiling
	if *pprofAddr != "" {
		go func() {
			logger.Info().Str("addr", *pprofAddr).Msg("starting pprof server")
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Error().Err(err).Msg("pprof server error")
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down server")
	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	logger.Info().Msg("server stopped")
}

// printHistory dumps recorded session events from the journal database
func printHistory(path string, limit int, sessionID uint32, logger zerolog.Logger) error {
	if path == "" {
		return fmt.Errorf("no database_path configured")
	}
	resolved, err := server.ExpandHome(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err != nil {
		return fmt.Errorf("session database %s: %w", resolved, err)
	}

	db, err := database.Open(resolved, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return server.WriteSessionHistory(os.Stdout, db, limit, sessionID)
}

func runUpdateCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	release, newer, err := updater.NewChecker().Check(ctx, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Update check failed: %v\n", err)
		return 1
	}
	if !newer {
		fmt.Printf("chirp %s is up to date\n", Version)
		return 0
	}
	fmt.Printf("New version available: %s (running %s)\n", release.TagName, Version)
	if release.HTMLURL != "" {
		fmt.Println(release.HTMLURL)
	}
	return 0
}
