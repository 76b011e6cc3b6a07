package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/chirp/pkg/client"
	"github.com/aeolun/chirp/pkg/client/ui"
	"github.com/aeolun/chirp/pkg/logging"
	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/aeolun/chirp/pkg/updater"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run owns every resource the client opens so deferred closes (and the Bye
// sent by Client.Close) happen before the process exits
func run() error {
	// Command line flags
	configPath := flag.String("config", "~/.config/chirp/client.toml", "Path to config file")
	username := flag.String("user", "", "Display name (overrides config and last used)")
	serverHost := flag.String("server", "", "Server host or host:port (overrides config)")
	serverPort := flag.Int("port", 0, "Server UDP port (overrides config)")
	statePath := flag.String("state", "", "Path to state database (overrides config)")
	resetConfig := flag.Bool("reset-config", false, "Rewrite the config file with defaults, keeping a backup")
	debug := flag.Bool("debug", false, "Enable debug logging to the state directory")
	version := flag.Bool("version", false, "Show version information")
	checkUpdate := flag.Bool("check-update", false, "Check for a newer release and exit")
	flag.Parse()

	if *version {
		fmt.Printf("chirp client %s\n", Version)
		return nil
	}

	if *checkUpdate {
		return runUpdateCheck()
	}

	if *resetConfig {
		if err := client.ResetConfigToDefault(*configPath, true); err != nil {
			return fmt.Errorf("failed to reset config: %w", err)
		}
		fmt.Printf("Config reset to defaults: %s\n", *configPath)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if !errors.As(err, &cfgErr) {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if config, err = handleConfigError(cfgErr); err != nil {
			return err
		}
	}

	// Command-line flags override config file
	if *serverHost != "" {
		host, port, err := net.SplitHostPort(*serverHost)
		if err == nil {
			config.Connection.Server = host
			if p, err := strconv.Atoi(port); err == nil {
				config.Connection.Port = p
			}
		} else {
			config.Connection.Server = *serverHost
		}
	}
	if *serverPort != 0 {
		config.Connection.Port = *serverPort
	}
	if *statePath != "" {
		config.Local.StateDB = *statePath
	}

	dbPath, err := config.GetStateDBPath()
	if err != nil {
		return fmt.Errorf("failed to resolve state path: %w", err)
	}
	stateDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// The terminal belongs to the UI, so logs go to a file
	logger, logFile, err := openLogger(stateDir, *debug)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	state, err := client.OpenState(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer state.Close()
	logger.Debug().Str("dir", state.GetStateDir()).Msg("state opened")

	// Username: flag, then config, then last used, then ask
	name := *username
	if name == "" {
		name = config.Local.Username
	}
	if name == "" {
		name = state.GetLastUsername()
	}
	if name == "" {
		name, err = promptUsername()
		if err != nil {
			return fmt.Errorf("no username: %w", err)
		}
	}

	clientConfig := config.ToClientConfig()
	clientConfig.Username = name

	if state.GetFirstRun() {
		fmt.Println("Welcome to chirp! Type /help once connected.")
		if err := state.SetFirstRunComplete(); err != nil {
			logger.Warn().Err(err).Msg("failed to record first run")
		}
	}

	c, err := client.NewClient(clientConfig, state, logger)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	fmt.Printf("Connecting to %s as %s...\n", clientConfig.ServerAddress, c.Username())
	if err := c.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", clientConfig.ServerAddress, err)
	}
	fmt.Println(connectedLine(c.ID(), c.PreviousID()))

	if err := state.SetLastUsername(c.Username()); err != nil {
		logger.Warn().Err(err).Msg("failed to save username")
	}

	p := tea.NewProgram(ui.NewModel(c), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}

	fmt.Printf("Disconnected from %s (%s)\n", clientConfig.ServerAddress, client.FormatTraffic(c.Connection()))
	return nil
}

func connectedLine(id, previous uint32) string {
	if previous != 0 && previous != id {
		return fmt.Sprintf("Connected as #%d (last time #%d)", id, previous)
	}
	return fmt.Sprintf("Connected as #%d", id)
}

// handleConfigError lets the user reset a broken config and reloads it
func handleConfigError(cfgErr *client.ConfigError) (client.TOMLConfig, error) {
	prompt := ui.NewConfigErrorModel(cfgErr)
	if _, err := tea.NewProgram(prompt).Run(); err != nil {
		return client.TOMLConfig{}, fmt.Errorf("invalid config %s: %s", cfgErr.Path, cfgErr.Error())
	}

	reset, err := prompt.Reset()
	if err != nil {
		return client.TOMLConfig{}, fmt.Errorf("failed to reset config: %w", err)
	}
	if !reset {
		return client.TOMLConfig{}, fmt.Errorf("invalid config %s: %s\nRun with -reset-config to restore defaults.", cfgErr.Path, cfgErr.Error())
	}

	config, err := client.LoadClientConfig(cfgErr.Path)
	if err != nil {
		return client.TOMLConfig{}, fmt.Errorf("failed to load config after reset: %w", err)
	}
	fmt.Printf("Config reset to defaults: %s\n", cfgErr.Path)
	return config, nil
}

func openLogger(dir string, debug bool) (zerolog.Logger, *os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, "client.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	opts := logging.DefaultOptions()
	opts.Out = f
	opts.NoColor = true
	if debug {
		opts.Level = zerolog.DebugLevel
	}
	return logging.NewWithOptions("chirp-client", opts), f, nil
}

func promptUsername() (string, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errors.New("stdin is not a terminal; pass -user")
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("Choose a username (max %d characters): ", protocol.MaxNameLength)
		line, err := reader.ReadString('\n')
		name := strings.TrimSpace(line)
		if name != "" {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func runUpdateCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	release, newer, err := updater.NewChecker().Check(ctx, Version)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if !newer {
		fmt.Printf("chirp %s is up to date\n", Version)
		return nil
	}
	fmt.Printf("New version available: %s (running %s)\n", release.TagName, Version)
	if release.HTMLURL != "" {
		fmt.Println(release.HTMLURL)
	}
	return nil
}
