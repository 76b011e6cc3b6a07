package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	BindAddress     string
	Port            int
	ServerID        string // SenderName on every server-originated message
	LogPath         string // append-only connect/disconnect journal ("" disables)
	DatabasePath    string // SQLite mirror of the journal ("" disables)
	MetricsPort     int    // 0 disables /metrics
	EchoBroadcasts  bool   // deliver broadcasts back to their sender
	StatusInterval  time.Duration
	DeliveryWorkers int
	DeliveryQueue   int
	ReadBufferSize  int
	SocketRecvBuf   int // SO_RCVBUF in bytes, 0 keeps the OS default
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		BindAddress:     "0.0.0.0",
		Port:            12000,
		ServerID:        "UDP_SERVER",
		LogPath:         "log.txt",
		DatabasePath:    "",
		MetricsPort:     0,
		EchoBroadcasts:  false,
		StatusInterval:  60 * time.Second,
		DeliveryWorkers: 16,
		DeliveryQueue:   1024,
		ReadBufferSize:  1024,
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Relay  RelaySection  `toml:"relay"`
}

type ServerSection struct {
	BindAddress  string `toml:"bind_address"`
	Port         int    `toml:"port"`
	ServerID     string `toml:"server_id"`
	LogPath      string `toml:"log_path"`
	DatabasePath string `toml:"database_path"`
	MetricsPort  int    `toml:"metrics_port"`
}

type RelaySection struct {
	EchoBroadcasts        bool `toml:"echo_broadcasts"`
	StatusIntervalSeconds int  `toml:"status_interval_seconds"`
	DeliveryWorkers       int  `toml:"delivery_workers"`
	DeliveryQueue         int  `toml:"delivery_queue"`
	SocketReceiveBuffer   int  `toml:"socket_receive_buffer"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			BindAddress:  "0.0.0.0",
			Port:         12000,
			ServerID:     "UDP_SERVER",
			LogPath:      "log.txt",
			DatabasePath: "~/.chirp/sessions.db",
			MetricsPort:  0,
		},
		Relay: RelaySection{
			EchoBroadcasts:        false,
			StatusIntervalSeconds: 60,
			DeliveryWorkers:       16,
			DeliveryQueue:         1024,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable location; run on defaults anyway
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# chirp relay configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig, keeping defaults for
// anything left at its zero value. Booleans and paths are taken as written.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.BindAddress) != "" {
		cfg.BindAddress = c.Server.BindAddress
	}

	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}

	if strings.TrimSpace(c.Server.ServerID) != "" {
		cfg.ServerID = c.Server.ServerID
	}

	cfg.LogPath = c.Server.LogPath
	cfg.DatabasePath = c.Server.DatabasePath
	cfg.MetricsPort = c.Server.MetricsPort
	cfg.EchoBroadcasts = c.Relay.EchoBroadcasts

	if c.Relay.StatusIntervalSeconds != 0 {
		cfg.StatusInterval = time.Duration(c.Relay.StatusIntervalSeconds) * time.Second
	}

	if c.Relay.DeliveryWorkers > 0 {
		cfg.DeliveryWorkers = c.Relay.DeliveryWorkers
	}

	if c.Relay.DeliveryQueue > 0 {
		cfg.DeliveryQueue = c.Relay.DeliveryQueue
	}

	if c.Relay.SocketReceiveBuffer > 0 {
		cfg.SocketRecvBuf = c.Relay.SocketReceiveBuffer
	}

	return cfg
}

// ExpandHome expands a leading ~/ to the user's home directory
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
