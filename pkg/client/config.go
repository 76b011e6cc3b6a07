package client

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig holds what a Client needs to reach the relay
type ClientConfig struct {
	ServerAddress    string // host:port
	Username         string
	HandshakeTimeout time.Duration
	RefreshInterval  time.Duration
}

// DefaultClientConfig returns default client settings
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerAddress:    "127.0.0.1:12000",
		HandshakeTimeout: 10 * time.Second,
		RefreshInterval:  30 * time.Second,
	}
}

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
}

type ConnectionSection struct {
	Server                  string `toml:"server"`
	Port                    int    `toml:"port"`
	HandshakeTimeoutSeconds int    `toml:"handshake_timeout_seconds"`
	RefreshIntervalSeconds  int    `toml:"refresh_interval_seconds"`
}

type LocalSection struct {
	Username string `toml:"username"`
	StateDB  string `toml:"state_db"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	stateDB := filepath.Join(getXDGDataHome(), "chirp", "state.db")

	return TOMLConfig{
		Connection: ConnectionSection{
			Server:                  "127.0.0.1",
			Port:                    12000,
			HandshakeTimeoutSeconds: 10,
			RefreshIntervalSeconds:  30,
		},
		Local: LocalSection{
			Username: "",
			StateDB:  stateDB,
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (permissions?), still runnable on defaults
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    strings.TrimPrefix(err.Error(), "toml: "),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

var lineNumberRe = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberRe.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if config.Connection.Port < 0 || config.Connection.Port > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Connection.Port))
	}
	if config.Connection.HandshakeTimeoutSeconds < 0 {
		errors = append(errors, "Handshake timeout cannot be negative")
	}
	if config.Connection.RefreshIntervalSeconds < 0 {
		errors = append(errors, "Refresh interval cannot be negative")
	}
	if len(config.Local.Username) > 20 {
		errors = append(errors, fmt.Sprintf("Username %q is longer than 20 bytes", config.Local.Username))
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}
	return nil
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

	header := `# chirp client configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// GetServerAddress returns the full server address (host:port)
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.Server)
	if server == "" {
		return ""
	}
	if c.Connection.Port <= 0 {
		return server
	}
	return net.JoinHostPort(server, strconv.Itoa(c.Connection.Port))
}

// ToClientConfig converts the file settings, keeping defaults for zero values
func (c *TOMLConfig) ToClientConfig() ClientConfig {
	cfg := DefaultClientConfig()

	if addr := c.GetServerAddress(); addr != "" {
		cfg.ServerAddress = addr
	}
	cfg.Username = c.Local.Username

	if c.Connection.HandshakeTimeoutSeconds > 0 {
		cfg.HandshakeTimeout = time.Duration(c.Connection.HandshakeTimeoutSeconds) * time.Second
	}
	if c.Connection.RefreshIntervalSeconds > 0 {
		cfg.RefreshInterval = time.Duration(c.Connection.RefreshIntervalSeconds) * time.Second
	}
	return cfg
}

// ResetConfigToDefault resets the config file to default values
// If backup is true, creates a backup with timestamp
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
