package client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadClientConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chirp", "client.toml")

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig failed: %v", err)
	}
	if cfg.Connection.Port != 12000 {
		t.Fatalf("expected default port 12000, got %d", cfg.Connection.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
}

func TestLoadClientConfigReportsParseLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := "[connection]\nserver = \"relay\"\nport = = 4\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadClientConfig(path)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.LineNumber != 3 {
		t.Fatalf("expected error on line 3, got %d (%s)", cfgErr.LineNumber, cfgErr.Message)
	}
}

func TestLoadClientConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	content := "[connection]\nport = 70000\nhandshake_timeout_seconds = -1\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadClientConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "Invalid port number") || !strings.Contains(err.Error(), "Handshake timeout") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestToClientConfig(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Connection.Server = "relay.example"
	cfg.Connection.Port = 4000
	cfg.Connection.HandshakeTimeoutSeconds = 3
	cfg.Connection.RefreshIntervalSeconds = 0
	cfg.Local.Username = "alice"

	clientCfg := cfg.ToClientConfig()

	if clientCfg.ServerAddress != "relay.example:4000" {
		t.Fatalf("unexpected address %s", clientCfg.ServerAddress)
	}
	if clientCfg.HandshakeTimeout != 3*time.Second {
		t.Fatalf("unexpected handshake timeout %v", clientCfg.HandshakeTimeout)
	}
	if clientCfg.RefreshInterval != 30*time.Second {
		t.Fatalf("expected default refresh interval, got %v", clientCfg.RefreshInterval)
	}
	if clientCfg.Username != "alice" {
		t.Fatalf("unexpected username %s", clientCfg.Username)
	}
}

func TestGetServerAddress(t *testing.T) {
	cases := []struct {
		server string
		port   int
		want   string
	}{
		{"relay", 12000, "relay:12000"},
		{"relay", 0, "relay"},
		{" ", 12000, ""},
		{"::1", 5000, "[::1]:5000"},
	}
	for _, tc := range cases {
		cfg := TOMLConfig{Connection: ConnectionSection{Server: tc.server, Port: tc.port}}
		if got := cfg.GetServerAddress(); got != tc.want {
			t.Errorf("GetServerAddress(%q, %d) = %q, want %q", tc.server, tc.port, got, tc.want)
		}
	}
}

func TestResetConfigToDefaultWithBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte("[connection]\nport = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ResetConfigToDefault(path, true); err != nil {
		t.Fatalf("ResetConfigToDefault failed: %v", err)
	}

	backup := path + ".backup-" + time.Now().Format("2006-01-02")
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.Connection.Port != 12000 {
		t.Fatalf("expected reset port 12000, got %d", cfg.Connection.Port)
	}
}
