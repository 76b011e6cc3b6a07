package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "CHIRP_LOG_LEVEL"
	EnvLogNoColor = "CHIRP_LOG_NOCOLOR"
)

// Options control logger construction
type Options struct {
	Level   zerolog.Level
	NoColor bool
	Out     io.Writer
}

// DefaultOptions returns info-level console output on stderr
func DefaultOptions() Options {
	return Options{
		Level: zerolog.InfoLevel,
		Out:   os.Stderr,
	}
}

// New builds a console logger tagged with app, honouring env overrides
func New(app string, debug bool) zerolog.Logger {
	opts := DefaultOptions()
	if debug {
		opts.Level = zerolog.DebugLevel
	}
	applyEnvOverrides(&opts)
	return NewWithOptions(app, opts)
}

// NewWithOptions builds a console logger from explicit options
func NewWithOptions(app string, opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    opts.NoColor,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(opts.Level).With().Timestamp().Str("app", app).Logger()
}

func applyEnvOverrides(opts *Options) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
