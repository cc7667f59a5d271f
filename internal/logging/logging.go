package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "PUBSYNC_LOG_LEVEL"

// Config selects the log level and output format.
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// New builds the process logger and installs it as the zerolog global.
func New(app string, cfg Config) zerolog.Logger {
	return NewWithWriter(app, cfg, os.Stdout)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(app string, cfg Config, out io.Writer) zerolog.Logger {
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, ok = ParseLevel(cfg.Level)
		if !ok {
			level = zerolog.InfoLevel
		}
	}

	w := out
	if !strings.EqualFold(cfg.Format, "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
