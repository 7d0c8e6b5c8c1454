package logutil

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the process root logger. Level is one of debug/info/warn/
// error; format is "json" for machine-readable output or "console" for
// development.
func Setup(level, format, serviceName string) zerolog.Logger {
	var out = os.Stdout

	logger := zerolog.New(out)
	if format == "console" || format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger.Level(parseLevel(level)).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Component derives a child logger tagged with a component name
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// parseLevel maps a config string to a zerolog level, defaulting to info
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
