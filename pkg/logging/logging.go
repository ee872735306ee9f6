// Package logging builds the injected zerolog sink used across mailprobe.
//
// No package in this module reads a process-global logger; every
// component that needs to log takes a zerolog.Logger explicitly (spec.md
// §9: "Global logger state becomes an injected sink").
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mailprobe/mailprobe/pkg/config"
)

// New builds a zerolog.Logger from a LoggingConfig. Level is one of
// debug/info/warn/error (default info on an unrecognized value).
func New(cfg config.LoggingConfig) (zerolog.Logger, error) {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = f
	}

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
	return logger, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
