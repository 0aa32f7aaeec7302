// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
	Service    string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Service:    "ai-fraud-guard",
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
}

// Logger returns the global service logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithConnection returns a logger scoped to one inbound socket.
func WithConnection(connectionId, remoteAddr string) zerolog.Logger {
	return log.With().
		Str("component", "media").
		Str("connectionId", connectionId).
		Str("remoteAddr", remoteAddr).
		Logger()
}

// WithSession returns a logger with media session context.
func WithSession(sessionId, callSid string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Str("callSid", callSid).
		Logger()
}

// WithStream returns a logger with transcription stream context.
func WithStream(sessionId, callSid, provider string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Str("callSid", callSid).
		Str("sttProvider", provider).
		Logger()
}
