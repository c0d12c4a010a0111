// Package logger provides structured logging for loam
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with loam-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a new structured logger
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "loam").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything, for callers that don't
// care about logging
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Component returns a logger scoped to one store component
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", name).
			Logger(),
	}
}

// LogStoreOperation logs a store operation with structured fields
func (l *Logger) LogStoreOperation(operation, id string, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "store").
		Str("operation", operation).
		Str("id", id).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "store").
			Str("operation", operation).
			Str("id", id).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("store operation completed")
}

// LogQuery logs a query evaluation with structured fields
func (l *Logger) LogQuery(index string, results int, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "query").
		Str("index", index).
		Int("results", results).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "query").
			Str("index", index).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("query evaluated")
}

// LogDelivery logs a live-subscription delivery
func (l *Logger) LogDelivery(index string, subscription uint64, results int) {
	l.zlog.Debug().
		Str("component", "live").
		Str("index", index).
		Uint64("subscription", subscription).
		Int("results", results).
		Msg("result set delivered")
}

// LogStoreOpen logs store startup
func (l *Logger) LogStoreOpen(path string, documents, tombstones int) {
	l.zlog.Info().
		Str("event", "store_open").
		Str("path", path).
		Int("documents", documents).
		Int("tombstones", tombstones).
		Msg("store opened")
}

// LogStoreClose logs store shutdown
func (l *Logger) LogStoreClose(path string) {
	l.zlog.Info().
		Str("event", "store_close").
		Str("path", path).
		Msg("store closed")
}
