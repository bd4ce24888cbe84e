// Package logger provides structured logging for the site survey pipeline.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level     Level
	Pretty    bool // console writer instead of JSON lines
	Output    io.Writer
	Component string
}

// DefaultConfig returns the console configuration used by the CLI.
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Pretty: true,
		Output: os.Stderr,
	}
}

// New creates a logger from cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(cfg.Level)
	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}
	return &Logger{zl: zl}
}

// NewDefault creates a console logger at info level.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// Nop returns a logger that discards everything. Library components fall
// back to it when no logger is injected.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithField returns a child logger with one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger with extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

// WithURL returns a child logger with the url field set.
func (l *Logger) WithURL(url string) *Logger {
	return &Logger{zl: l.zl.With().Str("url", url).Logger()}
}

// WithBatch returns a child logger carrying the batch position.
func (l *Logger) WithBatch(index, total int) *Logger {
	return &Logger{zl: l.zl.With().Int("batch", index).Int("batches", total).Logger()}
}

// WithError returns a child logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration returns a child logger with a duration field.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{zl: l.zl.With().Dur("duration", d).Logger()}
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }

func (l *Logger) Info(msg string) { l.zl.Info().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.zl.Info().Msgf(format, args...) }

func (l *Logger) Warn(msg string) { l.zl.Warn().Msg(msg) }

func (l *Logger) Warnf(format string, args ...interface{}) { l.zl.Warn().Msgf(format, args...) }

func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// Event returns a raw zerolog event for call sites that need custom fields.
func (l *Logger) Event(level Level) *zerolog.Event {
	switch level {
	case DebugLevel:
		return l.zl.Debug()
	case WarnLevel:
		return l.zl.Warn()
	case ErrorLevel:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

// FetchEvent logs one completed page fetch.
func (l *Logger) FetchEvent(url, strategy string, chars int, d time.Duration) {
	l.zl.Debug().
		Str("url", url).
		Str("strategy", strategy).
		Int("chars", chars).
		Dur("duration", d).
		Msg("Page fetched")
}

// SitemapEvent logs one expanded sitemap document.
func (l *Logger) SitemapEvent(url string, locs int, index bool) {
	l.zl.Debug().
		Str("sitemap", url).
		Int("locs", locs).
		Bool("index", index).
		Msg("Sitemap expanded")
}

// BatchEvent logs the outcome of one analysis batch.
func (l *Logger) BatchEvent(index, total, urls int, err error) {
	ev := l.zl.Info()
	if err != nil {
		ev = l.zl.Warn().Err(err)
	}
	ev.Int("batch", index).
		Int("batches", total).
		Int("urls", urls).
		Bool("ok", err == nil).
		Msg("Analysis batch finished")
}

// ErrorEvent logs a failed operation with context.
func (l *Logger) ErrorEvent(err error, url string, operation string) {
	l.zl.Warn().
		Err(err).
		Str("url", url).
		Str("operation", operation).
		Msg("Operation failed")
}

// StatsEvent logs a statistics snapshot.
func (l *Logger) StatsEvent(stats map[string]interface{}) {
	ev := l.zl.Info()
	for k, v := range stats {
		ev = ev.Interface(k, v)
	}
	ev.Msg("Survey statistics")
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.zl = l.zl.Level(level)
}

// ParseLevel parses a level string.
func ParseLevel(s string) (Level, error) {
	return zerolog.ParseLevel(s)
}

var globalLogger = NewDefault()

// SetGlobal sets the process logger used by the CLI.
func SetGlobal(l *Logger) {
	globalLogger = l
}

// Global returns the process logger.
func Global() *Logger {
	return globalLogger
}
