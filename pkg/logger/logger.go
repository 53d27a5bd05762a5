// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Config holds logger configuration
type Config struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, text
	AddSource bool
	Output    io.Writer // defaults to stderr
}

type requestIDKey struct{}

// New builds a logger from cfg without installing it
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// Init installs the global logger and makes it the slog default
func Init(cfg Config) *slog.Logger {
	l := New(cfg)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// Get returns the global logger, initializing an INFO text logger on
// first use
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(Config{Level: "INFO", Format: "text"})
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name onto a slog level; unknown names are INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID stores a request id in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FromContext returns l annotated with the request id stored in ctx
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	id, ok := ctx.Value(requestIDKey{}).(string)
	if !ok || id == "" {
		return l
	}
	return l.With("request_id", id)
}
