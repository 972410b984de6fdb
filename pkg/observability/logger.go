// Package observability provides structured logging, metrics and health
// checks shared by every coachpage binary.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	Level          LogLevel
	Format         LogFormat
	Output         io.Writer // defaults to os.Stderr
	AddSource      bool
	ServiceName    string
	ServiceVersion string
}

// DefaultLogConfig is human-readable text at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelInfo,
		Format:         LogFormatText,
		Output:         os.Stderr,
		ServiceName:    "coachpage",
		ServiceVersion: "dev",
	}
}

// ProductionLogConfig is JSON on stdout with source locations.
func ProductionLogConfig() LogConfig {
	return LogConfig{
		Level:          LogLevelInfo,
		Format:         LogFormatJSON,
		Output:         os.Stdout,
		AddSource:      true,
		ServiceName:    "coachpage",
		ServiceVersion: "unknown",
	}
}

// NewLogger builds a slog logger that stamps service attributes and the
// correlation and request ids carried by the record's context.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", cfg.ServiceVersion))
	}
	return slog.New(&contextHandler{next: handler.WithAttrs(attrs)})
}

// LoggerFromEnv reads APP_ENV, LOG_LEVEL, LOG_FORMAT
// and APP_VERSION. Production switches to JSON.
func LoggerFromEnv() *slog.Logger {
	cfg := DefaultLogConfig()
	if os.Getenv("APP_ENV") == "production" {
		cfg = ProductionLogConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = LogFormat(format)
	}
	if version := os.Getenv("APP_VERSION"); version != "" {
		cfg.ServiceVersion = version
	}
	return NewLogger(cfg)
}

// ParseLevel maps a level name to slog; unknown names mean info.
func ParseLevel(level LogLevel) slog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler adds the correlation, request and caller ids found in the
// context.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(RequestIDKey, id))
	}
	if id, ok := CallerIDFromContext(ctx); ok {
		r.AddAttrs(slog.String(CallerIDKey, id.String()))
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// LogOperation scopes a logger to one named operation.
func LogOperation(logger *slog.Logger, operation string, attrs ...any) *slog.Logger {
	return logger.With(append([]any{OperationKey, operation}, attrs...)...)
}
