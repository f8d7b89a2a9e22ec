package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// New builds the JSON logger used across the service
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SecurityEvent is the log-side shape of a security audit entry
type SecurityEvent struct {
	Action    string
	Severity  string
	UserID    string
	IPAddress string
	Details   map[string]interface{}
	Timestamp time.Time
}

// SecurityLogger writes security events to slog at a level derived from severity
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// Log emits the event
func (sl *SecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("action", event.Action),
		slog.String("severity", event.Severity),
		slog.String("timestamp", event.Timestamp.UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}

	sl.logger.LogAttrs(ctx, severityLevel(event.Severity), "audit", attrs...)
}

func severityLevel(severity string) slog.Level {
	switch severity {
	case "CRITICAL", "HIGH":
		return slog.LevelError
	case "MEDIUM":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
