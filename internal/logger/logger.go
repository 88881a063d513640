package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"go.opentelemetry.io/otel/trace"
)

const defaultLevel = slog.LevelInfo

// ParseLevel converts a level name (case-insensitive) to a slog.Level.
// Unknown names map to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return defaultLevel
	}
}

// defaultLogger implements gxolog.Logger on top of slog.
type defaultLogger struct {
	*slog.Logger
}

var _ gxolog.Logger = (*defaultLogger)(nil)

// NewLogger creates a Logger writing to writer (os.Stderr when nil) in the
// given format ("json" or "text"; anything else means text). Records carry
// trace_id and span_id when logged with a span in context.
func NewLogger(levelStr string, formatStr string, writer io.Writer) gxolog.Logger {
	if writer == nil {
		writer = os.Stderr
	}
	// stdout is reserved for the final state document printed by the CLI.
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(levelStr),
		ReplaceAttr: replaceLevelAttribute,
	}

	var base slog.Handler
	if strings.EqualFold(formatStr, "json") {
		base = slog.NewJSONHandler(writer, opts)
	} else {
		base = slog.NewTextHandler(writer, opts)
	}
	return &defaultLogger{Logger: slog.New(NewOtelHandler(base))}
}

// NewDefaultLogger returns a text logger on os.Stderr.
func NewDefaultLogger(levelStr string) gxolog.Logger {
	return NewLogger(levelStr, "text", os.Stderr)
}

// NewDiscardLogger returns a logger that writes nothing. Tests use it where
// log output is irrelevant.
func NewDiscardLogger() gxolog.Logger {
	return NewLogger("ERROR", "text", io.Discard)
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// replaceLevelAttribute renders levels as DEBUG/INFO/WARN/ERROR instead of
// slog's default "WARN+2" style names for in-between levels.
func replaceLevelAttribute(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	name, exists := levelNames[level]
	if !exists {
		name = level.String()
	}
	a.Value = slog.StringValue(name)
	return a
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.printf(slog.LevelDebug, format, args...)
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.printf(slog.LevelInfo, format, args...)
}

// Warnf logs at WARN. A trailing error argument is expanded like in Errorf,
// since chain misuse is reported at this level.
func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.printf(slog.LevelWarn, format, args...)
}

// Errorf logs at ERROR. When the last argument is an error it is also
// attached as structured attributes.
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.printf(slog.LevelError, format, args...)
}

func (l *defaultLogger) printf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	// Skip formatting entirely for disabled levels; dispatch logs at DEBUG.
	if !l.Logger.Enabled(ctx, level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if len(args) == 0 {
		l.Logger.Log(ctx, level, msg)
		return
	}
	// Only a trailing error is expanded; errors elsewhere stay in the message.
	err, ok := args[len(args)-1].(error)
	if !ok {
		l.Logger.Log(ctx, level, msg)
		return
	}
	l.Logger.Log(ctx, level, msg, ErrorAttrs(err)...)
}

// ErrorAttrs flattens known rdx error types into log attributes. Other
// errors produce a single "error" attribute.
func ErrorAttrs(err error) []any {
	var (
		misuse   *gxoerrors.ChainMisuseError
		conflict *gxoerrors.MapperConflictError
		mwErr    *gxoerrors.MiddlewareError
	)
	switch {
	case errors.As(err, &misuse):
		return []any{
			slog.String("error_type", "ChainMisuseError"),
			slog.String("store", misuse.Store),
			slog.String("action_type", misuse.ActionType),
			slog.String("error", misuse.Reason),
		}
	case errors.As(err, &conflict):
		return []any{
			slog.String("error_type", "MapperConflictError"),
			slog.String("substate_type", conflict.Target),
			slog.String("existing_mapper", conflict.Existing),
			slog.String("duplicate_mapper", conflict.Duplicate),
			slog.String("error", err.Error()),
		}
	case errors.As(err, &mwErr):
		attrs := []any{
			slog.String("error_type", "MiddlewareError"),
			slog.String("middleware", mwErr.Middleware),
		}
		if mwErr.Cause != nil {
			return append(attrs, slog.String("error", mwErr.Cause.Error()))
		}
		return append(attrs, slog.String("error", mwErr.Error()))
	default:
		return []any{slog.String("error", err.Error())}
	}
}

func (l *defaultLogger) Log(level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(context.Background(), level, msg, args...)
}

func (l *defaultLogger) LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(ctx, level, msg, args...)
}

func (l *defaultLogger) With(args ...interface{}) gxolog.Logger {
	return &defaultLogger{Logger: l.Logger.With(args...)}
}

func (l *defaultLogger) IsEnabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}

// OtelHandler wraps a slog.Handler and adds trace_id and span_id attributes
// when the record's context carries a valid span.
type OtelHandler struct {
	next slog.Handler
}

func NewOtelHandler(next slog.Handler) *OtelHandler {
	return &OtelHandler{next: next}
}

func (h *OtelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *OtelHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *OtelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewOtelHandler(h.next.WithAttrs(attrs))
}

func (h *OtelHandler) WithGroup(name string) slog.Handler {
	return NewOtelHandler(h.next.WithGroup(name))
}
