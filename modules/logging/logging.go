// Package logging provides a pass-through middleware that logs every action
// before it is reduced and the resulting state afterwards.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gxo-labs/rdx/internal/logger"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/paramutil"
	"github.com/gxo-labs/rdx/internal/state"
	intTracing "github.com/gxo-labs/rdx/internal/tracing"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	"gopkg.in/yaml.v3"
)

func init() {
	middleware.Register("logging", NewLoggingMiddleware)
}

// LoggingMiddleware logs actions and post-reduce states. Values following a
// redacted keyword are masked.
type LoggingMiddleware struct {
	log      gxolog.Logger
	level    slog.Level
	keywords map[string]struct{}
	logState bool
}

// NewLoggingMiddleware is the factory for LoggingMiddleware.
//
// Params: level (debug|info|warn, default info), redact (list of keywords),
// log_state (default true).
func NewLoggingMiddleware(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error) {
	if err := paramutil.CheckAllowed(params, []string{"level", "redact", "log_state"}); err != nil {
		return nil, err
	}
	levelStr, found, err := paramutil.GetOptionalString(params, "level")
	if err != nil {
		return nil, err
	}
	if !found {
		levelStr = "info"
	}
	if err := paramutil.CheckOneOf("level", levelStr, "debug", "info", "warn"); err != nil {
		return nil, err
	}
	redact, _, err := paramutil.GetOptionalStringSlice(params, "redact")
	if err != nil {
		return nil, err
	}
	logState, found, err := paramutil.GetOptionalBool(params, "log_state")
	if err != nil {
		return nil, err
	}
	if !found {
		logState = true
	}

	return &LoggingMiddleware{
		log:      log,
		level:    logger.ParseLevel(levelStr),
		keywords: intTracing.KeywordSet(redact),
		logState: logState,
	}, nil
}

func (m *LoggingMiddleware) Intercept(ctx context.Context, _ any, action rdx.Action, next rdx.Continuation, _ rdx.Dispatcher) {
	actionType := store.ActionTypeName(action)
	attrs := []interface{}{"action_type", actionType}
	if id, ok := store.DispatchIDFromContext(ctx); ok {
		attrs = append(attrs, "dispatch_id", id)
	}
	if pa, ok := action.(state.PathAction); ok {
		attrs = append(attrs, "path", pa.TargetPath())
	}
	attrs = append(attrs, "action", m.redact(fmt.Sprintf("%+v", action)))
	m.log.LogCtx(ctx, m.level, "Dispatching action", attrs...)

	if !m.logState {
		_ = next.Next()
		return
	}

	start := time.Now()
	err := next.Next(rdx.WithCompletion(func(current any) {
		m.log.LogCtx(ctx, m.level, "Action reduced",
			"action_type", actionType,
			"duration", time.Since(start),
			"state", m.render(current),
		)
	}))
	if err != nil {
		m.log.Warnf("Logging middleware could not continue the chain: %v", err)
	}
}

// render prefers YAML so multi-line redaction applies per key.
func (m *LoggingMiddleware) render(current any) string {
	out, err := yaml.Marshal(current)
	if err != nil {
		return m.redact(fmt.Sprintf("%+v", current))
	}
	return m.redact(string(out))
}

func (m *LoggingMiddleware) redact(s string) string {
	return intTracing.RedactSecretsInString(s, m.keywords)
}
