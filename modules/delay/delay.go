// Package delay provides a middleware that suspends each dispatch chain for a
// fixed duration before letting it continue.
package delay

import (
	"context"
	"slices"
	"time"

	"github.com/gxo-labs/rdx/internal/async"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/paramutil"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
)

func init() {
	middleware.Register("delay", NewDelayMiddleware)
}

// DelayMiddleware continues each chain on a tracked goroutine once Duration
// has elapsed. If the dispatch context ends first the action is dropped.
type DelayMiddleware struct {
	log         gxolog.Logger
	duration    time.Duration
	actionTypes []string
}

// NewDelayMiddleware is the factory for DelayMiddleware.
//
// Params: duration (required), action_types (optional list of Go type names,
// e.g. "state.Increment"; other actions pass straight through).
func NewDelayMiddleware(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error) {
	if err := paramutil.CheckAllowed(params, []string{"duration", "action_types"}); err != nil {
		return nil, err
	}
	d, found, err := paramutil.GetOptionalDuration(params, "duration")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gxoerrors.NewValidationError("missing required parameter 'duration'", nil)
	}
	types, _, err := paramutil.GetOptionalStringSlice(params, "action_types")
	if err != nil {
		return nil, err
	}
	return &DelayMiddleware{log: log, duration: d, actionTypes: types}, nil
}

func (m *DelayMiddleware) Intercept(ctx context.Context, _ any, action rdx.Action, next rdx.Continuation, _ rdx.Dispatcher) {
	actionType := store.ActionTypeName(action)
	if len(m.actionTypes) > 0 && !slices.Contains(m.actionTypes, actionType) {
		_ = next.Next()
		return
	}

	async.Go(ctx, func() {
		timer := time.NewTimer(m.duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			m.log.Warnf("Dropping delayed %s: %v", actionType, ctx.Err())
			return
		}
		if err := next.Next(); err != nil {
			m.log.Warnf("Delayed %s could not continue: %v", actionType, err)
		}
	})
}
