// Package batch provides a middleware that expands a state.Batch into one
// dispatch per contained action.
package batch

import (
	"context"
	"fmt"

	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/paramutil"
	"github.com/gxo-labs/rdx/internal/state"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
)

func init() {
	middleware.Register("batch", NewBatchMiddleware)
}

// BatchMiddleware swallows every Batch and dispatches its actions in order
// through the full chain. Nested batches expand recursively.
type BatchMiddleware struct {
	log        gxolog.Logger
	maxActions int
}

// NewBatchMiddleware is the factory for BatchMiddleware.
//
// Params: max_actions (optional, batches with more actions are dropped).
func NewBatchMiddleware(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error) {
	if err := paramutil.CheckAllowed(params, []string{"max_actions"}); err != nil {
		return nil, err
	}
	limit, _, err := paramutil.GetOptionalInt(params, "max_actions")
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, gxoerrors.NewValidationError("parameter 'max_actions' cannot be negative", nil)
	}
	return &BatchMiddleware{log: log, maxActions: limit}, nil
}

func (m *BatchMiddleware) Intercept(ctx context.Context, _ any, action rdx.Action, next rdx.Continuation, dispatcher rdx.Dispatcher) {
	b, ok := action.(state.Batch)
	if !ok {
		_ = next.Next()
		return
	}
	if m.maxActions > 0 && len(b.Actions) > m.maxActions {
		m.log.Errorf("Dropping batch: %v", gxoerrors.NewMiddlewareError("batch",
			fmt.Errorf("%d actions exceed max_actions %d", len(b.Actions), m.maxActions)))
		return
	}
	m.log.Debugf("Expanding batch of %d actions", len(b.Actions))
	for _, a := range b.Actions {
		dispatcher.Dispatch(ctx, a)
	}
}
