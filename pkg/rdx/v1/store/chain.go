package store

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"weak"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// step is the continuation handed to one middleware during one dispatch. It
// owns the rest of the chain and the completions gathered so far, and only
// weakly references its store.
type step[S any] struct {
	store       weak.Pointer[Store[S]]
	ctx         context.Context
	remaining   []rdx.Middleware
	action      rdx.Action
	completions []func(state any)
	used        atomic.Bool
}

var _ rdx.Continuation = (*step[struct{}])(nil)

// Next advances the chain. Only the first call on a step has an effect; later
// calls return a ChainMisuseError. If the store is gone, Next does nothing.
func (c *step[S]) Next(opts ...rdx.NextOption) error {
	s := c.store.Value()
	if !c.used.CompareAndSwap(false, true) {
		name := ""
		if s != nil {
			name = s.Name()
		}
		err := gxoerrors.NewChainMisuseError(name, ActionTypeName(c.action), "continuation invoked more than once")
		if s != nil {
			s.reportMisuse(c.ctx, err)
		}
		return err
	}
	if s == nil {
		return nil
	}

	var params rdx.NextParams
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}

	action := c.action
	if params.Action != nil {
		action = params.Action
	}
	completions := c.completions
	if params.Completion != nil {
		completions = append(slices.Clip(completions), params.Completion)
	}
	s.advance(c.ctx, c.remaining, action, completions)
	return nil
}

// advance runs the head of remaining, or the reduce step and completions once
// the chain is exhausted.
func (s *Store[S]) advance(ctx context.Context, remaining []rdx.Middleware, action rdx.Action, completions []func(state any)) {
	if len(remaining) == 0 {
		next := s.reduce(ctx, action)
		for i := len(completions) - 1; i >= 0; i-- {
			completions[i](next)
		}
		return
	}

	cont := &step[S]{
		store:       weak.Make(s),
		ctx:         ctx,
		remaining:   remaining[1:],
		action:      action,
		completions: completions,
	}
	remaining[0].Intercept(ctx, s.AnyState(), action, cont, s)
}

// ActionTypeName returns the Go type name used to label an action in logs,
// metrics and events.
func ActionTypeName(action rdx.Action) string {
	return fmt.Sprintf("%T", action)
}
