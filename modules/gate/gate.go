// Package gate provides a middleware that swallows increments which would
// leave a counter with a rejected parity.
package gate

import (
	"context"
	"math"

	"github.com/gxo-labs/rdx/internal/config"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/paramutil"
	"github.com/gxo-labs/rdx/internal/state"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
)

const (
	RejectOdd  = "odd"
	RejectEven = "even"
)

func init() {
	middleware.Register("gate", NewGateMiddleware)
}

// NewGateMiddleware is the factory for the gate middleware.
//
// Params: path (required, the counter to guard), reject (required, odd|even).
// Only Increment actions on that path are inspected; a missing counter counts
// as zero and results that are not whole numbers always pass.
func NewGateMiddleware(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error) {
	if err := paramutil.CheckAllowed(params, []string{"path", "reject"}); err != nil {
		return nil, err
	}
	path, err := paramutil.GetRequiredString(params, "path")
	if err != nil {
		return nil, err
	}
	if !config.ValidPath(path) {
		return nil, gxoerrors.NewValidationError("parameter 'path' is not a valid path: '"+path+"'", nil)
	}
	reject, err := paramutil.GetRequiredString(params, "reject")
	if err != nil {
		return nil, err
	}
	if err := paramutil.CheckOneOf("reject", reject, RejectOdd, RejectEven); err != nil {
		return nil, err
	}

	return store.MiddlewareOf(func(ctx context.Context, doc state.Document, action state.Increment, next rdx.Continuation, _ rdx.Dispatcher) {
		if action.Path != path {
			_ = next.Next()
			return
		}
		current, ok := doc.Number(path)
		if !ok {
			if _, exists := doc.Get(path); exists {
				_ = next.Next()
				return
			}
		}
		result := current + action.By
		if result != math.Trunc(result) {
			_ = next.Next()
			return
		}
		odd := math.Mod(math.Abs(result), 2) == 1
		if (reject == RejectOdd) == odd {
			log.Debugf("Gate rejected increment of '%s' to %v", path, result)
			return
		}
		_ = next.Next()
	}), nil
}
