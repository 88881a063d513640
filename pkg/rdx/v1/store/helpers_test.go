package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gxo-labs/rdx/internal/logger"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Count int `yaml:"count"`
}

func (c counter) String() string { return fmt.Sprintf("count=%d", c.Count) }

type increment struct{}

type add struct{ By int }

type reset struct{}

type labeled interface{ Label() string }

type named struct{ name string }

func (n named) Label() string { return n.name }

func counterReducer() store.Reducer[counter] {
	return store.Combine(
		store.On(func(s counter, _ increment) counter { return counter{Count: s.Count + 1} }),
		store.On(func(s counter, a add) counter { return counter{Count: s.Count + a.By} }),
		store.On(func(_ counter, _ reset) counter { return counter{} }),
	)
}

func newCounterStore(t *testing.T, initial int, opts ...rdx.StoreOption) *store.Store[counter] {
	t.Helper()
	s, err := store.New(logger.NewDiscardLogger(), counter{Count: initial}, counterReducer(), opts...)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

// passThrough forwards every action unchanged.
func passThrough() rdx.Middleware {
	return rdx.MiddlewareFunc(func(_ context.Context, _ any, _ rdx.Action, next rdx.Continuation, _ rdx.Dispatcher) {
		_ = next.Next()
	})
}

// recorder logs every callback it receives as a short string.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) WillChange(s counter) { r.record("will:%d", s.Count) }
func (r *recorder) DidChange(s, old counter) {
	r.record("did:%d<-%d", s.Count, old.Count)
}
func (r *recorder) DidSet(s counter) { r.record("set:%d", s.Count) }

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
