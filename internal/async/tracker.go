// Package async tracks goroutines started by middleware so a caller can wait
// for suspended dispatch chains to finish.
package async

import (
	"context"
	"sync"
)

// Tracker counts running goroutines. Unlike a sync.WaitGroup, new work may be
// started at any time, including while another goroutine is waiting.
type Tracker struct {
	mu      sync.Mutex
	running int
	started int
	idle    chan struct{}
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

// Go runs fn on a new goroutine and tracks it until fn returns.
func (t *Tracker) Go(fn func()) {
	t.mu.Lock()
	if t.running == 0 {
		t.idle = make(chan struct{})
	}
	t.running++
	t.started++
	t.mu.Unlock()

	go func() {
		defer t.done()
		fn()
	}()
}

func (t *Tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running--
	if t.running == 0 {
		close(t.idle)
	}
}

// Running returns the number of goroutines that have not finished yet.
func (t *Tracker) Running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Started returns the total number of goroutines started through t.
func (t *Tracker) Started() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Wait blocks until no tracked goroutine is running or ctx is done. Work
// started by tracked goroutines before they finish is waited for as well.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.running == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// Go runs fn through the tracker in ctx, or on a plain goroutine when ctx
// carries none.
func Go(ctx context.Context, fn func()) {
	if t := FromContext(ctx); t != nil {
		t.Go(fn)
		return
	}
	go fn()
}
