package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gxo-labs/rdx/internal/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_WaitIdle(t *testing.T) {
	tr := async.NewTracker()
	require.NoError(t, tr.Wait(context.Background()))
	assert.Equal(t, 0, tr.Running())
}

func TestTracker_WaitsForNestedWork(t *testing.T) {
	tr := async.NewTracker()
	ctx := async.WithTracker(context.Background(), tr)
	var finished atomic.Int32

	async.Go(ctx, func() {
		time.Sleep(10 * time.Millisecond)
		async.Go(ctx, func() {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
		finished.Add(1)
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(waitCtx))
	assert.Equal(t, int32(2), finished.Load())
	assert.Equal(t, 2, tr.Started())
	assert.Equal(t, 0, tr.Running())
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tr := async.NewTracker()
	release := make(chan struct{})
	defer close(release)
	tr.Go(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, tr.Running())
}

func TestGo_WithoutTracker(t *testing.T) {
	assert.Nil(t, async.FromContext(context.Background()))
	done := make(chan struct{})
	async.Go(context.Background(), func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("untracked goroutine did not run")
	}
}
