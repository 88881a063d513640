package events_test

import (
	"context"
	"strings"
	"testing"
	"time"

	intEvents "github.com/gxo-labs/rdx/internal/events"
	"github.com/gxo-labs/rdx/internal/logger"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventBus_DropsWhenFull(t *testing.T) {
	bus := intEvents.NewChannelEventBus(2, logger.NewDiscardLogger())

	for i := 0; i < 5; i++ {
		bus.Emit(events.Event{Type: events.ActionDispatched})
	}

	assert.Equal(t, uint64(3), bus.Dropped())
	assert.Len(t, bus.GetChannel(), 2)
}

func TestChannelEventBus_EmitAfterCloseIsDiscarded(t *testing.T) {
	bus := intEvents.NewChannelEventBus(4, logger.NewDiscardLogger())
	bus.Close()
	bus.Close()

	assert.NotPanics(t, func() { bus.Emit(events.Event{Type: events.StoreCreated}) })
	_, ok := <-bus.GetChannel()
	assert.False(t, ok)
}

func TestNoOpEventBus(t *testing.T) {
	assert.NotPanics(t, func() { intEvents.NewNoOpEventBus().Emit(events.Event{}) })
}

func TestMetricsEventListener_CountsUntilClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter, err := intEvents.NewEventsCounter(reg)
	require.NoError(t, err)
	again, err := intEvents.NewEventsCounter(reg)
	require.NoError(t, err)
	assert.Same(t, counter, again, "an existing collector is reused")

	bus := intEvents.NewChannelEventBus(16, logger.NewDiscardLogger())
	listener := intEvents.NewMetricsEventListener(bus, counter, logger.NewDiscardLogger())
	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Start(context.Background())
	}()

	bus.Emit(events.Event{Type: events.StateChanged, StoreName: "s"})
	bus.Emit(events.Event{Type: events.StateChanged, StoreName: "s"})
	bus.Emit(events.Event{Type: events.ChainMisuse, StoreName: "s"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after the bus was closed")
	}

	expected := `
# HELP rdx_events_total Total number of store events observed on the event bus.
# TYPE rdx_events_total counter
rdx_events_total{store="s",type="ChainMisuse"} 1
rdx_events_total{store="s",type="StateChanged"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "rdx_events_total"))
}

func TestMetricsEventListener_StopsOnContext(t *testing.T) {
	counter, err := intEvents.NewEventsCounter(prometheus.NewRegistry())
	require.NoError(t, err)
	bus := intEvents.NewChannelEventBus(1, logger.NewDiscardLogger())
	defer bus.Close()
	listener := intEvents.NewMetricsEventListener(bus, counter, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		listener.Start(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancellation")
	}
}
