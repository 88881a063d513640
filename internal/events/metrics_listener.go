package events

import (
	"context"

	intmetrics "github.com/gxo-labs/rdx/internal/metrics"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsEventListener drains a ChannelEventBus and counts every event it
// sees by store and type.
type MetricsEventListener struct {
	bus     *ChannelEventBus
	log     gxolog.Logger
	counter *prometheus.CounterVec
}

// NewEventsCounter creates the `rdx_events_total` collector consumed by
// MetricsEventListener and registers it on reg. If an identical collector is
// already registered, that one is returned.
func NewEventsCounter(reg prometheus.Registerer) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdx_events_total", Help: "Total number of store events observed on the event bus."},
		[]string{"store", "type"},
	)
	return intmetrics.RegisterOrExisting(reg, counter)
}

// NewMetricsEventListener creates a new listener.
func NewMetricsEventListener(bus *ChannelEventBus, counter *prometheus.CounterVec, log gxolog.Logger) *MetricsEventListener {
	if bus == nil || counter == nil || log == nil {
		panic("MetricsEventListener requires a non-nil ChannelEventBus, Prometheus CounterVec, and Logger")
	}
	return &MetricsEventListener{
		bus:     bus,
		log:     log.With("component", "MetricsEventListener"),
		counter: counter,
	}
}

// Start consumes events until the bus is closed or ctx is done. It blocks;
// run it on its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

func (l *MetricsEventListener) handleEvent(event events.Event) {
	l.counter.WithLabelValues(event.StoreName, string(event.Type)).Inc()
	if event.Type == events.ChainMisuse {
		l.log.Debugf("Observed chain misuse in store '%s' for action %s", event.StoreName, event.ActionType)
	}
}
