package store

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	intEvents "github.com/gxo-labs/rdx/internal/events"
	intMetrics "github.com/gxo-labs/rdx/internal/metrics"
	intTracing "github.com/gxo-labs/rdx/internal/tracing"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/metrics"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

const (
	tracerName  = "github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	defaultName = "default"
)

type dispatchIDKey struct{}

// DispatchIDFromContext returns the id of the dispatch a middleware is
// running in.
func DispatchIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(dispatchIDKey{}).(string)
	return id, ok
}

// Store is the single owner of a state value of type S. Dispatch is the only
// way to change it.
//
// Chains started by concurrent Dispatch calls are not ordered against each
// other; a store is meant to be driven from one goroutine at a time. Reads
// through State are always safe.
type Store[S any] struct {
	name    string
	log     gxolog.Logger
	reducer Reducer[S]

	stateMu sync.RWMutex
	state   S

	mwMu       sync.RWMutex
	middleware []rdx.Middleware

	subs *registry

	eventBus        events.Bus
	metricsProvider metrics.RegistryProvider
	tracerProvider  tracing.TracerProvider
	tracer          trace.Tracer
	sealed          bool

	dispatched     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	reduceDuration *prometheus.HistogramVec
	subscribers    *prometheus.GaugeVec
	misuse         *prometheus.CounterVec
}

var (
	_ rdx.StoreV1 = (*Store[struct{}])(nil)
	_ Source[int] = (*Store[int])(nil)
)

// New creates a store holding initial. A nil reducer is replaced by Empty.
// Options are applied in order; any failure, including duplicate mappers,
// aborts construction with a ConfigError.
func New[S any](log gxolog.Logger, initial S, reducer Reducer[S], opts ...rdx.StoreOption) (*Store[S], error) {
	if log == nil {
		return nil, gxoerrors.NewConfigError("logger cannot be nil", nil)
	}
	if reducer == nil {
		reducer = Empty[S]()
	}

	s := &Store[S]{
		name:    defaultName,
		log:     log,
		reducer: reducer,
		state:   initial,
		subs:    newRegistry(reflect.TypeFor[S]()),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, gxoerrors.NewConfigError(fmt.Sprintf("failed to apply store option: %v", err), err)
		}
	}

	s.log = log.With("component", "Store", "store", s.name)
	if s.eventBus == nil {
		s.log.Debugf("No event bus provided, using default NoOp bus.")
		s.eventBus = intEvents.NewNoOpEventBus()
	}
	if s.metricsProvider == nil {
		s.log.Debugf("No metrics provider provided, using default Prometheus provider.")
		s.metricsProvider = intMetrics.NewPrometheusRegistryProvider()
	}
	if s.tracerProvider == nil {
		s.log.Debugf("No tracer provider provided, using default NoOp provider.")
		tp, err := intTracing.NewNoOpProvider()
		if err != nil {
			return nil, gxoerrors.NewConfigError("failed to create default NoOp tracer provider", err)
		}
		s.tracerProvider = tp
	}
	s.tracer = s.tracerProvider.GetTracer(tracerName)

	if err := s.initMetrics(); err != nil {
		return nil, gxoerrors.NewConfigError("failed to register store metrics", err)
	}
	s.subs.onMembership = s.membershipChanged
	s.sealed = true

	s.emit(context.Background(), events.StoreCreated, rdx.Action(nil), map[string]interface{}{
		"state_type": reflect.TypeFor[S]().String(),
		"middleware": len(s.middleware),
	})
	s.log.Debugf("Store created with %d middleware.", len(s.middleware))
	return s, nil
}

func (s *Store[S]) initMetrics() error {
	reg := s.metricsProvider.Registry()
	if reg == nil {
		return fmt.Errorf("metrics provider returned a nil registry")
	}

	var err error
	if s.dispatched, err = intMetrics.RegisterOrExisting(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdx_actions_dispatched_total", Help: "Total number of actions dispatched to a store."},
		[]string{"store", "action_type"},
	)); err != nil {
		return err
	}
	if s.transitions, err = intMetrics.RegisterOrExisting(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdx_state_transitions_total", Help: "Total number of reduce steps executed."},
		[]string{"store"},
	)); err != nil {
		return err
	}
	if s.reduceDuration, err = intMetrics.RegisterOrExisting(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "rdx_reduce_duration_seconds", Help: "Duration of reducer execution in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"store"},
	)); err != nil {
		return err
	}
	if s.subscribers, err = intMetrics.RegisterOrExisting(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rdx_subscribers", Help: "Number of live subscribers."},
		[]string{"store"},
	)); err != nil {
		return err
	}
	if s.misuse, err = intMetrics.RegisterOrExisting(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdx_chain_misuse_total", Help: "Total number of continuations invoked more than once."},
		[]string{"store"},
	)); err != nil {
		return err
	}
	s.subscribers.WithLabelValues(s.name).Set(0)
	return nil
}

// Dispatch sends action through the middleware chain. The chain runs on the
// calling goroutine until a middleware suspends it or it reaches the reducer.
// Middleware appended afterwards does not affect this dispatch.
func (s *Store[S]) Dispatch(ctx context.Context, action rdx.Action) {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	actionType := ActionTypeName(action)

	attrs := []attribute.KeyValue{
		attribute.String("rdx.store", s.name),
		attribute.String("rdx.action_type", actionType),
		attribute.String("rdx.dispatch_id", id),
	}
	logArgs := []any{"dispatch_id", id, "action_type", actionType}
	if parent, ok := DispatchIDFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("rdx.parent_dispatch_id", parent))
		logArgs = append(logArgs, "parent_dispatch_id", parent)
	}

	ctx, span := s.tracer.Start(ctx, "rdx.store.dispatch", trace.WithAttributes(attrs...))
	defer span.End()
	ctx = context.WithValue(ctx, dispatchIDKey{}, id)

	s.dispatched.WithLabelValues(s.name, actionType).Inc()
	s.log.LogCtx(ctx, slog.LevelDebug, "Dispatching action", logArgs...)
	s.emit(ctx, events.ActionDispatched, action, nil)

	s.mwMu.RLock()
	chain := slices.Clone(s.middleware)
	s.mwMu.RUnlock()

	s.advance(ctx, chain, action, nil)
}

// reduce runs the reducer and notifies subscribers around the swap.
func (s *Store[S]) reduce(ctx context.Context, action rdx.Action) S {
	ctx, span := s.tracer.Start(ctx, "rdx.store.reduce")
	defer span.End()

	old := s.State()
	s.subs.notifyWillChange(old)

	start := time.Now()
	next := s.reducer.Reduce(old, action)
	s.reduceDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())

	s.stateMu.Lock()
	s.state = next
	s.stateMu.Unlock()
	s.transitions.WithLabelValues(s.name).Inc()

	s.subs.notifyDidChange(next, old)
	s.emit(ctx, events.StateChanged, action, nil)
	return next
}

func (s *Store[S]) reportMisuse(ctx context.Context, err *gxoerrors.ChainMisuseError) {
	s.misuse.WithLabelValues(s.name).Inc()
	s.log.Warnf("Ignoring repeated continuation call: %v", err)
	s.emit(ctx, events.ChainMisuse, nil, map[string]interface{}{
		"action_type": err.ActionType,
		"reason":      err.Reason,
	})
	trace.SpanFromContext(ctx).AddEvent("rdx.chain.misuse", trace.WithAttributes(attribute.String("reason", err.Reason)))
}

func (s *Store[S]) membershipChanged(change events.EventType, affected, live int) {
	s.subscribers.WithLabelValues(s.name).Set(float64(live))
	if change == events.SubscribersPruned {
		s.log.Debugf("Pruned %d collected subscriber(s), %d remaining.", affected, live)
	}
	s.emit(context.Background(), change, nil, map[string]interface{}{
		"affected": affected,
		"live":     live,
	})
}

func (s *Store[S]) emit(ctx context.Context, typ events.EventType, action rdx.Action, payload map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	evt := events.Event{
		Type:      typ,
		Timestamp: time.Now(),
		StoreName: s.name,
		Payload:   payload,
	}
	if id, ok := DispatchIDFromContext(ctx); ok {
		evt.DispatchID = id
	}
	if action != nil {
		evt.ActionType = ActionTypeName(action)
	}
	s.eventBus.Emit(evt)
}

// State returns the current state.
func (s *Store[S]) State() S {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// AnyState returns the current state as an untyped value.
func (s *Store[S]) AnyState() any { return s.State() }

func (s *Store[S]) registry() *registry { return s.subs }

// Name returns the store name.
func (s *Store[S]) Name() string { return s.name }

// AppendMiddleware adds middleware to the end of the chain. Nil entries are
// ignored.
func (s *Store[S]) AppendMiddleware(middleware ...rdx.Middleware) {
	added := 0
	s.mwMu.Lock()
	for _, mw := range middleware {
		if mw == nil {
			continue
		}
		s.middleware = append(s.middleware, mw)
		added++
	}
	total := len(s.middleware)
	s.mwMu.Unlock()

	if added != len(middleware) {
		s.log.Warnf("Ignored %d nil middleware.", len(middleware)-added)
	}
	if added > 0 && s.sealed {
		s.emit(context.Background(), events.MiddlewareAppended, nil, map[string]interface{}{
			"added": added,
			"total": total,
		})
	}
}

// SubscriberCount returns the number of live subscriptions.
func (s *Store[S]) SubscriberCount() int { return s.subs.count() }

// Fingerprint hashes the YAML encoding of the current state. Equal states
// with deterministic encodings produce equal fingerprints.
func (s *Store[S]) Fingerprint() (uint64, error) {
	data, err := yaml.Marshal(s.State())
	if err != nil {
		return 0, fmt.Errorf("failed to encode state for fingerprint: %w", err)
	}
	return xxhash.Sum64(data), nil
}

func (s *Store[S]) MetricsRegistryProvider() metrics.RegistryProvider { return s.metricsProvider }

func (s *Store[S]) TracerProvider() tracing.TracerProvider { return s.tracerProvider }

func (s *Store[S]) checkOpen(what string) error {
	if s.sealed {
		return gxoerrors.NewConfigError(fmt.Sprintf("%s can only be set at construction", what), nil)
	}
	return nil
}

func (s *Store[S]) SetName(name string) error {
	if err := s.checkOpen("store name"); err != nil {
		return err
	}
	s.name = name
	return nil
}

func (s *Store[S]) SetEventBus(bus events.Bus) error {
	if err := s.checkOpen("event bus"); err != nil {
		return err
	}
	s.eventBus = bus
	return nil
}

func (s *Store[S]) SetMetricsRegistryProvider(provider metrics.RegistryProvider) error {
	if err := s.checkOpen("metrics provider"); err != nil {
		return err
	}
	s.metricsProvider = provider
	return nil
}

func (s *Store[S]) SetTracerProvider(provider tracing.TracerProvider) error {
	if err := s.checkOpen("tracer provider"); err != nil {
		return err
	}
	s.tracerProvider = provider
	return nil
}

func (s *Store[S]) AddMappers(mappers ...rdx.Mapper) error {
	if err := s.checkOpen("mappers"); err != nil {
		return err
	}
	return s.subs.addMappers(mappers...)
}
