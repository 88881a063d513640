// Package runner executes scenario files: it builds a document store with the
// configured middleware, dispatches the scenario's actions, waits for
// suspended chains to settle and checks the expected document values.
package runner

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gxo-labs/rdx/internal/async"
	"github.com/gxo-labs/rdx/internal/config"
	intEvents "github.com/gxo-labs/rdx/internal/events"
	intMetrics "github.com/gxo-labs/rdx/internal/metrics"
	"github.com/gxo-labs/rdx/internal/state"
	intTracing "github.com/gxo-labs/rdx/internal/tracing"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/metrics"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/plugin"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	gxotracing "github.com/gxo-labs/rdx/pkg/rdx/v1/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName          = "github.com/gxo-labs/rdx/internal/runner"
	defaultScenarioName = "scenario"

	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// ErrExpectationsNotMet is returned when a scenario settles but some
// expected values differ.
var ErrExpectationsNotMet = errors.New("scenario expectations not met")

// ErrNotSettled is returned when suspended chains are still running once the
// settle timeout has elapsed. It wraps context.DeadlineExceeded.
var ErrNotSettled = fmt.Errorf("scenario did not settle: %w", context.DeadlineExceeded)

// Expectation is one failed `expect` entry.
type Expectation struct {
	Path  string
	Want  interface{}
	Got   interface{}
	Found bool
}

// Report summarizes a scenario run.
type Report struct {
	ScenarioName       string
	Status             string
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
	ActionsDispatched  int
	StateTransitions   int
	AsyncOperations    int
	PathChanges        map[string]int
	FinalState         state.Document
	Fingerprint        uint64
	FailedExpectations []Expectation
	Error              string
}

// Runner runs scenarios. A Runner may run many scenarios, one after another
// or concurrently; each run gets its own store.
type Runner struct {
	log             gxolog.Logger
	registry        plugin.Registry
	eventBus        events.Bus
	metricsProvider metrics.RegistryProvider
	tracerProvider  gxotracing.TracerProvider
	storeOpts       []rdx.StoreOption
	keywords        map[string]struct{}

	runsCounter *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// Option configures a Runner.
type Option func(*Runner) error

// WithEventBus sets the bus every scenario store emits to.
func WithEventBus(bus events.Bus) Option {
	return func(r *Runner) error {
		if bus == nil {
			return gxoerrors.NewConfigError("event bus cannot be nil", nil)
		}
		r.eventBus = bus
		return nil
	}
}

// WithMetricsRegistryProvider sets the registry for runner and store metrics.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) Option {
	return func(r *Runner) error {
		if provider == nil {
			return gxoerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		r.metricsProvider = provider
		return nil
	}
}

// WithTracerProvider sets the provider for runner and store spans.
func WithTracerProvider(provider gxotracing.TracerProvider) Option {
	return func(r *Runner) error {
		if provider == nil {
			return gxoerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		r.tracerProvider = provider
		return nil
	}
}

// WithStoreOptions appends options applied to every scenario store after
// the runner's own.
func WithStoreOptions(opts ...rdx.StoreOption) Option {
	return func(r *Runner) error {
		r.storeOpts = append(r.storeOpts, opts...)
		return nil
	}
}

// WithRedactedKeywords masks values following these keywords in recorded
// span errors and report messages.
func WithRedactedKeywords(keywords []string) Option {
	return func(r *Runner) error {
		r.keywords = intTracing.KeywordSet(keywords)
		return nil
	}
}

// New creates a Runner resolving middleware types through registry.
func New(log gxolog.Logger, registry plugin.Registry, opts ...Option) (*Runner, error) {
	if log == nil {
		return nil, gxoerrors.NewConfigError("logger cannot be nil", nil)
	}
	if registry == nil {
		return nil, gxoerrors.NewConfigError("middleware registry cannot be nil", nil)
	}
	r := &Runner{
		log:      log.With("component", "Runner"),
		registry: registry,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, gxoerrors.NewConfigError(fmt.Sprintf("failed to apply runner option: %v", err), err)
		}
	}

	if r.eventBus == nil {
		r.eventBus = intEvents.NewNoOpEventBus()
	}
	if r.metricsProvider == nil {
		r.metricsProvider = intMetrics.NewPrometheusRegistryProvider()
	}
	if r.tracerProvider == nil {
		tp, err := intTracing.NewNoOpProvider()
		if err != nil {
			return nil, gxoerrors.NewConfigError("failed to create default NoOp tracer provider", err)
		}
		r.tracerProvider = tp
	}
	if err := r.initMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) initMetrics() error {
	reg := r.metricsProvider.Registry()
	if reg == nil {
		return gxoerrors.NewConfigError("metrics provider returned a nil registry", nil)
	}
	var err error
	r.runsCounter, err = intMetrics.RegisterOrExisting(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdx_scenario_runs_total", Help: "Total number of scenario runs by final status."},
		[]string{"scenario", "status"},
	))
	if err != nil {
		return gxoerrors.NewConfigError("failed to register scenario runs counter", err)
	}
	r.runDuration, err = intMetrics.RegisterOrExisting(reg, prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "rdx_scenario_run_duration_seconds", Help: "Duration of scenario runs in seconds.", Buckets: prometheus.DefBuckets},
	))
	if err != nil {
		return gxoerrors.NewConfigError("failed to register scenario duration histogram", err)
	}
	return nil
}

// MetricsRegistryProvider returns the registry runner and store metrics use.
func (r *Runner) MetricsRegistryProvider() metrics.RegistryProvider { return r.metricsProvider }

// Run loads scenarioYAML and runs it.
func (r *Runner) Run(ctx context.Context, scenarioYAML []byte) (*Report, error) {
	scenario, err := config.LoadScenario(scenarioYAML, "scenario.yaml")
	if err != nil {
		r.log.Errorf("Failed to load or validate scenario: %v", err)
		return nil, err
	}
	return r.RunScenario(ctx, scenario)
}

// RunScenario runs an already loaded scenario. The returned report is
// non-nil whenever the scenario got far enough to build its store.
func (r *Runner) RunScenario(ctx context.Context, scenario *config.Scenario) (finalReport *Report, finalErr error) {
	if scenario == nil {
		return nil, gxoerrors.NewConfigError("scenario cannot be nil", nil)
	}
	name := scenario.Name
	if name == "" {
		name = defaultScenarioName
	}
	log := r.log.With("scenario", name)

	ctx, span := r.tracerProvider.GetTracer(tracerName).Start(ctx, "rdx.scenario.run")
	defer span.End()
	span.SetAttributes(intTracing.RedactAttributes([]attribute.KeyValue{
		attribute.String("rdx.scenario.name", name),
		attribute.String("rdx.scenario.file", scenario.FilePath),
		attribute.Int("rdx.scenario.actions", len(scenario.Actions)),
		attribute.Int("rdx.scenario.middleware", len(scenario.Middleware)),
	}, r.keywords)...)

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		status := StatusFailed
		if finalErr == nil {
			status = StatusCompleted
		}
		r.runDuration.Observe(duration.Seconds())
		r.runsCounter.WithLabelValues(name, status).Inc()
		span.SetAttributes(
			attribute.String("rdx.scenario.status", status),
			attribute.Int64("rdx.scenario.duration_ms", duration.Milliseconds()),
		)
		if finalErr != nil {
			intTracing.RecordErrorWithContext(span, finalErr, r.keywords)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		if finalReport != nil {
			finalReport.Status = status
			finalReport.StartTime = start
			finalReport.EndTime = start.Add(duration)
			finalReport.Duration = duration
			if finalErr != nil {
				finalReport.Error = intTracing.RedactSecretsInString(finalErr.Error(), r.keywords)
			}
		}
		log.Infof("Scenario finished with status %s in %v.", status, duration.Truncate(time.Millisecond))
	}()

	actions, err := state.ParseActions(scenario.Actions)
	if err != nil {
		return nil, err
	}
	mws, err := r.buildMiddleware(scenario.Middleware, log)
	if err != nil {
		return nil, err
	}

	opts := []rdx.StoreOption{
		rdx.WithName(name),
		rdx.WithEventBus(r.eventBus),
		rdx.WithMetricsRegistryProvider(r.metricsProvider),
		rdx.WithTracerProvider(r.tracerProvider),
		rdx.WithMappers(state.SummaryMapper()),
		rdx.WithMiddleware(mws...),
	}
	s, err := store.New(log, state.NewDocument(scenario.InitialState), state.Reducer(), append(opts, r.storeOpts...)...)
	if err != nil {
		return nil, err
	}

	transitions := &transitionCounter{}
	summary := &summaryLogger{log: log}
	watchers := make([]*pathWatcher, 0, len(scenario.Watch))
	if _, err := store.Subscribe[state.Document](s, transitions); err != nil {
		return nil, err
	}
	if _, err := store.Subscribe[state.Summary](s, summary); err != nil {
		return nil, err
	}
	for _, path := range scenario.Watch {
		w := &pathWatcher{path: path, log: log}
		if _, err := store.Subscribe[state.Document](s, w); err != nil {
			return nil, err
		}
		watchers = append(watchers, w)
	}
	defer runtime.KeepAlive(summary)

	report := &Report{ScenarioName: name}
	finish := func() {
		report.StateTransitions = transitions.Count()
		report.FinalState = s.State()
		report.PathChanges = make(map[string]int, len(watchers))
		for _, w := range watchers {
			report.PathChanges[w.path] = w.Changes()
		}
		if fp, fpErr := s.Fingerprint(); fpErr == nil {
			report.Fingerprint = fp
		} else {
			log.Warnf("Failed to fingerprint final state: %v", fpErr)
		}
	}

	tracker := async.NewTracker()
	runCtx := async.WithTracker(ctx, tracker)
	log.Infof("Dispatching %d actions through %d middleware.", len(actions), len(mws))
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			finish()
			return report, err
		}
		s.Dispatch(runCtx, action)
		report.ActionsDispatched++
	}

	settleErr := r.settle(ctx, tracker, scenario.SettleTimeout, log)
	report.AsyncOperations = tracker.Started()
	finish()
	if settleErr != nil {
		return report, settleErr
	}

	report.FailedExpectations = checkExpectations(report.FinalState, scenario.Expect)
	for _, f := range report.FailedExpectations {
		if f.Found {
			log.Errorf("Expectation failed for '%s': want %v, got %v", f.Path, f.Want, f.Got)
		} else {
			log.Errorf("Expectation failed for '%s': want %v, path not found", f.Path, f.Want)
		}
	}
	if n := len(report.FailedExpectations); n > 0 {
		return report, fmt.Errorf("%d of %d expectations failed: %w", n, len(scenario.Expect), ErrExpectationsNotMet)
	}
	return report, nil
}

func (r *Runner) buildMiddleware(specs []config.MiddlewareSpec, log gxolog.Logger) ([]rdx.Middleware, error) {
	mws := make([]rdx.Middleware, 0, len(specs))
	for i, spec := range specs {
		factory, err := r.registry.Get(spec.Type)
		if err != nil {
			return nil, err
		}
		params := spec.Params
		if params == nil {
			params = map[string]interface{}{}
		}
		mw, err := factory(params, log.With("middleware", spec.Type))
		if err != nil {
			return nil, gxoerrors.NewMiddlewareError(spec.Type, fmt.Errorf("middleware %d: %w", i, err))
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

// settle waits for tracked goroutines, bounded by the scenario's timeout.
func (r *Runner) settle(ctx context.Context, tracker *async.Tracker, timeoutStr string, log gxolog.Logger) error {
	if timeoutStr == "" {
		timeoutStr = config.DefaultSettleTimeout
	}
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return gxoerrors.NewValidationError(fmt.Sprintf("invalid settle_timeout '%s'", timeoutStr), err)
	}
	if tracker.Running() > 0 {
		log.Debugf("Waiting up to %v for %d suspended chains to settle.", timeout, tracker.Running())
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := tracker.Wait(waitCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Errorf("%d chains still running after %v.", tracker.Running(), timeout)
		return fmt.Errorf("%w after %v", ErrNotSettled, timeout)
	}
	return nil
}

func checkExpectations(doc state.Document, expect map[string]interface{}) []Expectation {
	paths := make([]string, 0, len(expect))
	for path := range expect {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var failed []Expectation
	for _, path := range paths {
		want := expect[path]
		got, found := doc.Get(path)
		if found && reflect.DeepEqual(normalize(want), normalize(got)) {
			continue
		}
		failed = append(failed, Expectation{Path: path, Want: want, Got: got, Found: found})
	}
	return failed
}

// normalize turns every number into a float64 so YAML ints and reducer
// floats compare equal.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

type transitionCounter struct {
	store.BaseSubscriber[state.Document]
	mu    sync.Mutex
	count int
}

func (c *transitionCounter) DidChange(state.Document, state.Document) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *transitionCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type summaryLogger struct {
	store.BaseSubscriber[state.Summary]
	log gxolog.Logger
}

func (l *summaryLogger) DidSet(s state.Summary) {
	l.log.Debugf("Document has %d top-level keys: %v", s.Size, s.Keys)
}

// pathWatcher logs every change of the value at one path.
type pathWatcher struct {
	store.BaseSubscriber[state.Document]
	path    string
	log     gxolog.Logger
	mu      sync.Mutex
	changes int
}

func (w *pathWatcher) DidChange(current, old state.Document) {
	now, nowFound := current.Get(w.path)
	before, beforeFound := old.Get(w.path)
	if nowFound == beforeFound && reflect.DeepEqual(now, before) {
		return
	}
	w.mu.Lock()
	w.changes++
	w.mu.Unlock()
	switch {
	case !nowFound:
		w.log.Infof("Watched path '%s' removed (was %v)", w.path, before)
	case !beforeFound:
		w.log.Infof("Watched path '%s' set to %v", w.path, now)
	default:
		w.log.Infof("Watched path '%s' changed: %v -> %v", w.path, before, now)
	}
}

func (w *pathWatcher) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}
