package exec_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gxo-labs/rdx/internal/async"
	"github.com/gxo-labs/rdx/internal/command"
	"github.com/gxo-labs/rdx/internal/logger"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/state"
	"github.com/gxo-labs/rdx/modules/exec"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// fakeRunner replays scripted results and records every request.
type fakeRunner struct {
	mu       sync.Mutex
	results  []*command.Result
	errs     []error
	requests []command.Request
}

func (f *fakeRunner) Run(_ context.Context, req command.Request) (*command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func run(t *testing.T, ctx context.Context, params map[string]interface{}, runner command.Runner, action rdx.Action) state.Document {
	t.Helper()
	mw, err := exec.New(params, logger.NewDiscardLogger(), runner)
	require.NoError(t, err)
	s, err := store.New(logger.NewDiscardLogger(), state.NewDocument(nil), state.Reducer(), rdx.WithMiddleware(mw))
	require.NoError(t, err)

	tracker := async.NewTracker()
	s.Dispatch(async.WithTracker(ctx, tracker), action)
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(waitCtx))
	return s.State()
}

func TestExec_StoresOutcome(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{Stdout: "hi\n", ExitCode: 0}}}

	doc := run(t, context.Background(), nil, runner, state.Exec{
		Path: "results.echo", Command: "echo", Args: []string{"hi"}, Environment: map[string]string{"A": "1"},
	})

	got, ok := doc.Get("results.echo")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"stdout": "hi\n", "stderr": "", "exit_code": 0, "error": ""}, got)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, command.Request{Command: "echo", Args: []string{"hi"}, Environment: map[string]string{"A": "1"}}, runner.requests[0])
}

func TestExec_RetriesNonZeroExit(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{
		{Stderr: "busy", ExitCode: 1},
		{Stdout: "done", ExitCode: 0},
	}}

	doc := run(t, context.Background(), map[string]interface{}{"attempts": 3, "delay": "1ms"}, runner,
		state.Exec{Path: "out", Command: "flaky"})

	assert.Equal(t, 2, runner.calls())
	got, _ := doc.Get("out.stdout")
	assert.Equal(t, "done", got)
}

func TestExec_FailureIsRecordedAndRedacted(t *testing.T) {
	runner := &fakeRunner{
		results: []*command.Result{{Stdout: "token=abc123", ExitCode: -1}},
		errs:    []error{errors.New("exec: not found, token=abc123")},
	}

	doc := run(t, context.Background(), map[string]interface{}{"redact": []interface{}{"token"}}, runner,
		state.Exec{Path: "out", Command: "missing"})

	got, _ := doc.Get("out")
	m := got.(map[string]interface{})
	assert.Equal(t, -1, m["exit_code"])
	assert.Equal(t, "token=[REDACTED]", m["stdout"])
	assert.Contains(t, m["error"], "[REDACTED]")
	assert.NotContains(t, m["error"], "abc123")
}

func TestExec_SecretEnvIsPassedAndMasked(t *testing.T) {
	t.Setenv("RDX_EXEC_TEST_TOKEN", "hunter2")
	runner := &fakeRunner{results: []*command.Result{{Stdout: "using hunter2", Stderr: "auth hunter2 ok"}}}

	doc := run(t, context.Background(), map[string]interface{}{"secret_env": []interface{}{"RDX_EXEC_TEST_TOKEN"}}, runner,
		state.Exec{Path: "out", Command: "deploy", Environment: map[string]string{"A": "1"}})

	require.Len(t, runner.requests, 1)
	assert.Equal(t, map[string]string{"A": "1", "RDX_EXEC_TEST_TOKEN": "hunter2"}, runner.requests[0].Environment)
	stdout, _ := doc.Get("out.stdout")
	assert.Equal(t, "using [REDACTED]", stdout)
	stderr, _ := doc.Get("out.stderr")
	assert.Equal(t, "auth [REDACTED] ok", stderr)
}

func TestExec_EnvironmentLayers(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{}}}
	params := map[string]interface{}{"env": map[string]interface{}{"A": "base", "B": "base"}}

	run(t, context.Background(), params, runner,
		state.Exec{Path: "out", Command: "env", Environment: map[string]string{"B": "request"}})

	require.Len(t, runner.requests, 1)
	assert.Equal(t, map[string]string{"A": "base", "B": "request"}, runner.requests[0].Environment)
}

func TestExec_DryRunEnvironmentIsRedacted(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{}}}
	ctx := context.WithValue(context.Background(), middleware.DryRunKey{}, true)
	params := map[string]interface{}{"redact": []interface{}{"token"}}

	doc := run(t, ctx, params, runner, state.Exec{
		Path: "out", Command: "deploy", Environment: map[string]string{"API_TOKEN": "abc", "USER": "ada"},
	})

	env, ok := doc.Get("out.environment")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"API_TOKEN": "[REDACTED]", "USER": "ada"}, env)
}

// recordingProvider keeps every finished span in memory.
type recordingProvider struct {
	tp       *sdktrace.TracerProvider
	exporter *tracetest.InMemoryExporter
}

func (p *recordingProvider) GetTracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return p.tp.Tracer(name, opts...)
}

func (p *recordingProvider) Shutdown(ctx context.Context) error { return p.tp.Shutdown(ctx) }

func TestExec_SpanEventIsRedacted(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := &recordingProvider{tp: sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), exporter: exporter}
	runner := &fakeRunner{results: []*command.Result{{}}}
	mw, err := exec.New(map[string]interface{}{"redact": []interface{}{"password"}}, logger.NewDiscardLogger(), runner)
	require.NoError(t, err)
	s, err := store.New(logger.NewDiscardLogger(), state.NewDocument(nil), state.Reducer(),
		rdx.WithMiddleware(mw), rdx.WithTracerProvider(provider))
	require.NoError(t, err)

	tracker := async.NewTracker()
	s.Dispatch(async.WithTracker(context.Background(), tracker), state.Exec{
		Path: "out", Command: "psql", Args: []string{"-c", "select 1"},
		Environment: map[string]string{"PGPASSWORD": "hunter2", "PGUSER": "ada"},
	})
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracker.Wait(waitCtx))

	var attrs map[string]string
	for _, span := range exporter.GetSpans() {
		for _, ev := range span.Events {
			if ev.Name != "rdx.exec" {
				continue
			}
			attrs = map[string]string{}
			for _, kv := range ev.Attributes {
				attrs[string(kv.Key)] = kv.Value.Emit()
			}
		}
	}
	require.NotNil(t, attrs, "exec event was not recorded")
	assert.Equal(t, "psql", attrs["rdx.exec.command"])
	assert.Equal(t, "2", attrs["rdx.exec.args"])
	assert.Equal(t, "[REDACTED]", attrs["rdx.exec.env.PGPASSWORD"])
	assert.Equal(t, "ada", attrs["rdx.exec.env.PGUSER"])
}

func TestExec_DryRunDoesNotRun(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{}}}
	ctx := context.WithValue(context.Background(), middleware.DryRunKey{}, true)

	doc := run(t, ctx, nil, runner, state.Exec{Path: "out", Command: "rm", Args: []string{"-rf", "/tmp/x"}})

	assert.Equal(t, 0, runner.calls())
	dry, _ := doc.Get("out.dry_run")
	assert.Equal(t, true, dry)
	args, _ := doc.Get("out.args")
	assert.Equal(t, []interface{}{"-rf", "/tmp/x"}, args)
}

func TestExec_AllowList(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{}}}

	doc := run(t, context.Background(), map[string]interface{}{"allow": []interface{}{"echo"}}, runner,
		state.Exec{Path: "out", Command: "curl"})

	assert.Equal(t, 0, runner.calls())
	msg, _ := doc.Get("out.error")
	assert.Contains(t, msg, "not allowed")
}

func TestExec_OtherActionsPassThrough(t *testing.T) {
	runner := &fakeRunner{results: []*command.Result{{}}}

	doc := run(t, context.Background(), nil, runner, state.SetValue{Path: "a", Value: 1})

	v, _ := doc.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, runner.calls())
}

func TestNew_InvalidParams(t *testing.T) {
	var validationErr *gxoerrors.ValidationError
	_, err := exec.New(map[string]interface{}{"attempts": -1}, logger.NewDiscardLogger(), &fakeRunner{})
	assert.ErrorAs(t, err, &validationErr)
	_, err = exec.New(map[string]interface{}{"timeout": "later"}, logger.NewDiscardLogger(), &fakeRunner{})
	assert.ErrorAs(t, err, &validationErr)
	_, err = exec.New(map[string]interface{}{"shell": true}, logger.NewDiscardLogger(), &fakeRunner{})
	assert.ErrorAs(t, err, &validationErr)

	_, err = exec.New(map[string]interface{}{"env": map[string]interface{}{"A": 1}}, logger.NewDiscardLogger(), &fakeRunner{})
	assert.ErrorAs(t, err, &validationErr)
	_, err = exec.New(map[string]interface{}{"secret_env": []interface{}{"RDX_EXEC_TEST_UNSET_VAR"}}, logger.NewDiscardLogger(), &fakeRunner{})
	assert.ErrorAs(t, err, &validationErr)

	var cfgErr *gxoerrors.ConfigError
	_, err = exec.New(nil, logger.NewDiscardLogger(), nil)
	assert.ErrorAs(t, err, &cfgErr)
}
