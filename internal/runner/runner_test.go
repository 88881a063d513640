package runner_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gxo-labs/rdx/internal/logger"
	intMetrics "github.com/gxo-labs/rdx/internal/metrics"
	"github.com/gxo-labs/rdx/internal/middleware"
	"github.com/gxo-labs/rdx/internal/runner"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gxo-labs/rdx/modules/batch"
	_ "github.com/gxo-labs/rdx/modules/delay"
	_ "github.com/gxo-labs/rdx/modules/gate"
	_ "github.com/gxo-labs/rdx/modules/logging"
)

const testTimeout = 7 * time.Second

func setupTestRunner(t *testing.T, opts ...runner.Option) *runner.Runner {
	t.Helper()
	r, err := runner.New(logger.NewDiscardLogger(), middleware.DefaultStaticRegistryGetter, opts...)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func runYAML(t *testing.T, r *runner.Runner, scenario string) (*runner.Report, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	return r.Run(ctx, []byte(scenario))
}

func TestRunner_BlockOddScenario(t *testing.T) {
	r := setupTestRunner(t)

	report, err := runYAML(t, r, `
name: block-odd
schemaVersion: v1.0.0
initial_state:
  counter: 1
middleware:
  - type: logging
  - type: gate
    params:
      path: counter
      reject: odd
actions:
  - type: increment
    path: counter
  - type: increment
    path: counter
  - type: increment
    path: counter
    by: 2
watch: [counter]
expect:
  counter: 4
`)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, runner.StatusCompleted, report.Status)
	assert.Equal(t, "block-odd", report.ScenarioName)
	assert.Equal(t, 3, report.ActionsDispatched)
	assert.Equal(t, 2, report.StateTransitions, "2 -> 3 is blocked")
	assert.Equal(t, map[string]int{"counter": 2}, report.PathChanges)
	assert.Empty(t, report.FailedExpectations)
	assert.NotZero(t, report.Fingerprint)
	v, _ := report.FinalState.Get("counter")
	assert.Equal(t, 4, v)
}

func TestRunner_BatchAndDelaySettle(t *testing.T) {
	r := setupTestRunner(t)

	report, err := runYAML(t, r, `
schemaVersion: v1
middleware:
  - type: delay
    params:
      duration: 10ms
      action_types: [state.AppendValue]
  - type: batch
actions:
  - type: batch
    actions:
      - type: set
        path: user.name
        value: ada
      - type: append
        path: user.tags
        value: admin
expect:
  user:
    name: ada
    tags: [admin]
`)

	require.NoError(t, err)
	assert.Equal(t, "scenario", report.ScenarioName)
	assert.Equal(t, 1, report.AsyncOperations)
	assert.Equal(t, 2, report.StateTransitions)
}

func TestRunner_FailedExpectations(t *testing.T) {
	r := setupTestRunner(t)

	report, err := runYAML(t, r, `
name: wrong
schemaVersion: v1
actions:
  - type: set
    path: a
    value: 1.5
expect:
  a: 2
  b: missing
`)

	require.Error(t, err)
	assert.True(t, errors.Is(err, runner.ErrExpectationsNotMet))
	require.NotNil(t, report)
	assert.Equal(t, runner.StatusFailed, report.Status)
	require.Len(t, report.FailedExpectations, 2)
	assert.Equal(t, runner.Expectation{Path: "a", Want: 2, Got: 1.5, Found: true}, report.FailedExpectations[0])
	assert.Equal(t, "b", report.FailedExpectations[1].Path)
	assert.False(t, report.FailedExpectations[1].Found)
	assert.Contains(t, report.Error, "2 of 2 expectations failed")
}

func TestRunner_SettleTimeout(t *testing.T) {
	r := setupTestRunner(t)

	report, err := runYAML(t, r, `
schemaVersion: v1
middleware:
  - type: delay
    params:
      duration: 1h
actions:
  - type: set
    path: a
    value: 1
settle_timeout: 20ms
`)

	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrNotSettled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.StateTransitions)
}

func TestRunner_Errors(t *testing.T) {
	r := setupTestRunner(t)

	testCases := []struct {
		name  string
		yaml  string
		check func(t *testing.T, err error)
	}{
		{
			name: "invalid yaml",
			yaml: "schemaVersion: v1\nactions: [",
			check: func(t *testing.T, err error) {
				var cfgErr *gxoerrors.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
			},
		},
		{
			name: "unknown middleware",
			yaml: "schemaVersion: v1\nmiddleware:\n  - type: teleport\nactions:\n  - type: delete\n    path: a\n",
			check: func(t *testing.T, err error) {
				var notFound *gxoerrors.MiddlewareNotFoundError
				assert.ErrorAs(t, err, &notFound)
			},
		},
		{
			name: "bad middleware params",
			yaml: "schemaVersion: v1\nmiddleware:\n  - type: gate\n    params:\n      path: a\nactions:\n  - type: delete\n    path: a\n",
			check: func(t *testing.T, err error) {
				var mwErr *gxoerrors.MiddlewareError
				assert.ErrorAs(t, err, &mwErr)
				var validationErr *gxoerrors.ValidationError
				assert.ErrorAs(t, err, &validationErr)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := runYAML(t, r, tc.yaml)
			require.Error(t, err)
			assert.Nil(t, report)
			tc.check(t, err)
		})
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	r := setupTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := r.Run(ctx, []byte("schemaVersion: v1\nactions:\n  - type: set\n    path: a\n    value: 1\n"))

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.ActionsDispatched)
}

func TestRunner_Metrics(t *testing.T) {
	provider := intMetrics.NewPrometheusRegistryProvider()
	r := setupTestRunner(t, runner.WithMetricsRegistryProvider(provider))

	_, err := runYAML(t, r, "name: m\nschemaVersion: v1\nactions:\n  - type: set\n    path: a\n    value: 1\n")
	require.NoError(t, err)
	_, err = runYAML(t, r, "name: m\nschemaVersion: v1\nactions:\n  - type: set\n    path: a\n    value: 1\nexpect:\n  a: 2\n")
	require.Error(t, err)

	expected := `
# HELP rdx_scenario_runs_total Total number of scenario runs by final status.
# TYPE rdx_scenario_runs_total counter
rdx_scenario_runs_total{scenario="m",status="Completed"} 1
rdx_scenario_runs_total{scenario="m",status="Failed"} 1
# HELP rdx_state_transitions_total Total number of reduce steps executed.
# TYPE rdx_state_transitions_total counter
rdx_state_transitions_total{store="m"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(provider.Registry(), strings.NewReader(expected),
		"rdx_scenario_runs_total", "rdx_state_transitions_total"))
}

func TestNew_Validation(t *testing.T) {
	var cfgErr *gxoerrors.ConfigError

	_, err := runner.New(nil, middleware.NewStaticRegistry())
	assert.ErrorAs(t, err, &cfgErr)
	_, err = runner.New(logger.NewDiscardLogger(), nil)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = runner.New(logger.NewDiscardLogger(), middleware.NewStaticRegistry(), runner.WithEventBus(nil))
	assert.ErrorAs(t, err, &cfgErr)
	_, err = runner.New(logger.NewDiscardLogger(), middleware.NewStaticRegistry(), runner.WithTracerProvider(nil))
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunner_StoreOptionsApply(t *testing.T) {
	reg := middleware.NewStaticRegistry()
	var appended []string
	require.NoError(t, reg.Register("record", func(_ map[string]interface{}, _ gxolog.Logger) (rdx.Middleware, error) {
		return rdx.MiddlewareFunc(func(_ context.Context, _ any, _ rdx.Action, next rdx.Continuation, _ rdx.Dispatcher) {
			appended = append(appended, "record")
			_ = next.Next()
		}), nil
	}))
	extra := rdx.MiddlewareFunc(func(_ context.Context, _ any, _ rdx.Action, next rdx.Continuation, _ rdx.Dispatcher) {
		appended = append(appended, "extra")
		_ = next.Next()
	})
	r, err := runner.New(logger.NewDiscardLogger(), reg, runner.WithStoreOptions(rdx.WithMiddleware(extra)))
	require.NoError(t, err)

	_, err = runYAML(t, r, "schemaVersion: v1\nmiddleware:\n  - type: record\nactions:\n  - type: delete\n    path: a\n")

	require.NoError(t, err)
	assert.Equal(t, []string{"record", "extra"}, appended)
}
