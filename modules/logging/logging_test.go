package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/gxo-labs/rdx/internal/logger"
	"github.com/gxo-labs/rdx/internal/state"
	"github.com/gxo-labs/rdx/modules/logging"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware_LogsActionAndState(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger("debug", "text", &buf)
	mw, err := logging.NewLoggingMiddleware(map[string]interface{}{
		"redact": []interface{}{"password"},
	}, log)
	require.NoError(t, err)

	s, err := store.New(logger.NewDiscardLogger(), state.NewDocument(nil), state.Reducer(), rdx.WithMiddleware(mw))
	require.NoError(t, err)

	s.Dispatch(context.Background(), state.SetValue{Path: "db.password", Value: "hunter2"})

	out := buf.String()
	assert.Contains(t, out, "Dispatching action")
	assert.Contains(t, out, "action_type=state.SetValue")
	assert.Contains(t, out, "path=db.password")
	assert.Contains(t, out, "dispatch_id=")
	assert.Contains(t, out, "Action reduced")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "hunter2")

	v, ok := s.State().Get("db.password")
	require.True(t, ok)
	assert.Equal(t, "hunter2", v, "logging never changes the action")
}

func TestLoggingMiddleware_WithoutState(t *testing.T) {
	var buf bytes.Buffer
	mw, err := logging.NewLoggingMiddleware(map[string]interface{}{"log_state": false, "level": "warn"},
		logger.NewLogger("warn", "text", &buf))
	require.NoError(t, err)
	s, err := store.New(logger.NewDiscardLogger(), state.NewDocument(nil), state.Reducer(), rdx.WithMiddleware(mw))
	require.NoError(t, err)

	s.Dispatch(context.Background(), state.Increment{Path: "n", By: 1})

	assert.Contains(t, buf.String(), "Dispatching action")
	assert.NotContains(t, buf.String(), "Action reduced")
	n, _ := s.State().Number("n")
	assert.Equal(t, 1.0, n)
}

func TestNewLoggingMiddleware_InvalidParams(t *testing.T) {
	testCases := []struct {
		name   string
		params map[string]interface{}
	}{
		{name: "unknown key", params: map[string]interface{}{"colour": "red"}},
		{name: "bad level", params: map[string]interface{}{"level": "trace"}},
		{name: "redact not a list", params: map[string]interface{}{"redact": 3}},
		{name: "log_state not a bool", params: map[string]interface{}{"log_state": "yes"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := logging.NewLoggingMiddleware(tc.params, logger.NewDiscardLogger())
			var validationErr *gxoerrors.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}
