package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gxo-labs/rdx/internal/config"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: block-odd
schemaVersion: v1.0.0
initial_state:
  counter:
    value: 0
middleware:
  - type: logging
  - type: gate
    params:
      path: counter.value
      reject: odd
actions:
  - type: increment
    path: counter.value
  - type: batch
    actions:
      - type: set
        path: status
        value: ready
      - type: exec
        path: results.echo
        command: echo
        args: ["hi"]
watch:
  - counter.value
expect:
  counter.value: 0
settle_timeout: 2s
`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := config.LoadScenario([]byte(validScenario), "inline")
	require.NoError(t, err)

	assert.Equal(t, "block-odd", s.Name)
	assert.Equal(t, "inline", s.FilePath)
	require.Len(t, s.Middleware, 2)
	assert.Equal(t, "gate", s.Middleware[1].Type)
	assert.Equal(t, "odd", s.Middleware[1].Params["reject"])
	require.Len(t, s.Actions, 2)
	assert.Equal(t, config.ActionIncrement, s.Actions[0].Type)
	assert.Nil(t, s.Actions[0].By)
	require.Len(t, s.Actions[1].Actions, 2)
	assert.Equal(t, []string{"hi"}, s.Actions[1].Actions[1].Args)
	assert.Equal(t, map[string]interface{}{"value": 0}, s.InitialState["counter"])
	assert.Equal(t, "2s", s.SettleTimeout)
}

func TestLoadScenario_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		yaml     string
		wantType interface{}
		contains string
	}{
		{
			name:     "empty",
			yaml:     "  \n",
			wantType: &gxoerrors.ConfigError{},
		},
		{
			name:     "unknown action type",
			yaml:     "schemaVersion: v1\nactions:\n  - type: explode\n    path: a\n",
			wantType: &gxoerrors.ConfigError{},
		},
		{
			name:     "unknown top-level field",
			yaml:     "schemaVersion: v1\nactions: []\nextra: 1\n",
			wantType: &gxoerrors.ConfigError{},
		},
		{
			name:     "unsupported major version",
			yaml:     "schemaVersion: v2.0.0\nactions:\n  - type: delete\n    path: a\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "not compatible",
		},
		{
			name:     "invalid version",
			yaml:     "schemaVersion: banana\nactions:\n  - type: delete\n    path: a\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "invalid 'schemaVersion'",
		},
		{
			name:     "no actions",
			yaml:     "schemaVersion: v1\nactions: []\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "at least one action",
		},
		{
			name:     "bad path",
			yaml:     "schemaVersion: v1\nactions:\n  - type: set\n    path: a..b\n    value: 1\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "not a valid path",
		},
		{
			name:     "by on set",
			yaml:     "schemaVersion: v1\nactions:\n  - type: set\n    path: a\n    by: 2\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "'by' is only allowed",
		},
		{
			name:     "exec without command",
			yaml:     "schemaVersion: v1\nactions:\n  - type: exec\n    path: out\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "'command' is required",
		},
		{
			name:     "empty batch",
			yaml:     "schemaVersion: v1\nactions:\n  - type: batch\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "at least one action",
		},
		{
			name:     "nested batch error",
			yaml:     "schemaVersion: v1\nactions:\n  - type: batch\n    actions:\n      - type: increment\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "action 0.0",
		},
		{
			name:     "duplicate watch",
			yaml:     "schemaVersion: v1\nactions:\n  - type: delete\n    path: a\nwatch: [a, a]\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "duplicate path 'a'",
		},
		{
			name:     "bad settle timeout",
			yaml:     "schemaVersion: v1\nactions:\n  - type: delete\n    path: a\nsettle_timeout: soon\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "settle_timeout",
		},
		{
			name:     "bad middleware name",
			yaml:     "schemaVersion: v1\nmiddleware:\n  - type: Bad Name\nactions:\n  - type: delete\n    path: a\n",
			wantType: &gxoerrors.ValidationError{},
			contains: "not a valid middleware name",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadScenario([]byte(tc.yaml), "case")
			require.Error(t, err)
			switch tc.wantType.(type) {
			case *gxoerrors.ConfigError:
				var target *gxoerrors.ConfigError
				assert.ErrorAs(t, err, &target)
			case *gxoerrors.ValidationError:
				var target *gxoerrors.ValidationError
				assert.ErrorAs(t, err, &target)
			}
			if tc.contains != "" {
				assert.Contains(t, err.Error(), tc.contains)
			}
		})
	}
}

func TestLoadScenario_ReportsEveryProblem(t *testing.T) {
	yaml := "schemaVersion: v1\nactions:\n  - type: set\n  - type: exec\n    path: out\n"

	_, err := config.LoadScenario([]byte(yaml), "many")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 validation error(s)")
}

func TestLoadScenarioFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o600))

	s, err := config.LoadScenarioFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.FilePath)

	_, err = config.LoadScenarioFromFile(filepath.Join(dir, "missing.yaml"))
	var cfgErr *gxoerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = config.LoadScenarioFromFile("")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidPath(t *testing.T) {
	assert.True(t, config.ValidPath("a"))
	assert.True(t, config.ValidPath("a.b-c.d_1"))
	assert.False(t, config.ValidPath(""))
	assert.False(t, config.ValidPath(".a"))
	assert.False(t, config.ValidPath("a."))
	assert.False(t, config.ValidPath("a b"))
}
