package paramutil_test

import (
	"testing"
	"time"

	"github.com/gxo-labs/rdx/internal/paramutil"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRequiredString(t *testing.T) {
	params := map[string]interface{}{"path": "count", "n": 3}

	v, err := paramutil.GetRequiredString(params, "path")
	require.NoError(t, err)
	assert.Equal(t, "count", v)

	_, err = paramutil.GetRequiredString(params, "missing")
	var vErr *gxoerrors.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = paramutil.GetRequiredString(params, "n")
	assert.ErrorAs(t, err, &vErr)
}

func TestGetOptionalInt(t *testing.T) {
	testCases := []struct {
		name    string
		value   interface{}
		want    int
		wantErr bool
	}{
		{name: "int", value: 4, want: 4},
		{name: "int64", value: int64(5), want: 5},
		{name: "whole float", value: 6.0, want: 6},
		{name: "fractional float", value: 6.5, wantErr: true},
		{name: "string", value: "7", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, found, err := paramutil.GetOptionalInt(map[string]interface{}{"k": tc.value}, "k")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, tc.want, got)
		})
	}

	_, found, err := paramutil.GetOptionalInt(map[string]interface{}{}, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestGetOptionalDuration(t *testing.T) {
	d, found, err := paramutil.GetOptionalDuration(map[string]interface{}{"d": "150ms"}, "d")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 150*time.Millisecond, d)

	_, _, err = paramutil.GetOptionalDuration(map[string]interface{}{"d": "soon"}, "d")
	assert.Error(t, err)
	_, _, err = paramutil.GetOptionalDuration(map[string]interface{}{"d": "-1s"}, "d")
	assert.Error(t, err)
}

func TestGetOptionalStringSliceAndMap(t *testing.T) {
	params := map[string]interface{}{
		"args": []interface{}{"-c", "echo hi"},
		"bad":  []interface{}{"ok", 1},
		"env":  map[string]interface{}{"A": "1"},
		"envi": map[interface{}]interface{}{"B": "2"},
		"envx": map[string]interface{}{"C": 3},
	}

	args, found, err := paramutil.GetOptionalStringSlice(params, "args")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"-c", "echo hi"}, args)

	_, _, err = paramutil.GetOptionalStringSlice(params, "bad")
	assert.Error(t, err)

	env, _, err := paramutil.GetOptionalStringMap(params, "env")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1"}, env)

	env, _, err = paramutil.GetOptionalStringMap(params, "envi")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "2"}, env)

	_, _, err = paramutil.GetOptionalStringMap(params, "envx")
	assert.Error(t, err)
}

func TestCheckAllowedAndOneOf(t *testing.T) {
	params := map[string]interface{}{"path": "x", "reject": "odd"}
	assert.NoError(t, paramutil.CheckAllowed(params, []string{"path", "reject"}))
	assert.Error(t, paramutil.CheckAllowed(params, []string{"path"}))
	assert.NoError(t, paramutil.CheckAllowed(params, nil))

	assert.NoError(t, paramutil.CheckOneOf("reject", "odd", "odd", "even"))
	assert.Error(t, paramutil.CheckOneOf("reject", "prime", "odd", "even"))
}
