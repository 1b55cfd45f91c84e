package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
)

func TestParseAxis(t *testing.T) {
	tests := []struct {
		in      string
		want    optimization.AxisSpec
		wantErr string
	}{
		{"a:0:8:4096", optimization.AxisSpec{Name: "a", Min: 0, Max: 8, Resolution: 4096}, ""},
		{" n :-1.5:2.25:16", optimization.AxisSpec{Name: "n", Min: -1.5, Max: 2.25, Resolution: 16}, ""},
		{":0:1:2", optimization.AxisSpec{Min: 0, Max: 1, Resolution: 2}, ""},
		{"a:0:8", optimization.AxisSpec{}, "want name:min:max:resolution"},
		{"a:x:8:4", optimization.AxisSpec{}, "invalid min"},
		{"a:0:y:4", optimization.AxisSpec{}, "invalid max"},
		{"a:0:8:-4", optimization.AxisSpec{}, "invalid resolution"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAxis(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAxesDefaults(t *testing.T) {
	c, err := curves.Lookup("power")
	require.NoError(t, err)

	axes, err := parseAxes(nil, c)
	require.NoError(t, err)
	assert.Equal(t, []optimization.AxisSpec{
		{Name: "a", Min: 0, Max: 8, Resolution: 4096},
		{Name: "n", Min: 0, Max: 8, Resolution: 4096},
	}, axes)

	// Three 4096-step axes exceed the default ceiling, so c is left out.
	exp, err := curves.Lookup("exponential")
	require.NoError(t, err)
	axes, err = parseAxes(nil, exp)
	require.NoError(t, err)
	assert.Len(t, axes, 2)

	axes, err = parseAxes([]string{"a:0:4:8", "n:0:3:8"}, c)
	require.NoError(t, err)
	assert.Len(t, axes, 2)
}
