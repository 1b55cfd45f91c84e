package gridsearch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gridfit/internal/optimization/grid"
)

func TestParseRefinement(t *testing.T) {
	tests := []struct {
		in      string
		want    Refinement
		wantErr bool
	}{
		{"", RefineNone, false},
		{"none", RefineNone, false},
		{"grid", RefineTwoStage, false},
		{"Two-Stage", RefineTwoStage, false},
		{"descent", RefineDescent, false},
		{"least-squares", RefineLeastSquares, false},
		{"lsq", RefineLeastSquares, false},
		{"annealing", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRefinement(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunConfigDefaults(t *testing.T) {
	c := RunConfig{}.withDefaults()
	assert.Equal(t, "pool", c.Backend)
	assert.Equal(t, grid.DefaultCeiling, c.MaxCandidates)
	assert.Equal(t, 2*time.Minute, c.DispatchTimeout)
	assert.Equal(t, RefineNone, c.Refinement)
	assert.Equal(t, 1.0, c.HalfWidth)
	assert.Equal(t, uint32(64), c.FineResolution)

	custom := RunConfig{Backend: "sequential", HalfWidth: 2.5, FineResolution: 8}.withDefaults()
	assert.Equal(t, "sequential", custom.Backend)
	assert.Equal(t, 2.5, custom.HalfWidth)
	assert.Equal(t, uint32(8), custom.FineResolution)
}
