package executor

import (
	"context"
	"testing"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
)

// BenchmarkDispatch measures a full dispatch of a 256x256 power-law grid
// against 500 samples.
func BenchmarkDispatch(b *testing.B) {
	xs := make([]float32, 500)
	ys := make([]float32, 500)
	for i := range xs {
		xs[i] = 0.01 * float32(i+1)
		ys[i] = 2 * xs[i] * xs[i]
	}
	samples := optimization.MustSamples(b, xs, ys)
	space, err := grid.NewSpace(0,
		grid.Axis{Min: 0, Max: 8, Resolution: 256},
		grid.Axis{Min: 0, Max: 8, Resolution: 256})
	if err != nil {
		b.Fatal(err)
	}

	tests := []struct {
		name string
		exec Executor
	}{
		{"Pool", NewPool(Options{})},
		{"Sequential", NewSequential(Options{})},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			pool := NewBufferPool(1)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h, err := tt.exec.Submit(NewWorkload(curves.PowerLaw{}, samples, space, pool))
				if err != nil {
					b.Fatal(err)
				}
				res, err := h.Await(context.Background())
				if err != nil {
					b.Fatal(err)
				}
				res.Release()
			}
		})
	}
}
