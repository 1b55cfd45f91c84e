// Package selection reduces evaluated grids to their best candidate and
// refines that candidate.
package selection

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/executor"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
)

// minChunk keeps small scans on one goroutine.
const minChunk = 1 << 15

type partial struct {
	index uint64
	value float32
}

// less orders errors ascending with NaN after every number.
func less(a, b float32) bool {
	if math.IsNaN(float64(b)) {
		return !math.IsNaN(float64(a))
	}
	return a < b
}

func scan(errs []float32, offset uint64) partial {
	best := partial{index: offset, value: errs[0]}
	for i := 1; i < len(errs); i++ {
		if less(errs[i], best.value) {
			best = partial{index: offset + uint64(i), value: errs[i]}
		}
	}
	return best
}

// ArgMin returns the index and value of the smallest error. Among equal
// minima the lowest index wins. The slice is split into contiguous chunks
// scanned concurrently; partial minima are merged in chunk order with a
// strict comparison, which gives the same answer as a sequential scan.
func ArgMin(errs []float32, workers int) (uint64, float32, error) {
	n := len(errs)
	if n == 0 {
		return 0, 0, optimization.NewError(optimization.KindInvalidInput, "no results to reduce").
			WithComponent("selection").WithOperation("ArgMin")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	chunk := max((n+workers-1)/workers, minChunk)
	chunks := (n + chunk - 1) / chunk
	if chunks == 1 {
		p := scan(errs, 0)
		return p.index, p.value, nil
	}

	parts := make([]partial, chunks)
	var g errgroup.Group
	for c := 0; c < chunks; c++ {
		c := c
		lo := c * chunk
		hi := min(lo+chunk, n)
		g.Go(func() error {
			parts[c] = scan(errs[lo:hi], uint64(lo))
			return nil
		})
	}
	_ = g.Wait()

	best := parts[0]
	for _, p := range parts[1:] {
		if less(p.value, best.value) {
			best = p
		}
	}
	return best.index, best.value, nil
}

// Select reduces one evaluated grid to a FitResult holding the winning
// parameters, its error and its flat index.
func Select(space *grid.Space, results *executor.Results, workers int) (*optimization.FitResult, error) {
	if results.Len() != space.Total() {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput,
			"result count %d does not match candidate count %d", results.Len(), space.Total()).
			WithComponent("selection").WithOperation("Select")
	}
	idx, minErr, err := ArgMin(results.Errors(), workers)
	if err != nil {
		return nil, err
	}
	return &optimization.FitResult{
		Parameters:     space.Decode(idx, nil),
		MinError:       minErr,
		CandidateIndex: idx,
		Evaluations:    space.Total(),
	}, nil
}
