// Package executor evaluates every candidate of a grid in bulk. A dispatch
// is submitted once and awaited once; results are addressable by flat
// candidate index.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
)

// Executor runs a workload over its whole candidate range.
type Executor interface {
	// Name identifies the backend in logs and results.
	Name() string

	// Submit starts the dispatch and returns immediately. It fails with an
	// ExecutorUnavailable error when no execution context can be acquired.
	Submit(w *Workload) (*Handle, error)
}

// Workload is everything a dispatch needs, prepared once per run: the
// samples widened to float64, the space, the curve and an output buffer of
// exactly Total() slots.
type Workload struct {
	curve curves.Curve
	space *grid.Space
	xs    []float64
	ys    []float64
	out   []float32
	pool  *BufferPool
}

// NewWorkload prepares a dispatch. The output buffer comes from pool when
// one is given.
func NewWorkload(c curves.Curve, samples *optimization.Samples, space *grid.Space, pool *BufferPool) *Workload {
	xs, ys := samples.Float64()
	return &Workload{
		curve: c,
		space: space,
		xs:    xs,
		ys:    ys,
		out:   pool.Get(space.Total()),
		pool:  pool,
	}
}

// Total returns the number of candidates.
func (w *Workload) Total() uint64 { return w.space.Total() }

// Space returns the workload's search space.
func (w *Workload) Space() *grid.Space { return w.space }

// evaluate fills out[lo:hi]. params is scratch space owned by the caller.
func (w *Workload) evaluate(lo, hi uint64, params []float32) []float32 {
	for i := lo; i < hi; i++ {
		params = w.space.Decode(i, params)
		w.out[i] = curves.MSE(w.curve, w.xs, w.ys, params)
	}
	return params
}

// Results holds one error per candidate, indexed by flat candidate index.
type Results struct {
	errs []float32
	pool *BufferPool
}

// NewResults wraps an error slice. It is mostly useful in tests.
func NewResults(errs []float32) *Results {
	return &Results{errs: errs}
}

// Len returns the number of results.
func (r *Results) Len() uint64 { return uint64(len(r.errs)) }

// Error returns the error of candidate i.
func (r *Results) Error(i uint64) float32 { return r.errs[i] }

// At returns the evaluation result of candidate i.
func (r *Results) At(i uint64) optimization.EvaluationResult {
	return optimization.EvaluationResult{CandidateIndex: i, Error: r.errs[i]}
}

// Errors exposes the underlying slice. Callers must not modify it.
func (r *Results) Errors() []float32 { return r.errs }

// Release returns the buffer to its pool. The results must not be used
// afterwards.
func (r *Results) Release() {
	if r == nil || r.errs == nil {
		return
	}
	r.pool.Put(r.errs)
	r.errs = nil
}

// Handle tracks one submitted dispatch.
type Handle struct {
	backend  string
	workload *Workload
	done     chan struct{}
	aborted  atomic.Bool
	started  time.Time
	elapsed  time.Duration
	err      error
}

func newHandle(backend string, w *Workload) *Handle {
	return &Handle{
		backend:  backend,
		workload: w,
		done:     make(chan struct{}),
		started:  time.Now(),
	}
}

// Backend returns the name of the executor that owns the dispatch.
func (h *Handle) Backend() string { return h.backend }

// Done is closed once every worker has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Elapsed returns the dispatch wall time once Done is closed.
func (h *Handle) Elapsed() time.Duration {
	select {
	case <-h.done:
		return h.elapsed
	default:
		return time.Since(h.started)
	}
}

func (h *Handle) finish(err error) {
	h.elapsed = time.Since(h.started)
	h.err = err
	close(h.done)
}

// Await blocks until the dispatch completes or ctx expires. On expiry the
// remaining blocks are abandoned, the output buffer is dropped instead of
// being pooled, and a DispatchTimeout error is returned.
func (h *Handle) Await(ctx context.Context) (*Results, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		select {
		case <-h.done:
		default:
			h.aborted.Store(true)
			return nil, optimization.WrapError(ctx.Err(), optimization.KindDispatchTimeout,
				fmt.Sprintf("dispatch of %d candidates did not complete after %s", h.workload.Total(), time.Since(h.started).Round(time.Millisecond))).
				WithComponent("executor").WithOperation(h.backend + ".Await")
		}
	}
	if h.err != nil {
		h.workload.pool.Put(h.workload.out)
		return nil, h.err
	}
	return &Results{errs: h.workload.out, pool: h.workload.pool}, nil
}
