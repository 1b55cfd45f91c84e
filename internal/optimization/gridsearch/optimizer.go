// Package gridsearch runs the grid-search curve fit: validation, bulk
// dispatch with sequential fallback, arg-min reduction and refinement.
package gridsearch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
	"github.com/copyleftdev/gridfit/internal/optimization/executor"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
	"github.com/copyleftdev/gridfit/internal/optimization/selection"
)

// Observer receives run events, typically to export metrics.
type Observer interface {
	ObserveDispatch(backend string, candidates uint64, elapsed time.Duration, err error)
	ObserveFallback(from, to string)
	ObserveFit(family string, refinement string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDispatch(string, uint64, time.Duration, error) {}
func (nopObserver) ObserveFallback(string, string)                       {}
func (nopObserver) ObserveFit(string, string, time.Duration, error)      {}

// Option customises an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Optimizer) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithExecutor replaces the primary executor built from RunConfig.Backend.
// Sharing one pool between optimizers makes its dispatch slots global.
func WithExecutor(e executor.Executor) Option {
	return func(o *Optimizer) {
		if e != nil {
			o.exec = e
		}
	}
}

// WithBufferPool shares a result buffer pool between optimizers.
func WithBufferPool(p *executor.BufferPool) Option {
	return func(o *Optimizer) {
		if p != nil {
			o.buffers = p
		}
	}
}

// Optimizer implements optimization.Fitter with an exhaustive grid search.
// A single Optimizer runs one fit at a time; Best, History and Stop may be
// called concurrently with Fit.
type Optimizer struct {
	cfg      RunConfig
	exec     executor.Executor
	fallback executor.Executor
	buffers  *executor.BufferPool
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	best    *optimization.FitResult
	history []optimization.Stage
	cancel  context.CancelFunc
}

var _ optimization.Fitter = (*Optimizer)(nil)

// NewOptimizer creates an optimizer for cfg.
func NewOptimizer(cfg RunConfig, opts ...Option) (*Optimizer, error) {
	cfg = cfg.withDefaults()
	o := &Optimizer{
		cfg:      cfg,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("grid_search")

	execOpts := cfg.ExecutorOptions()
	execOpts.Logger = o.logger
	if o.exec == nil {
		e, err := executor.New(cfg.Backend, execOpts)
		if err != nil {
			return nil, err
		}
		o.exec = e
	}
	o.fallback = executor.NewSequential(execOpts)
	if o.buffers == nil {
		o.buffers = executor.NewBufferPool(DefaultPooledBuffers)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Optimizer) Config() RunConfig { return o.cfg }

// Best returns a copy of the best result of the last completed stage.
func (o *Optimizer) Best() *optimization.FitResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.best.Clone()
}

// History returns the stages completed so far.
func (o *Optimizer) History() []optimization.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]optimization.Stage(nil), o.history...)
}

// Stop cancels the run at the next stage boundary. A dispatch in flight runs
// to completion or timeout.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Fit validates the inputs, evaluates the coarse grid, and applies the
// configured refinement. Invalid samples, axes and oversized grids are
// rejected before any dispatch.
func (o *Optimizer) Fit(ctx context.Context, samples *optimization.Samples, problem optimization.Problem) (res *optimization.FitResult, err error) {
	start := time.Now()
	defer func() {
		o.observer.ObserveFit(problem.Family, string(o.cfg.Refinement), time.Since(start), err)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.best = nil
	o.history = nil
	o.mu.Unlock()

	curve, space, err := o.prepare(samples, problem)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(
		zap.String("family", string(curve.Family())),
		zap.Uint64("fingerprint", samples.Fingerprint()),
	)
	logger.Debug("Starting fit",
		zap.Int("samples", samples.Len()),
		zap.Int("axes", space.Dims()),
		zap.Uint64("candidates", space.Total()),
		zap.String("refinement", string(o.cfg.Refinement)),
	)

	coarse, err := o.searchGrid(ctx, "coarse", curve, samples, space)
	if err != nil {
		return nil, err
	}
	result := coarse.Clone()
	result.Family = string(curve.Family())
	result.Refinement = string(o.cfg.Refinement)
	result.Fingerprint = samples.Fingerprint()

	switch o.cfg.Refinement {
	case RefineTwoStage:
		if err := o.refineGrid(ctx, curve, samples, space, result); err != nil {
			return nil, err
		}
	case RefineDescent, RefineLeastSquares:
		if err := o.refineIterative(ctx, curve, samples, space, result); err != nil {
			return nil, err
		}
	}

	result.Stages = o.History()
	o.mu.Lock()
	o.best = result.Clone()
	o.mu.Unlock()

	logger.Info("Fit complete",
		zap.Float32s("parameters", result.Parameters),
		zap.Float32("min_error", result.MinError),
		zap.String("backend", result.Backend),
		zap.Bool("fell_back", result.FellBack),
		zap.Uint64("evaluations", result.Evaluations),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (o *Optimizer) prepare(samples *optimization.Samples, problem optimization.Problem) (curves.Curve, *grid.Space, error) {
	const op = "Fit"
	if samples == nil || samples.Len() == 0 {
		return nil, nil, optimization.NewError(optimization.KindInvalidInput, "no samples").
			WithComponent("grid_search").WithOperation(op)
	}
	curve, err := curves.Lookup(problem.Family)
	if err != nil {
		return nil, nil, optimization.WrapError(err, optimization.KindInvalidInput, "cannot resolve curve family").
			WithComponent("grid_search").WithOperation(op)
	}
	if err := curves.CheckArity(curve, len(problem.Axes)); err != nil {
		return nil, nil, optimization.WrapError(err, optimization.KindInvalidInput, "axis count does not match curve family").
			WithComponent("grid_search").WithOperation(op)
	}
	axes := make([]grid.Axis, len(problem.Axes))
	for i, a := range problem.Axes {
		axes[i] = grid.FromSpec(a)
	}
	space, err := grid.NewSpace(o.cfg.MaxCandidates, axes...)
	if err != nil {
		return nil, nil, err
	}
	return curve, space, nil
}

// searchGrid evaluates every candidate of space and reduces the results.
func (o *Optimizer) searchGrid(ctx context.Context, name string, curve curves.Curve, samples *optimization.Samples, space *grid.Space) (*optimization.FitResult, error) {
	if err := stageBoundary(ctx, name); err != nil {
		return nil, err
	}
	start := time.Now()

	w := executor.NewWorkload(curve, samples, space, o.buffers)
	results, backend, fellBack, err := o.dispatch(ctx, w)
	if err != nil {
		return nil, err
	}
	defer results.Release()

	best, err := selection.Select(space, results, o.cfg.Workers)
	if err != nil {
		return nil, err
	}
	best.Backend = backend
	best.FellBack = fellBack
	best.Grid = name

	o.record(optimization.Stage{
		Name:        name,
		Parameters:  append([]float32(nil), best.Parameters...),
		MinError:    best.MinError,
		Candidates:  space.Total(),
		Backend:     backend,
		DurationSec: time.Since(start).Seconds(),
	}, best)
	return best, nil
}

// dispatch submits w to the primary executor, falling back to the
// sequential executor when the primary is unavailable, and waits for the
// results within the dispatch timeout. Caller cancellation does not
// interrupt the wait.
func (o *Optimizer) dispatch(ctx context.Context, w *executor.Workload) (*executor.Results, string, bool, error) {
	exec := o.exec
	fellBack := false

	h, err := exec.Submit(w)
	if err != nil {
		if !errors.Is(err, optimization.ErrExecutorUnavailable) || o.cfg.DisableFallback {
			o.observer.ObserveDispatch(exec.Name(), w.Total(), 0, err)
			return nil, exec.Name(), false, err
		}
		o.logger.Warn("Executor unavailable, falling back",
			zap.String("from", exec.Name()),
			zap.String("to", o.fallback.Name()),
			zap.Error(err),
		)
		o.observer.ObserveFallback(exec.Name(), o.fallback.Name())
		exec, fellBack = o.fallback, true
		if h, err = exec.Submit(w); err != nil {
			o.observer.ObserveDispatch(exec.Name(), w.Total(), 0, err)
			return nil, exec.Name(), fellBack, err
		}
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DispatchTimeout)
	defer cancel()
	results, err := h.Await(waitCtx)
	o.observer.ObserveDispatch(exec.Name(), w.Total(), h.Elapsed(), err)
	if err != nil {
		o.logger.Error("Dispatch failed",
			zap.String("backend", exec.Name()),
			zap.Uint64("candidates", w.Total()),
			zap.Duration("timeout", o.cfg.DispatchTimeout),
			zap.Error(err),
		)
		return nil, exec.Name(), fellBack, err
	}
	return results, exec.Name(), fellBack, nil
}

// refineGrid runs the second, finer grid around the coarse winner. The fine
// winner replaces the coarse one unless rounding made it worse.
func (o *Optimizer) refineGrid(ctx context.Context, curve curves.Curve, samples *optimization.Samples, coarse *grid.Space, result *optimization.FitResult) error {
	fine, err := coarse.Refine(result.Parameters, o.cfg.HalfWidth, o.cfg.FineResolution, o.cfg.MaxCandidates)
	if err != nil {
		return err
	}
	best, err := o.searchGrid(ctx, "fine", curve, samples, fine)
	if err != nil {
		return err
	}
	result.Evaluations += best.Evaluations
	result.FellBack = result.FellBack || best.FellBack
	if best.MinError <= result.MinError {
		result.Parameters = best.Parameters
		result.MinError = best.MinError
		result.CandidateIndex = best.CandidateIndex
		result.Grid = best.Grid
		result.Backend = best.Backend
	} else {
		o.logger.Debug("Fine grid did not improve on coarse winner",
			zap.Float32("coarse_error", result.MinError),
			zap.Float32("fine_error", best.MinError),
		)
	}
	return nil
}

// refineIterative polishes the coarse winner with coordinate descent or the
// least-squares variant.
func (o *Optimizer) refineIterative(ctx context.Context, curve curves.Curve, samples *optimization.Samples, space *grid.Space, result *optimization.FitResult) error {
	name := string(o.cfg.Refinement)
	if err := stageBoundary(ctx, name); err != nil {
		return err
	}
	start := time.Now()
	xs, ys := samples.Float64()

	var d *selection.Descent
	lin, ok := curve.(curves.Linearizable)
	if o.cfg.Refinement == RefineLeastSquares && ok {
		d = selection.NewLeastSquares(o.cfg.Iterative, lin, xs, ys, result.Parameters, result.MinError, space.Steps())
	} else {
		objective := func(p []float32) float32 { return curves.MSE(curve, xs, ys, p) }
		d = selection.NewDescent(o.cfg.Iterative, objective, result.Parameters, result.MinError, space.Steps())
	}
	outcome := d.Run(ctx)
	if err := stageBoundary(ctx, name); err != nil {
		return err
	}

	if params := d.Params(); !slices.Equal(params, result.Parameters) {
		result.Parameters = params
		result.CandidateIndex = 0
		result.Grid = ""
	}
	result.MinError = d.Error()
	result.Outcome = outcome
	result.Evaluations += d.Evaluations()

	o.record(optimization.Stage{
		Name:        name,
		Parameters:  d.Params(),
		MinError:    d.Error(),
		Iterations:  d.Iterations(),
		Outcome:     outcome,
		Backend:     "host",
		DurationSec: time.Since(start).Seconds(),
	}, result)
	o.logger.Debug("Iterative refinement finished",
		zap.String("mode", name),
		zap.String("outcome", string(outcome)),
		zap.Int("iterations", d.Iterations()),
		zap.Float32("min_error", d.Error()),
	)
	return nil
}

func (o *Optimizer) record(stage optimization.Stage, best *optimization.FitResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, stage)
	if o.best == nil || best.MinError <= o.best.MinError {
		o.best = best.Clone()
	}
}

func stageBoundary(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return optimization.WrapError(err, optimization.KindCanceled, "fit stopped before stage "+stage).
			WithComponent("grid_search").WithOperation("Fit")
	}
	return nil
}
