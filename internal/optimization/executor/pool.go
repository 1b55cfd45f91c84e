package executor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

const (
	// DefaultBlockSize is the number of consecutive candidates a worker claims at once.
	DefaultBlockSize = 4096
	// DefaultDispatchSlots is the number of dispatches a pool runs concurrently.
	DefaultDispatchSlots = 2
)

// Options configures the CPU backends.
type Options struct {
	// Workers is the number of worker goroutines per dispatch. Zero means GOMAXPROCS.
	Workers int
	// BlockSize is the claim granularity. Zero means DefaultBlockSize.
	BlockSize int
	// DispatchSlots bounds concurrent dispatches on a pool. Zero means DefaultDispatchSlots.
	DispatchSlots int64
	// Logger receives debug output. Nil means no logging.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.DispatchSlots <= 0 {
		o.DispatchSlots = DefaultDispatchSlots
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Pool evaluates candidates on a set of worker goroutines. Workers claim
// disjoint blocks of flat indices from a shared counter, so every index is
// written exactly once and no locking is needed on the output.
type Pool struct {
	opts   Options
	slots  *semaphore.Weighted
	logger *zap.Logger
}

// NewPool creates a worker-pool executor.
func NewPool(opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		opts:   opts,
		slots:  semaphore.NewWeighted(opts.DispatchSlots),
		logger: opts.Logger.Named("pool_executor"),
	}
}

// Name implements Executor.
func (p *Pool) Name() string { return string(BackendPool) }

// Workers returns the number of workers per dispatch.
func (p *Pool) Workers() int { return p.opts.Workers }

// Submit implements Executor. It does not wait for a dispatch slot: when all
// slots are busy it fails with ExecutorUnavailable so the caller can fall
// back.
func (p *Pool) Submit(w *Workload) (*Handle, error) {
	if !p.slots.TryAcquire(1) {
		return nil, optimization.NewErrorf(optimization.KindExecutorUnavailable,
			"all %d dispatch slots are busy", p.opts.DispatchSlots).
			WithComponent("executor").WithOperation("pool.Submit")
	}

	h := newHandle(p.Name(), w)
	p.logger.Debug("Dispatching workload",
		zap.Uint64("candidates", w.Total()),
		zap.Int("workers", p.opts.Workers),
		zap.Int("block_size", p.opts.BlockSize),
	)

	go func() {
		defer p.slots.Release(1)
		err := run(h, w, p.opts.Workers, uint64(p.opts.BlockSize))
		p.logger.Debug("Dispatch finished",
			zap.Uint64("candidates", w.Total()),
			zap.Duration("elapsed", h.Elapsed()),
			zap.Bool("aborted", h.aborted.Load()),
		)
		h.finish(err)
	}()
	return h, nil
}

// run evaluates w on workers goroutines and returns once all of them have
// returned. Workers stop claiming blocks once the handle is aborted.
func run(h *Handle, w *Workload, workers int, blockSize uint64) error {
	total := w.Total()
	blocks := (total + blockSize - 1) / blockSize
	if uint64(workers) > blocks {
		workers = int(blocks)
	}

	var next atomic.Uint64
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					h.aborted.Store(true)
					err = fmt.Errorf("evaluator panic: %v", rec)
				}
			}()

			params := make([]float32, w.space.Dims())
			for !h.aborted.Load() {
				lo := next.Add(blockSize) - blockSize
				if lo >= total {
					return nil
				}
				params = w.evaluate(lo, min(lo+blockSize, total), params)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return optimization.WrapError(err, optimization.KindExecutorUnavailable, "dispatch failed").
			WithComponent("executor").WithOperation(h.backend + ".run")
	}
	return nil
}

// Sequential evaluates candidates in index order on a single goroutine. It
// produces the same results as Pool for the same workload.
type Sequential struct {
	blockSize uint64
	logger    *zap.Logger
}

// NewSequential creates a single-goroutine executor.
func NewSequential(opts Options) *Sequential {
	opts = opts.withDefaults()
	return &Sequential{
		blockSize: uint64(opts.BlockSize),
		logger:    opts.Logger.Named("sequential_executor"),
	}
}

// Name implements Executor.
func (s *Sequential) Name() string { return string(BackendSequential) }

// Submit implements Executor. It never fails.
func (s *Sequential) Submit(w *Workload) (*Handle, error) {
	h := newHandle(s.Name(), w)
	s.logger.Debug("Dispatching workload", zap.Uint64("candidates", w.Total()))
	go func() {
		h.finish(run(h, w, 1, s.blockSize))
	}()
	return h, nil
}
