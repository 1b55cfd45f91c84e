package gridsearch

import (
	"fmt"
	"strings"
	"time"

	"github.com/copyleftdev/gridfit/internal/optimization/executor"
	"github.com/copyleftdev/gridfit/internal/optimization/grid"
	"github.com/copyleftdev/gridfit/internal/optimization/selection"
)

// Refinement selects what happens after the coarse grid.
type Refinement string

const (
	RefineNone         Refinement = "none"
	RefineTwoStage     Refinement = "grid"
	RefineDescent      Refinement = "descent"
	RefineLeastSquares Refinement = "lsq"
)

// ParseRefinement accepts the canonical names and a few aliases.
func ParseRefinement(s string) (Refinement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return RefineNone, nil
	case "grid", "two-stage", "twostage", "fine":
		return RefineTwoStage, nil
	case "descent", "coordinate", "coordinate-descent":
		return RefineDescent, nil
	case "lsq", "least-squares", "leastsquares":
		return RefineLeastSquares, nil
	default:
		return "", fmt.Errorf("unknown refinement mode %q", s)
	}
}

// Defaults for RunConfig.
const (
	DefaultDispatchTimeout = 2 * time.Minute
	DefaultHalfWidth       = 1.0
	DefaultFineResolution  = 64
	DefaultPooledBuffers   = 4
)

// RunConfig is everything a fit run depends on. There is no other source of
// configuration; callers build it explicitly.
type RunConfig struct {
	// Backend names the primary executor (pool, sequential, opencl).
	Backend string
	// Workers per dispatch; zero means GOMAXPROCS.
	Workers int
	// BlockSize is the number of candidates a worker claims at once.
	BlockSize int
	// DispatchSlots bounds concurrent dispatches on the pool backend.
	DispatchSlots int64
	// MaxCandidates is the ceiling on any grid's candidate count; zero means grid.DefaultCeiling.
	MaxCandidates uint64
	// DispatchTimeout bounds the wait for one dispatch.
	DispatchTimeout time.Duration
	// DisableFallback surfaces ExecutorUnavailable instead of retrying sequentially.
	DisableFallback bool

	// Refinement mode applied after the coarse grid.
	Refinement Refinement
	// HalfWidth is the two-stage fine range half-width, in coarse steps.
	HalfWidth float64
	// FineResolution is the per-axis resolution of the fine grid.
	FineResolution uint32
	// Iterative configures descent and least squares.
	Iterative selection.IterativeConfig
}

// DefaultRunConfig returns the configuration used when nothing is set.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Backend:         string(executor.BackendPool),
		BlockSize:       executor.DefaultBlockSize,
		DispatchSlots:   executor.DefaultDispatchSlots,
		MaxCandidates:   grid.DefaultCeiling,
		DispatchTimeout: DefaultDispatchTimeout,
		Refinement:      RefineNone,
		HalfWidth:       DefaultHalfWidth,
		FineResolution:  DefaultFineResolution,
		Iterative: selection.IterativeConfig{
			MaxIterations: selection.DefaultMaxIterations,
			Threshold:     selection.DefaultThreshold,
			Shrink:        selection.DefaultShrink,
		},
	}
}

func (c RunConfig) withDefaults() RunConfig {
	d := DefaultRunConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
	if c.Refinement == "" {
		c.Refinement = d.Refinement
	}
	if c.HalfWidth <= 0 {
		c.HalfWidth = d.HalfWidth
	}
	if c.FineResolution == 0 {
		c.FineResolution = d.FineResolution
	}
	return c
}

// ExecutorOptions derives the executor options from c.
func (c RunConfig) ExecutorOptions() executor.Options {
	return executor.Options{
		Workers:       c.Workers,
		BlockSize:     c.BlockSize,
		DispatchSlots: c.DispatchSlots,
	}
}
