package selection

import (
	"context"
	"math"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// Defaults for iterative refinement.
const (
	DefaultMaxIterations = 64
	DefaultThreshold     = 1e-9
	DefaultShrink        = 0.5
	// relativeMinStep stops shrinking once a step is below float32 resolution.
	relativeMinStep = 1e-7
	// maxMovesPerAxis bounds how far one sweep may walk along a single axis.
	maxMovesPerAxis = 256
)

// IterativeConfig configures coordinate descent and the least-squares polish.
type IterativeConfig struct {
	// MaxIterations caps the number of sweeps.
	MaxIterations int
	// Threshold is the absolute error improvement below which a sweep counts as converged.
	Threshold float64
	// Shrink multiplies every step after a sweep without improvement. Must be in (0, 1).
	Shrink float64
}

func (c IterativeConfig) withDefaults() IterativeConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Shrink <= 0 || c.Shrink >= 1 {
		c.Shrink = DefaultShrink
	}
	return c
}

// Objective evaluates one parameter vector. It must be deterministic.
type Objective func(params []float32) float32

// Descent is a coordinate-descent state machine. It starts in
// OutcomeImproving and ends in OutcomeConverged or
// OutcomeMaxIterationsReached. The reported error never increases.
type Descent struct {
	cfg         IterativeConfig
	objective   Objective
	axes        []int
	params      []float32
	steps       []float64
	err         float32
	state       optimization.RefinementOutcome
	iterations  int
	evaluations uint64

	// before runs at the start of every sweep and may replace the current
	// point with a better one.
	before func(params []float32, err float32) ([]float32, float32, uint64)
}

// NewDescent creates a descent over every axis starting at start, whose
// error is startErr. steps are the initial per-axis nudges, typically the
// coarse grid step; they are multiplied by the shrink factor before the
// first sweep because the coarse winner is already optimal at grid step.
func NewDescent(cfg IterativeConfig, objective Objective, start []float32, startErr float32, steps []float64) *Descent {
	axes := make([]int, len(start))
	for i := range axes {
		axes[i] = i
	}
	return newDescent(cfg, objective, start, startErr, steps, axes)
}

func newDescent(cfg IterativeConfig, objective Objective, start []float32, startErr float32, steps []float64, axes []int) *Descent {
	cfg = cfg.withDefaults()
	d := &Descent{
		cfg:       cfg,
		objective: objective,
		axes:      axes,
		params:    append([]float32(nil), start...),
		steps:     make([]float64, len(steps)),
		err:       startErr,
		state:     optimization.OutcomeImproving,
	}
	for i, s := range steps {
		d.steps[i] = math.Abs(s) * cfg.Shrink
	}
	return d
}

// State returns the current state.
func (d *Descent) State() optimization.RefinementOutcome { return d.state }

// Params returns a copy of the current best parameters.
func (d *Descent) Params() []float32 { return append([]float32(nil), d.params...) }

// Error returns the error of Params.
func (d *Descent) Error() float32 { return d.err }

// Iterations returns the number of completed sweeps.
func (d *Descent) Iterations() int { return d.iterations }

// Evaluations returns the number of objective calls made.
func (d *Descent) Evaluations() uint64 { return d.evaluations }

// Step performs one sweep and reports whether the machine is still improving.
func (d *Descent) Step() bool {
	if d.state != optimization.OutcomeImproving {
		return false
	}
	d.iterations++
	before := d.err

	if d.before != nil {
		p, e, n := d.before(d.params, d.err)
		d.evaluations += n
		if e < d.err {
			d.params, d.err = p, e
		}
	}
	d.sweep()

	improvement := float64(before) - float64(d.err)
	switch {
	case improvement > 0 && improvement < d.cfg.Threshold:
		d.state = optimization.OutcomeConverged
	case improvement <= 0:
		if !d.shrink() {
			d.state = optimization.OutcomeConverged
		}
	}
	if d.state == optimization.OutcomeImproving && d.iterations >= d.cfg.MaxIterations {
		d.state = optimization.OutcomeMaxIterationsReached
	}
	return d.state == optimization.OutcomeImproving
}

// Run steps until a terminal state or until ctx is done.
func (d *Descent) Run(ctx context.Context) optimization.RefinementOutcome {
	for d.Step() {
		if ctx.Err() != nil {
			break
		}
	}
	return d.state
}

func (d *Descent) eval() float32 {
	d.evaluations++
	return d.objective(d.params)
}

// sweep nudges each axis in turn, walking in the first direction that
// strictly lowers the error for as long as it keeps doing so.
func (d *Descent) sweep() {
	for _, i := range d.axes {
		for _, dir := range [2]float64{1, -1} {
			moved := false
			for m := 0; m < maxMovesPerAxis; m++ {
				old := d.params[i]
				next := float32(float64(old) + dir*d.steps[i])
				if next == old {
					break
				}
				d.params[i] = next
				if e := d.eval(); e < d.err {
					d.err = e
					moved = true
					continue
				}
				d.params[i] = old
				break
			}
			if moved {
				break
			}
		}
	}
}

// shrink reduces every step and reports whether any step is still above
// float32 resolution for its parameter.
func (d *Descent) shrink() bool {
	alive := false
	for _, i := range d.axes {
		d.steps[i] *= d.cfg.Shrink
		floor := relativeMinStep * math.Max(1, math.Abs(float64(d.params[i])))
		if d.steps[i] > floor {
			alive = true
		}
	}
	return alive
}
