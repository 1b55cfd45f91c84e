package optimization

import (
	"context"
)

// Fitter defines the interface for curve-fitting search engines
type Fitter interface {
	// Fit runs the search over the problem's parameter space against samples
	Fit(ctx context.Context, samples *Samples, problem Problem) (*FitResult, error)

	// Best returns the best result found so far, or nil
	Best() *FitResult

	// History returns the completed stages of the current or last run
	History() []Stage

	// Stop asks a running fit to stop at the next stage boundary
	Stop()
}

// Problem names the curve family and the parameter axes to search.
// Axis values are interpreted by the family in the order given.
type Problem struct {
	Family string
	Axes   []AxisSpec
}

// AxisSpec describes one parameter axis: Resolution candidates starting at
// Min with step (Max-Min)/Resolution. Max itself is not a candidate.
type AxisSpec struct {
	Name       string  `json:"name"`
	Min        float32 `json:"min"`
	Max        float32 `json:"max"`
	Resolution uint32  `json:"resolution"`
}

// RefinementOutcome is the terminal state of an iterative refinement.
type RefinementOutcome string

const (
	OutcomeNone                 RefinementOutcome = ""
	OutcomeImproving            RefinementOutcome = "improving"
	OutcomeConverged            RefinementOutcome = "converged"
	OutcomeMaxIterationsReached RefinementOutcome = "max_iterations_reached"
)

// EvaluationResult is the error of one flat candidate index.
type EvaluationResult struct {
	CandidateIndex uint64
	Error          float32
}

// Stage records the outcome of one search stage (coarse grid, fine grid,
// descent, least squares).
type Stage struct {
	Name        string            `json:"name"`
	Parameters  []float32         `json:"parameters"`
	MinError    float32           `json:"min_error"`
	Candidates  uint64            `json:"candidates,omitempty"`
	Backend     string            `json:"backend"`
	Iterations  int               `json:"iterations,omitempty"`
	Outcome     RefinementOutcome `json:"outcome,omitempty"`
	DurationSec float64           `json:"duration_sec"`
}

// FitResult contains the result of a fit run.
//
// CandidateIndex is the flat index of Parameters in the grid of the stage
// named by Grid ("coarse" or "fine"). When an iterative refinement moves the
// parameters off that lattice, Grid is empty and CandidateIndex is zero.
type FitResult struct {
	Family         string            `json:"family"`
	Parameters     []float32         `json:"parameters"`
	MinError       float32           `json:"min_error"`
	CandidateIndex uint64            `json:"candidate_index"`
	Grid           string            `json:"grid,omitempty"`
	Backend        string            `json:"backend"`
	FellBack       bool              `json:"fell_back"`
	Refinement     string            `json:"refinement"`
	Outcome        RefinementOutcome `json:"outcome,omitempty"`
	Evaluations    uint64            `json:"evaluations"`
	Fingerprint    uint64            `json:"fingerprint"`
	Stages         []Stage           `json:"stages,omitempty"`
}

// Clone returns a deep copy of r.
func (r *FitResult) Clone() *FitResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Parameters = append([]float32(nil), r.Parameters...)
	out.Stages = make([]Stage, len(r.Stages))
	for i, s := range r.Stages {
		s.Parameters = append([]float32(nil), s.Parameters...)
		out.Stages[i] = s
	}
	return &out
}
