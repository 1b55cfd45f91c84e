package selection

import (
	"math"

	"github.com/copyleftdev/gridfit/internal/optimization/curves"
)

// SolveLinear fits the linear parameters of c by ordinary least squares with
// the nonlinear parameters held at their values in params. It returns the
// updated vector and false when the design matrix is degenerate or the
// solution does not fit a float32.
func SolveLinear(c curves.Linearizable, xs, ys []float64, params []float32) ([]float32, bool) {
	return solveLinear(nil, c, xs, ys, params)
}

func solveLinear(pool *MatrixPool, c curves.Linearizable, xs, ys []float64, params []float32) ([]float32, bool) {
	linear := c.LinearParams(len(params))
	n, k := len(xs), len(linear)
	if n < k || k == 0 {
		return nil, false
	}

	A := pool.GetDense(n, k)
	defer pool.PutDense(A)
	row := make([]float64, k)
	for i, x := range xs {
		c.Basis(x, params, row)
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, false
			}
			A.Set(i, j, v)
		}
	}
	b := pool.GetVecDense(n)
	defer pool.PutVecDense(b)
	for i, y := range ys {
		b.SetVec(i, y)
	}

	beta := pool.GetVecDense(k)
	defer pool.PutVecDense(beta)
	if err := beta.SolveVec(A, b); err != nil {
		return nil, false
	}

	out := append([]float32(nil), params...)
	for j, pos := range linear {
		v := beta.AtVec(j)
		if math.IsNaN(v) || math.Abs(v) > math.MaxFloat32 {
			return nil, false
		}
		out[pos] = float32(v)
	}
	return out, true
}

// NewLeastSquares creates an iterative least-squares polish. Every sweep
// first solves the linear parameters exactly and then nudges the nonlinear
// ones by coordinate descent, so it shares the Descent state machine and its
// guarantee that the error never increases.
func NewLeastSquares(cfg IterativeConfig, c curves.Linearizable, xs, ys []float64, start []float32, startErr float32, steps []float64) *Descent {
	linear := make(map[int]bool)
	for _, pos := range c.LinearParams(len(start)) {
		linear[pos] = true
	}
	var nonlinear []int
	for i := range start {
		if !linear[i] {
			nonlinear = append(nonlinear, i)
		}
	}

	objective := func(p []float32) float32 { return curves.MSE(c, xs, ys, p) }
	pool := NewMatrixPool()
	d := newDescent(cfg, objective, start, startErr, steps, nonlinear)
	d.before = func(p []float32, e float32) ([]float32, float32, uint64) {
		solved, ok := solveLinear(pool, c, xs, ys, p)
		if !ok {
			return p, e, 0
		}
		return solved, objective(solved), 1
	}
	return d
}
