// Package report turns a fitted parameter vector into predictions and
// goodness-of-fit figures.
package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/gridfit/internal/optimization"
	"github.com/copyleftdev/gridfit/internal/optimization/curves"
)

// Summary describes how well a parameter vector fits a sample set.
type Summary struct {
	MSE            float64 `json:"mse"`
	RMSE           float64 `json:"rmse"`
	RSquared       float64 `json:"r_squared"`
	MaxAbsResidual float64 `json:"max_abs_residual"`
}

// Predict evaluates the curve at every sample x. The output is aligned
// index-for-index with the samples.
func Predict(c curves.Curve, params []float32, samples *optimization.Samples) []float32 {
	if samples == nil {
		return nil
	}
	out := make([]float32, samples.Len())
	for i := range out {
		out[i] = float32(c.Predict(float64(samples.At(i).X), params))
	}
	return out
}

// Residuals returns y - prediction for every sample.
func Residuals(c curves.Curve, params []float32, samples *optimization.Samples) []float64 {
	if samples == nil {
		return nil
	}
	xs, ys := samples.Float64()
	res := make([]float64, len(xs))
	for i, x := range xs {
		res[i] = ys[i] - c.Predict(x, params)
	}
	return res
}

// Summarize computes the error figures for params on samples. Non-finite
// predictions propagate into the summary as Inf.
func Summarize(c curves.Curve, params []float32, samples *optimization.Samples) Summary {
	if samples == nil || samples.Len() == 0 {
		return Summary{}
	}
	xs, ys := samples.Float64()
	pred := make([]float64, len(xs))
	for i, x := range xs {
		pred[i] = c.Predict(x, params)
	}

	res := make([]float64, len(ys))
	floats.SubTo(res, ys, pred)
	sq := make([]float64, len(res))
	floats.MulTo(sq, res, res)
	mse := floats.Sum(sq) / float64(len(sq))

	maxAbs := 0.0
	for _, r := range res {
		maxAbs = math.Max(maxAbs, math.Abs(r))
	}
	if math.IsNaN(mse) {
		mse = math.Inf(1)
		maxAbs = math.Inf(1)
	}

	return Summary{
		MSE:            mse,
		RMSE:           math.Sqrt(mse),
		RSquared:       stat.RSquaredFrom(pred, ys, nil),
		MaxAbsResidual: maxAbs,
	}
}
