package curves

import "math"

// MSE computes the mean squared error of c with params against the samples.
// The sum is accumulated in float64. A NaN or infinite residual, or a mean
// that does not fit a float32, yields SaturatedError, so the result is
// always finite. xs and ys must have equal, non-zero length.
func MSE(c Curve, xs, ys []float64, params []float32) float32 {
	var sum float64
	for i, x := range xs {
		r := ys[i] - c.Predict(x, params)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return SaturatedError
		}
		sum += r * r
	}
	return saturate(sum / float64(len(xs)))
}

func saturate(mse float64) float32 {
	if math.IsNaN(mse) || mse >= math.MaxFloat32 {
		return SaturatedError
	}
	return float32(mse)
}
