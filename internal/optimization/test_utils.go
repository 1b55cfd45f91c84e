package optimization

import (
	"math"
	"testing"
)

// MustSamples builds a sample set or fails the test.
func MustSamples(t testing.TB, xs, ys []float32) *Samples {
	t.Helper()

	s, err := NewSamples(xs, ys)
	if err != nil {
		t.Fatalf("NewSamples: %v", err)
	}
	return s
}

// SyntheticSamples evaluates f at n evenly spaced x in [lo, hi] and rounds
// the results to float32.
func SyntheticSamples(t testing.TB, n int, lo, hi float64, f func(x float64) float64) *Samples {
	t.Helper()

	if n < 2 {
		t.Fatalf("SyntheticSamples needs at least 2 points, got %d", n)
	}
	xs := make([]float32, n)
	ys := make([]float32, n)
	step := (hi - lo) / float64(n-1)
	for i := range xs {
		x := lo + float64(i)*step
		xs[i] = float32(x)
		ys[i] = float32(f(x))
	}
	return MustSamples(t, xs, ys)
}

// AssertFloat32sNear checks that two float32 slices are approximately equal.
func AssertFloat32sNear(t testing.TB, got, want []float32, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(float64(got[i])-float64(want[i])) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}
