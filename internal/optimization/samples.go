package optimization

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Sample is one (x, y) measurement.
type Sample struct {
	X float32
	Y float32
}

// Samples is an immutable set of unique, finite (x, y) pairs. It is safe to
// share between goroutines.
type Samples struct {
	xs []float32
	ys []float32
}

// NewSamples validates and copies the paired sequences.
func NewSamples(xs, ys []float32) (*Samples, error) {
	const op = "NewSamples"

	if len(xs) == 0 || len(ys) == 0 {
		return nil, NewErrorf(KindInvalidInput, "empty sample sequence: len(x)=%d len(y)=%d", len(xs), len(ys)).
			WithComponent("samples").WithOperation(op)
	}
	if len(xs) != len(ys) {
		return nil, NewErrorf(KindInvalidInput, "sample length mismatch: len(x)=%d len(y)=%d", len(xs), len(ys)).
			WithComponent("samples").WithOperation(op)
	}

	seen := make(map[[2]uint32]int, len(xs))
	for i := range xs {
		if !finite32(xs[i]) || !finite32(ys[i]) {
			return nil, NewErrorf(KindInvalidInput, "non-finite sample at index %d: (%v, %v)", i, xs[i], ys[i]).
				WithComponent("samples").WithOperation(op)
		}
		key := [2]uint32{math.Float32bits(xs[i]), math.Float32bits(ys[i])}
		if first, dup := seen[key]; dup {
			return nil, NewErrorf(KindInvalidInput, "duplicate sample (%v, %v) at indices %d and %d", xs[i], ys[i], first, i).
				WithComponent("samples").WithOperation(op)
		}
		seen[key] = i
	}

	return &Samples{
		xs: append([]float32(nil), xs...),
		ys: append([]float32(nil), ys...),
	}, nil
}

// Len returns the number of samples.
func (s *Samples) Len() int { return len(s.xs) }

// At returns the i-th sample.
func (s *Samples) At(i int) Sample { return Sample{X: s.xs[i], Y: s.ys[i]} }

// X returns a copy of the independent values.
func (s *Samples) X() []float32 { return append([]float32(nil), s.xs...) }

// Y returns a copy of the dependent values.
func (s *Samples) Y() []float32 { return append([]float32(nil), s.ys...) }

// Float64 returns the samples widened to float64, in input order.
func (s *Samples) Float64() (xs, ys []float64) {
	xs = make([]float64, len(s.xs))
	ys = make([]float64, len(s.ys))
	for i := range s.xs {
		xs[i] = float64(s.xs[i])
		ys[i] = float64(s.ys[i])
	}
	return xs, ys
}

// Fingerprint is an xxhash64 of the sample bits. Equal sample sets in the
// same order share a fingerprint.
func (s *Samples) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for i := range s.xs {
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(s.xs[i]))
		binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(s.ys[i]))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

func finite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
