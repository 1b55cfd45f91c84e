// Package grid defines discretised parameter spaces and the bijection between
// flat candidate indices and parameter tuples.
//
// Axis convention: an axis with bounds [Min, Max) and resolution R has the R
// candidate values Min + k*(Max-Min)/R for k in [0, R). Max is never a
// candidate. Flat indices are row-major: axis 0 varies slowest and the last
// axis fastest.
package grid

import (
	"math"
	"math/bits"
	"strconv"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// DefaultCeiling bounds the number of candidates when no ceiling is configured.
// A 4096x4096 grid fits twice.
const DefaultCeiling uint64 = 1 << 25

// MaxAxes is the largest supported dimensionality.
const MaxAxes = 3

// Axis is one discretised parameter dimension.
type Axis struct {
	Name       string
	Min        float32
	Max        float32
	Resolution uint32
}

// FromSpec converts an API axis description.
func FromSpec(s optimization.AxisSpec) Axis {
	return Axis{Name: s.Name, Min: s.Min, Max: s.Max, Resolution: s.Resolution}
}

// Step returns the distance between neighbouring candidates.
func (a Axis) Step() float64 {
	return (float64(a.Max) - float64(a.Min)) / float64(a.Resolution)
}

// Value returns the candidate value at offset k.
func (a Axis) Value(k uint32) float32 {
	return float32(float64(a.Min) + float64(k)*a.Step())
}

// Nearest returns the offset whose value is closest to v, clamped to the axis.
func (a Axis) Nearest(v float32) uint32 {
	k := math.Round((float64(v) - float64(a.Min)) / a.Step())
	if k < 0 || math.IsNaN(k) {
		return 0
	}
	if k >= float64(a.Resolution) {
		return a.Resolution - 1
	}
	return uint32(k)
}

func (a Axis) validate(i int) *optimization.Error {
	if a.Resolution < 1 {
		return optimization.NewErrorf(optimization.KindInvalidInput, "axis %d (%q): resolution must be >= 1, got %d", i, a.Name, a.Resolution)
	}
	lo, hi := float64(a.Min), float64(a.Max)
	if math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsNaN(hi) || math.IsInf(hi, 0) {
		return optimization.NewErrorf(optimization.KindInvalidInput, "axis %d (%q): bounds must be finite, got [%v, %v)", i, a.Name, a.Min, a.Max)
	}
	if hi <= lo {
		return optimization.NewErrorf(optimization.KindInvalidInput, "axis %d (%q): max must exceed min, got [%v, %v)", i, a.Name, a.Min, a.Max)
	}
	return nil
}

// Space is an ordered set of axes with a fixed candidate count. It is
// immutable and safe for concurrent use.
type Space struct {
	axes    []Axis
	steps   []float64
	strides []uint64
	total   uint64
}

// NewSpace validates the axes and computes the candidate count. A ceiling of
// zero means DefaultCeiling.
func NewSpace(ceiling uint64, axes ...Axis) (*Space, error) {
	const op = "NewSpace"
	if ceiling == 0 {
		ceiling = DefaultCeiling
	}

	if len(axes) == 0 || len(axes) > MaxAxes {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput, "expected 1 to %d axes, got %d", MaxAxes, len(axes)).
			WithComponent("grid").WithOperation(op)
	}

	total := uint64(1)
	overflow := false
	for i, a := range axes {
		if err := a.validate(i); err != nil {
			return nil, err.WithComponent("grid").WithOperation(op)
		}
		hi, lo := bits.Mul64(total, uint64(a.Resolution))
		if hi != 0 {
			overflow = true
		}
		total = lo
	}
	if overflow || total > ceiling {
		requested := "overflow"
		if !overflow {
			requested = strconv.FormatUint(total, 10)
		}
		return nil, optimization.NewErrorf(optimization.KindSearchSpaceTooLarge,
			"candidate count %s exceeds ceiling %d (resolutions %v)", requested, ceiling, resolutions(axes)).
			WithComponent("grid").WithOperation(op)
	}

	s := &Space{
		axes:    append([]Axis(nil), axes...),
		steps:   make([]float64, len(axes)),
		strides: make([]uint64, len(axes)),
		total:   total,
	}
	stride := uint64(1)
	for i := len(axes) - 1; i >= 0; i-- {
		s.strides[i] = stride
		s.steps[i] = axes[i].Step()
		stride *= uint64(axes[i].Resolution)
	}
	return s, nil
}

// Total returns the number of candidates.
func (s *Space) Total() uint64 { return s.total }

// Dims returns the number of axes.
func (s *Space) Dims() int { return len(s.axes) }

// Axes returns a copy of the axes.
func (s *Space) Axes() []Axis { return append([]Axis(nil), s.axes...) }

// Axis returns the i-th axis.
func (s *Space) Axis(i int) Axis { return s.axes[i] }

// Steps returns the per-axis step sizes.
func (s *Space) Steps() []float64 { return append([]float64(nil), s.steps...) }

// Offsets decomposes a flat index into per-axis offsets, writing into dst
// when it has room.
func (s *Space) Offsets(index uint64, dst []uint32) []uint32 {
	if cap(dst) < len(s.axes) {
		dst = make([]uint32, len(s.axes))
	}
	dst = dst[:len(s.axes)]
	for i := len(s.axes) - 1; i >= 0; i-- {
		r := uint64(s.axes[i].Resolution)
		dst[i] = uint32(index % r)
		index /= r
	}
	return dst
}

// Encode is the inverse of Offsets.
func (s *Space) Encode(offsets []uint32) (uint64, error) {
	if len(offsets) != len(s.axes) {
		return 0, optimization.NewErrorf(optimization.KindInvalidInput, "expected %d offsets, got %d", len(s.axes), len(offsets)).
			WithComponent("grid").WithOperation("Encode")
	}
	var index uint64
	for i, k := range offsets {
		if k >= s.axes[i].Resolution {
			return 0, optimization.NewErrorf(optimization.KindInvalidInput, "offset %d out of range for axis %d (resolution %d)", k, i, s.axes[i].Resolution).
				WithComponent("grid").WithOperation("Encode")
		}
		index += uint64(k) * s.strides[i]
	}
	return index, nil
}

// Decode returns the parameter tuple for a flat index, writing into dst
// when it has room. It does not allocate when dst is large enough, so
// workers can call it per candidate.
func (s *Space) Decode(index uint64, dst []float32) []float32 {
	if cap(dst) < len(s.axes) {
		dst = make([]float32, len(s.axes))
	}
	dst = dst[:len(s.axes)]
	for i := len(s.axes) - 1; i >= 0; i-- {
		r := uint64(s.axes[i].Resolution)
		k := index % r
		index /= r
		dst[i] = float32(float64(s.axes[i].Min) + float64(k)*s.steps[i])
	}
	return dst
}

// IndexOf returns the flat index of the candidate nearest to values.
func (s *Space) IndexOf(values []float32) (uint64, error) {
	if len(values) != len(s.axes) {
		return 0, optimization.NewErrorf(optimization.KindInvalidInput, "expected %d values, got %d", len(s.axes), len(values)).
			WithComponent("grid").WithOperation("IndexOf")
	}
	offsets := make([]uint32, len(s.axes))
	for i, v := range values {
		offsets[i] = s.axes[i].Nearest(v)
	}
	return s.Encode(offsets)
}

// Refine builds a finer space around center. Each axis spans
// [c - halfWidth*step, c + halfWidth*step) clipped to the original axis
// bounds, with the given resolution. The narrowed bounds are computed in
// float64 so that the center stays a candidate whenever it lies on the fine
// lattice. A non-positive halfWidth means 1; a zero resolution keeps the
// coarse resolution.
func (s *Space) Refine(center []float32, halfWidth float64, resolution uint32, ceiling uint64) (*Space, error) {
	if len(center) != len(s.axes) {
		return nil, optimization.NewErrorf(optimization.KindInvalidInput, "expected %d center values, got %d", len(s.axes), len(center)).
			WithComponent("grid").WithOperation("Refine")
	}
	if halfWidth <= 0 {
		halfWidth = 1
	}

	fine := make([]Axis, len(s.axes))
	for i, a := range s.axes {
		res := resolution
		if res == 0 {
			res = a.Resolution
		}
		c := float64(center[i])
		h := halfWidth * s.steps[i]
		lo := math.Max(c-h, float64(a.Min))
		hi := math.Min(c+h, float64(a.Max))
		if float32(hi) <= float32(lo) {
			// Degenerate after float32 rounding; fall back to the coarse cell.
			lo, hi = c, c+s.steps[i]
		}
		fine[i] = Axis{Name: a.Name, Min: float32(lo), Max: float32(hi), Resolution: res}
	}
	return NewSpace(ceiling, fine...)
}

func resolutions(axes []Axis) []uint32 {
	out := make([]uint32, len(axes))
	for i, a := range axes {
		out[i] = a.Resolution
	}
	return out
}
