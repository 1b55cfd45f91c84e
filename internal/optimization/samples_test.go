package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSamples(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name    string
		xs, ys  []float32
		wantErr bool
	}{
		{name: "valid", xs: []float32{1, 2, 3}, ys: []float32{2, 4, 6}},
		{name: "unsorted x", xs: []float32{3, 1, 2}, ys: []float32{6, 2, 4}},
		{name: "same x different y", xs: []float32{1, 1}, ys: []float32{2, 3}},
		{name: "empty", xs: nil, ys: nil, wantErr: true},
		{name: "empty y", xs: []float32{1}, ys: nil, wantErr: true},
		{name: "length mismatch", xs: []float32{1, 2}, ys: []float32{1}, wantErr: true},
		{name: "NaN x", xs: []float32{nan}, ys: []float32{1}, wantErr: true},
		{name: "Inf y", xs: []float32{1}, ys: []float32{inf}, wantErr: true},
		{name: "duplicate pair", xs: []float32{1, 2, 1}, ys: []float32{5, 6, 5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSamples(tt.xs, tt.ys)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.xs), s.Len())
			assert.Equal(t, tt.xs, s.X())
			assert.Equal(t, tt.ys, s.Y())
		})
	}
}

func TestSamplesAreCopied(t *testing.T) {
	xs := []float32{1, 2}
	ys := []float32{3, 4}
	s := MustSamples(t, xs, ys)

	xs[0] = 100
	assert.Equal(t, Sample{X: 1, Y: 3}, s.At(0))

	out := s.X()
	out[1] = 100
	assert.Equal(t, float32(2), s.At(1).X)
}

func TestSamplesFloat64(t *testing.T) {
	s := MustSamples(t, []float32{0.5, 1.5}, []float32{2, 3})
	xs, ys := s.Float64()
	assert.Equal(t, []float64{0.5, 1.5}, xs)
	assert.Equal(t, []float64{2, 3}, ys)
}

func TestSamplesFingerprint(t *testing.T) {
	a := MustSamples(t, []float32{1, 2, 3}, []float32{2, 4, 6})
	b := MustSamples(t, []float32{1, 2, 3}, []float32{2, 4, 6})
	c := MustSamples(t, []float32{1, 2, 3}, []float32{2, 4, 7})
	d := MustSamples(t, []float32{2, 1, 3}, []float32{4, 2, 6})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint(), "order is part of the fingerprint")
}
