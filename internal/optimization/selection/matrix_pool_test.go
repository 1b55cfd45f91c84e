package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixPool(t *testing.T) {
	p := NewMatrixPool()

	m := p.GetDense(3, 2)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	p.PutDense(m)
	assert.Same(t, m, p.GetDense(3, 2), "matching shape is reused")

	p.PutDense(m)
	other := p.GetDense(2, 2)
	assert.NotSame(t, m, other)
	assert.Equal(t, 1, p.Len())

	v := p.GetVecDense(4)
	p.PutVecDense(v)
	assert.Same(t, v, p.GetVecDense(4))
	assert.Equal(t, 5, p.GetVecDense(5).Len())
}

func TestNilMatrixPool(t *testing.T) {
	var p *MatrixPool
	assert.NotNil(t, p.GetDense(2, 2))
	assert.NotNil(t, p.GetVecDense(2))
	assert.NotPanics(t, func() {
		p.PutDense(nil)
		p.PutVecDense(nil)
	})
	assert.Equal(t, 0, p.Len())
}
