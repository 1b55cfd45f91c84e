package selection

import "gonum.org/v1/gonum/mat"

// MatrixPool keeps design matrices and vectors between least-squares solves
// so a polish run allocates them once. It is not safe for concurrent use.
type MatrixPool struct {
	dense []*mat.Dense
	vecs  []*mat.VecDense
}

// NewMatrixPool creates an empty pool.
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		dense: make([]*mat.Dense, 0, 2),
		vecs:  make([]*mat.VecDense, 0, 4),
	}
}

// GetDense returns an r×c matrix from the pool or creates a new one.
// Contents are unspecified.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	if p != nil {
		for i := len(p.dense) - 1; i >= 0; i-- {
			m := p.dense[i]
			if mr, mc := m.Dims(); mr == r && mc == c {
				p.dense = append(p.dense[:i], p.dense[i+1:]...)
				return m
			}
		}
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a matrix to the pool.
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if p == nil || m == nil {
		return
	}
	p.dense = append(p.dense, m)
}

// GetVecDense returns a length-n vector from the pool or creates a new one.
// Contents are unspecified.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	if p != nil {
		for i := len(p.vecs) - 1; i >= 0; i-- {
			v := p.vecs[i]
			if v.Len() == n {
				p.vecs = append(p.vecs[:i], p.vecs[i+1:]...)
				return v
			}
		}
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool.
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	if p == nil || v == nil {
		return
	}
	p.vecs = append(p.vecs, v)
}

// Len reports the number of pooled matrices and vectors.
func (p *MatrixPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.dense) + len(p.vecs)
}
