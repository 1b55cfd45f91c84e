package executor

import "sync"

// BufferPool keeps result buffers between dispatches to reduce allocations.
// A nil *BufferPool is valid and never reuses anything.
type BufferPool struct {
	mu   sync.Mutex
	free [][]float32
	max  int
}

// NewBufferPool creates a pool that retains at most maxBuffers buffers.
func NewBufferPool(maxBuffers int) *BufferPool {
	if maxBuffers <= 0 {
		maxBuffers = 4
	}
	return &BufferPool{
		free: make([][]float32, 0, maxBuffers),
		max:  maxBuffers,
	}
}

// Get returns a buffer of length n, reusing the smallest retained buffer
// that is large enough. Contents are unspecified.
func (p *BufferPool) Get(n uint64) []float32 {
	if p == nil {
		return make([]float32, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	best := -1
	for i, b := range p.free {
		if uint64(cap(b)) >= n && (best < 0 || cap(b) < cap(p.free[best])) {
			best = i
		}
	}
	if best < 0 {
		return make([]float32, n)
	}
	b := p.free[best]
	last := len(p.free) - 1
	p.free[best] = p.free[last]
	p.free[last] = nil
	p.free = p.free[:last]
	return b[:n]
}

// Put returns a buffer to the pool. When the pool is full the smallest
// retained buffer is evicted if b is larger.
func (p *BufferPool) Put(b []float32) {
	if p == nil || cap(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < p.max {
		p.free = append(p.free, b[:0])
		return
	}
	smallest := 0
	for i := range p.free {
		if cap(p.free[i]) < cap(p.free[smallest]) {
			smallest = i
		}
	}
	if cap(b) > cap(p.free[smallest]) {
		p.free[smallest] = b[:0]
	}
}

// Len returns the number of retained buffers.
func (p *BufferPool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
