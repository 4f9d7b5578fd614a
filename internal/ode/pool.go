package ode

import "sync"

// VecPool recycles State buffers of a fixed size for hot loops.
type VecPool struct {
	pool sync.Pool
	size int
}

func NewVecPool(size int) *VecPool {
	return &VecPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make(State, size)
			},
		},
	}
}

func (p *VecPool) Get() State {
	return p.pool.Get().(State)
}

func (p *VecPool) Put(s State) {
	if len(s) == p.size {
		s.Zero()
		p.pool.Put(s)
	}
}

func (p *VecPool) GetAndCopy(src State) State {
	dst := p.Get()
	copy(dst, src)
	return dst
}
