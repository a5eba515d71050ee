package sim

import "sync"

// StatePool recycles fixed-size state vectors. The online data update of the
// data-driven controller shifts a window of output measurements every few
// steps; the pool keeps that churn off the allocator.
type StatePool struct {
	pool sync.Pool
	size int
}

func NewStatePool(stateSize int) *StatePool {
	return &StatePool{
		size: stateSize,
		pool: sync.Pool{
			New: func() interface{} {
				return make(State, stateSize)
			},
		},
	}
}

func (p *StatePool) Get() State {
	return p.pool.Get().(State)
}

func (p *StatePool) Put(s State) {
	if len(s) != p.size {
		return
	}
	for i := range s {
		s[i] = 0
	}
	p.pool.Put(s)
}

func (p *StatePool) GetAndCopy(src State) State {
	dst := p.Get()
	copy(dst, src)
	return dst
}
