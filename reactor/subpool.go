package reactor

import "unsafe"

// subBlockSize bounds how many ioSub structs one growth round allocates,
// rounded down from a 4KiB block the way a fixed-size pool allocator
// commonly sizes its chunks.
const subBlockSize = 4 * 1024

// subPool is a block-allocated freelist of *ioSub values: instead of one
// heap allocation per Register call, it grows in page-sized batches and
// hands structs back out via a singly-linked free chain. A long-running
// server that registers and unregisters many short-lived connections
// (exactly TcpConnection's lifecycle) churns far fewer individual
// allocations this way.
type subPool struct {
	all  []*ioSub
	free *ioSub
}

func (p *subPool) alloc() *ioSub {
	if p.free == nil {
		const size = unsafe.Sizeof(ioSub{})
		n := subBlockSize / size
		if n == 0 {
			n = 1
		}
		for i := uintptr(0); i < n; i++ {
			s := &ioSub{}
			p.all = append(p.all, s)
			s.poolNext = p.free
			p.free = s
		}
	}
	s := p.free
	p.free = s.poolNext
	s.poolNext = nil
	return s
}

func (p *subPool) release(s *ioSub) {
	*s = ioSub{poolNext: p.free}
	p.free = s
}
