// Package slab is the pooled byte-buffer allocator external collaborator.
// It carries two coexisting strategies: Arena, a fixed-size buddy-system
// region for callers that need a bounded memory budget, and QuickMalloc/
// QuickFree, a thinner wrapper over bytedance/gopkg's own size-classed
// pool for short-lived scratch buffers. ArenaAllocator adapts Arena into
// tcp.Allocator's shape, so a TcpListener can draw every accepted
// connection's ring budget from one fixed region instead of letting each
// connection size itself independently.
package slab

import (
	"fmt"

	"github.com/rfyiamcool/reactor/unsafex/malloc"
)

// Arena is a fixed-size buddy-system region, for callers that want a
// bounded memory budget (e.g. a connection handler that must never let
// its buffer usage grow past an operator-configured ceiling) rather than
// an unbounded-by-design pool.
//
// It wraps unsafex/malloc.BuddyAllocator; Arena only adds the naming and
// construction surface this package's callers expect.
type Arena struct {
	b *malloc.BuddyAllocator
}

// NewArena creates an Arena backed by a size-byte region, split into
// power-of-two blocks between minBlock and maxBlock (both must be powers
// of two, and size must be a multiple of maxBlock).
func NewArena(size, minBlock, maxBlock int) (*Arena, error) {
	b, err := malloc.NewBuddyAllocatorWithBlockSize(make([]byte, size), minBlock, maxBlock)
	if err != nil {
		return nil, fmt.Errorf("slab: %w", err)
	}
	return &Arena{b: b}, nil
}

// Alloc returns a block of at least size bytes, or nil if the arena has no
// sufficiently large free block (the caller falls back to QuickMalloc, or
// a plain make, at that point).
func (a *Arena) Alloc(size int) []byte {
	return a.b.Alloc(size)
}

// Free returns block to the arena. Panics on double-free or a block this
// Arena did not allocate.
func (a *Arena) Free(block []byte) {
	a.b.Free(block)
}

// Available reports the arena's free byte count, for backpressure
// decisions (e.g. a Dispatcher subscriber throttling reads once an
// arena-backed connection pool is nearly exhausted).
func (a *Arena) Available() int {
	return a.b.Available()
}
