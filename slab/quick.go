package slab

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"
)

// QuickMalloc hands out a buffer from bytedance/gopkg's own size-classed
// pool. Reach for it when a buffer is short-lived and local to a call or
// two (a scratch decode buffer, say) rather than a long-lived, bounded
// region -- that's what Arena above is for.
func QuickMalloc(size int) []byte {
	return mcache.Malloc(size)
}

// QuickFree returns a QuickMalloc buffer to bytedance/gopkg's pool.
func QuickFree(buf []byte) {
	mcache.Free(buf)
}

// Grow returns a buffer with at least n bytes of capacity beyond len(buf),
// copying buf's contents if a new backing array is needed. Unlike append,
// the grown tail is left uninitialized (dirtmake skips the zero-fill) --
// callers that need zeroed growth should use append instead.
func Grow(buf []byte, n int) []byte {
	if cap(buf)-len(buf) >= n {
		return buf
	}
	grown := dirtmake.Bytes(len(buf), len(buf)+n)
	copy(grown, buf)
	return grown
}
