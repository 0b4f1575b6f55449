package mirrorring

import (
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// FallbackRing is the portable fallback §9's Design Notes calls for: a
// single, un-mirrored buffer for targets (or call sites) that can't or
// don't want to rely on mremap(MAP_FIXED). It preserves the ring's
// byte-fidelity and bounds invariants, but weakens the contiguity
// guarantee: a Writable/Readable slice never crosses the buffer's
// physical end, so a caller may see two short slices where Ring would
// have given one. Capacity still rounds to a power of two so the modulo
// arithmetic stays a mask, even though nothing here depends on page
// alignment.
type FallbackRing struct {
	buf      []byte
	capacity uint64

	readIdx  uint64
	writeIdx uint64
}

// NewFallback creates a capacity-byte (rounded to a power of two)
// in-process ring backed by an ordinary slice.
func NewFallback(capacity int) *FallbackRing {
	c := roundUpPow2(capacity)
	return &FallbackRing{
		// dirtmake skips the zero-fill make would pay for; the ring
		// overwrites every byte before it's ever read, so the garbage
		// initial contents are never observable.
		buf:      dirtmake.Bytes(c, c),
		capacity: uint64(c),
	}
}

// Capacity returns the ring's size in bytes.
func (f *FallbackRing) Capacity() int { return int(f.capacity) }

// Writable returns the largest contiguous writable slice available,
// which may be shorter than the true writable byte count if that count
// would wrap past the end of the backing buffer.
func (f *FallbackRing) Writable() []byte {
	w := atomic.LoadUint64(&f.writeIdx)
	r := atomic.LoadUint64(&f.readIdx)
	avail := f.capacity - (w - r)
	off := w & (f.capacity - 1)
	untilEnd := f.capacity - off
	size := avail
	if size > untilEnd {
		size = untilEnd
	}
	return f.buf[off : off+size]
}

// CommitWrite advances the write index by n; n must not exceed the
// length of the most recently returned Writable slice.
func (f *FallbackRing) CommitWrite(n int) int {
	if n < 0 {
		panic("mirrorring: CommitWrite with negative n")
	}
	w := atomic.LoadUint64(&f.writeIdx)
	r := atomic.LoadUint64(&f.readIdx)
	if uint64(n) > f.capacity-(w-r) {
		panic("mirrorring: CommitWrite(n) exceeds available space")
	}
	atomic.StoreUint64(&f.writeIdx, w+uint64(n))
	return n
}

// Readable returns the largest contiguous readable slice available.
func (f *FallbackRing) Readable() []byte {
	r := atomic.LoadUint64(&f.readIdx)
	w := atomic.LoadUint64(&f.writeIdx)
	avail := w - r
	off := r & (f.capacity - 1)
	untilEnd := f.capacity - off
	size := avail
	if size > untilEnd {
		size = untilEnd
	}
	return f.buf[off : off+size]
}

// CommitRead advances the read index by n; n must not exceed the length
// of the most recently returned Readable slice.
func (f *FallbackRing) CommitRead(n int) {
	if n < 0 {
		panic("mirrorring: CommitRead with negative n")
	}
	r := atomic.LoadUint64(&f.readIdx)
	w := atomic.LoadUint64(&f.writeIdx)
	if uint64(n) > w-r {
		panic("mirrorring: CommitRead(n) exceeds available data")
	}
	atomic.StoreUint64(&f.readIdx, r+uint64(n))
}
