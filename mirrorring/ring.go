package mirrorring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rfyiamcool/reactor/internal/hack"
)

// Options configures a new Ring.
type Options struct {
	// Capacity is the desired data-region size in bytes. It is rounded
	// up to both the system page size and the next power of two.
	Capacity int

	// PrivateSize is the size in bytes of an embedded private-data
	// region the caller can use for its own control metadata. Zero means
	// no private region.
	PrivateSize int

	// Name, if non-empty, backs the ring with a named shared-memory
	// object under /dev/shm so another process can Attach to it.
	Name string
}

// Ring is a fixed-capacity byte ring whose data region is mapped twice at
// adjacent virtual addresses. It is safe for exactly one producer
// goroutine and one consumer goroutine to use concurrently (one of each,
// matching §5's SP/SC contract); it is not safe for multiple producers
// or multiple consumers.
type Ring struct {
	fd   int
	name string

	base    unsafe.Pointer // start of the H+2C reservation
	mapLen  int            // H + 2*capacity
	h       int            // page-aligned header+private size
	capacity int

	readIdx  *uint64
	writeIdx *uint64
}

// New creates an unnamed (process-private) ring.
func New(opts Options) (*Ring, error) {
	return create(opts)
}

// Create creates a named ring, failing if the name is already in use.
// It is equivalent to New with opts.Name set, spelled out separately
// because constructing a named ring is observably different (it fails
// on name collision, and persists after the creating process exits).
func Create(opts Options) (*Ring, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("mirrorring: Create requires a non-empty Name")
	}
	return create(opts)
}

func create(opts Options) (*Ring, error) {
	capacity := roundUpPow2(opts.Capacity)
	pageSize := unix.Getpagesize()
	if capacity < pageSize {
		capacity = roundUpPow2(pageSize)
	}
	h := roundUpMultiple(fixedHeaderSize+opts.PrivateSize, pageSize)
	total := h + capacity

	fd, err := createBacking(opts.Name, total)
	if err != nil {
		return nil, err
	}

	r, err := mapRing(fd, opts.Name, h, capacity)
	if err != nil {
		unix.Close(fd)
		if opts.Name != "" {
			_ = unlinkBacking(opts.Name)
		}
		return nil, err
	}

	hdr := r.headerBytes()
	hdr[offsetVersion] = headerVersion
	writeUint64(hdr, offsetCapacity, uint64(capacity))
	writeUint64(hdr, offsetPrivateSize, uint64(opts.PrivateSize))
	atomicStoreUint64(r.readIdx, 0)
	atomicStoreUint64(r.writeIdx, 0)

	return r, nil
}

// Attach opens an existing named ring, reading capacity and private-data
// size from its header before constructing the double mapping.
func Attach(name string) (*Ring, error) {
	fd, size, err := openBacking(name)
	if err != nil {
		return nil, err
	}

	// Peek the fixed header to learn h/capacity before mapping for real.
	peek, perr := unix.Mmap(fd, 0, fixedHeaderSize, unix.PROT_READ, unix.MAP_SHARED)
	if perr != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mirrorring: attach %q: peek header: %w", name, perr)
	}
	version := peek[offsetVersion]
	capacity := int(readUint64(peek, offsetCapacity))
	privateSize := int(readUint64(peek, offsetPrivateSize))
	_ = unix.Munmap(peek)

	if version != headerVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("mirrorring: attach %q: unsupported header version %d", name, version)
	}
	h := roundUpMultiple(fixedHeaderSize+privateSize, unix.Getpagesize())
	if int64(h+capacity) != size {
		unix.Close(fd)
		return nil, fmt.Errorf("mirrorring: attach %q: backing size %d doesn't match header (h=%d, capacity=%d)", name, size, h, capacity)
	}

	r, err := mapRing(fd, name, h, capacity)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return r, nil
}

// mapRing performs the reserve -> map -> mirror-remap sequence common to
// both create and Attach.
func mapRing(fd int, name string, h, capacity int) (*Ring, error) {
	mapLen := h + 2*capacity
	base, err := mmapReserve(mapLen)
	if err != nil {
		return nil, err
	}

	if err := mmapFixedFile(base, h+capacity, fd, 0); err != nil {
		_ = munmapAt(base, mapLen)
		return nil, err
	}
	if err := mremapMirror(unsafe.Pointer(base), h, capacity, base+uintptr(h+capacity)); err != nil {
		_ = munmapAt(base, mapLen)
		return nil, err
	}

	basePtr := unsafe.Pointer(base)
	return &Ring{
		fd:       fd,
		name:     name,
		base:     basePtr,
		mapLen:   mapLen,
		h:        h,
		capacity: capacity,
		readIdx:  (*uint64)(ptrAt(basePtr, offsetReadIdx)),
		writeIdx: (*uint64)(ptrAt(basePtr, offsetWriteIdx)),
	}, nil
}

func (r *Ring) headerBytes() []byte {
	return unsafe.Slice((*byte)(r.base), fixedHeaderSize)
}

// Capacity returns the ring's data-region size in bytes.
func (r *Ring) Capacity() int { return r.capacity }

// Name returns the ring's shared-memory object name, or "" if unnamed.
func (r *Ring) Name() string { return r.name }

// Writable returns the slice the producer may fill, starting at (w mod
// C), of length C-(w-r). The caller writes into some prefix and calls
// CommitWrite with however many bytes it actually produced.
func (r *Ring) Writable() []byte {
	w := atomicLoadUint64(r.writeIdx)
	read := atomicLoadUint64(r.readIdx)
	size := uint64(r.capacity) - (w - read)
	off := r.h + int(w&uint64(r.capacity-1))
	return unsafe.Slice((*byte)(ptrAt(r.base, off)), size)
}

// CommitWrite advances the write index by n, publishing the bytes the
// producer just wrote with a release store so a concurrently-loading
// consumer is guaranteed to see them. n must not exceed the length of
// the slice the most recent Writable call returned; violating that is a
// contract error and panics rather than silently corrupting the ring.
func (r *Ring) CommitWrite(n int) int {
	if n < 0 {
		panic("mirrorring: CommitWrite with negative n")
	}
	w := atomicLoadUint64(r.writeIdx)
	read := atomicLoadUint64(r.readIdx)
	avail := uint64(r.capacity) - (w - read)
	if uint64(n) > avail {
		panic("mirrorring: CommitWrite(n) exceeds last Writable() size")
	}
	atomicStoreUint64(r.writeIdx, w+uint64(n))
	return n
}

// Readable returns the slice the consumer may read, starting at (r mod
// C), of length w-r.
func (r *Ring) Readable() []byte {
	read := atomicLoadUint64(r.readIdx)
	w := atomicLoadUint64(r.writeIdx) // acquire load: see all bytes the producer published
	size := w - read
	off := r.h + int(read&uint64(r.capacity-1))
	return unsafe.Slice((*byte)(ptrAt(r.base, off)), size)
}

// CommitRead advances the read index by n, the consumer's release store
// telling the producer those bytes are free to be overwritten. n must
// not exceed the length of the slice the most recent Readable call
// returned.
func (r *Ring) CommitRead(n int) {
	if n < 0 {
		panic("mirrorring: CommitRead with negative n")
	}
	read := atomicLoadUint64(r.readIdx)
	w := atomicLoadUint64(r.writeIdx)
	if uint64(n) > w-read {
		panic("mirrorring: CommitRead(n) exceeds last Readable() size")
	}
	atomicStoreUint64(r.readIdx, read+uint64(n))
}

// PrivateData returns the embedded private-data region, or nil if the
// ring was created with PrivateSize 0.
func (r *Ring) PrivateData() []byte {
	size := int(readUint64(r.headerBytes(), offsetPrivateSize))
	if size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptrAt(r.base, fixedHeaderSize)), size)
}

// PrivateDataString views the private-data region as a string without
// copying, for callers who keep e.g. a control-metadata path or name in
// it; the returned string is only valid until the next write to the
// private-data region.
func (r *Ring) PrivateDataString() string {
	return hack.ByteSliceToString(r.PrivateData())
}

// Detach unmaps the ring locally without removing a named ring's
// backing object -- another process (or this one, later) can still
// Attach to it.
func (r *Ring) Detach() error {
	if err := munmapAt(uintptr(r.base), r.mapLen); err != nil {
		return err
	}
	return unix.Close(r.fd)
}

// Destroy unmaps the ring locally and, for a named ring, removes the
// shared-memory object's name so no further Attach can succeed.
func (r *Ring) Destroy() error {
	name := r.name
	if err := r.Detach(); err != nil {
		return err
	}
	if name != "" {
		return unlinkBacking(name)
	}
	return nil
}
