// Package fd owns a raw file descriptor and guarantees it is closed exactly
// once. The tcp package holds its sockets as *FD; the reactor's epoll
// instance and mirrorring's shared-memory descriptor are kept as bare ints.
package fd

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// FD owns a raw descriptor. The zero value is not valid; use FromRaw.
type FD struct {
	raw    int
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// FromRaw takes ownership of an already-open descriptor.
func FromRaw(raw int) *FD {
	return &FD{raw: raw}
}

// Int returns the underlying descriptor. Valid until Close is called.
func (f *FD) Int() int {
	return f.raw
}

// Valid reports whether the descriptor is still open.
func (f *FD) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// Dup duplicates the descriptor into a new, independently owned FD.
func (f *FD) Dup() (*FD, error) {
	nfd, err := unix.Dup(f.raw)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	return FromRaw(nfd), nil
}

// SetNonblocking puts the descriptor into non-blocking mode.
func (f *FD) SetNonblocking() error {
	if err := unix.SetNonblock(f.raw, true); err != nil {
		return fmt.Errorf("setnonblock: %w", err)
	}
	return nil
}

// Release returns the raw descriptor and disarms Close: the caller takes
// over ownership and must close it themselves.
func (f *FD) Release() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.raw
}

// Close closes the descriptor. Safe to call more than once; only the first
// call does any work and returns the syscall's result.
func (f *FD) Close() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		released := f.closed
		f.closed = true
		f.mu.Unlock()
		if !released {
			err = unix.Close(f.raw)
		}
	})
	return err
}

// String implements fmt.Stringer for log lines.
func (f *FD) String() string {
	return fmt.Sprintf("fd(%d)", f.raw)
}
