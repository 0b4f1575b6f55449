package mirrorring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mremap flags. x/sys/unix does not export these as of the version this
// module pins, so they're reproduced here from linux/mman-common.h --
// the same approach this module takes wherever a raw Linux syscall has
// no wrapper in golang.org/x/sys/unix.
const (
	mremapMaymove = 1
	mremapFixed   = 2
)

// mmapReserve reserves a PROT_NONE anonymous region of length bytes,
// giving us a stable virtual address range to remap the real mapping
// into. The kernel picks the address; every subsequent mapping step
// targets an offset within [addr, addr+length) with MAP_FIXED.
func mmapReserve(length int) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, uintptr(length),
		uintptr(unix.PROT_NONE), uintptr(unix.MAP_ANONYMOUS|unix.MAP_PRIVATE), ^uintptr(0), 0)
	if errno != 0 {
		return 0, fmt.Errorf("mirrorring: mmap(reserve, %d): %w", length, errno)
	}
	return addr, nil
}

// mmapFixedFile maps length bytes of fd at fileOffset onto addr, which
// must lie inside a previous mmapReserve call's range (or be the start
// of it).
func mmapFixedFile(addr uintptr, length int, fd int, fileOffset int64) error {
	got, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED), uintptr(fd), uintptr(fileOffset))
	if errno != 0 {
		return fmt.Errorf("mirrorring: mmap(fixed, addr=%#x, len=%d, off=%d): %w", addr, length, fileOffset, errno)
	}
	if got != addr {
		return fmt.Errorf("mirrorring: mmap(fixed) returned %#x, wanted %#x", got, addr)
	}
	return nil
}

// mremapMirror re-maps the [srcOffset, srcOffset+length) window of an
// existing mapping at base onto dstAddr, producing the second of the two
// adjacent views the mirror-mapping trick relies on. old_size is passed
// as 0, which on a shared mapping makes mremap create a new mapping of
// the same pages instead of moving them.
//
// This is the one operation this package needs that x/sys/unix has no
// direct wrapper for, so it goes through the raw syscall, matching the
// original's mremap(..., MREMAP_MAYMOVE|MREMAP_FIXED, ...) call.
func mremapMirror(base unsafe.Pointer, srcOffset, length int, dstAddr uintptr) error {
	src := uintptr(base) + uintptr(srcOffset)
	got, _, errno := unix.Syscall6(unix.SYS_MREMAP, src, 0, uintptr(length),
		uintptr(mremapMaymove|mremapFixed), dstAddr, 0)
	if errno != 0 {
		return fmt.Errorf("mirrorring: mremap(src=%#x, len=%d, dst=%#x): %w", src, length, dstAddr, errno)
	}
	if got != dstAddr {
		return fmt.Errorf("mirrorring: mremap returned %#x, wanted %#x", got, dstAddr)
	}
	return nil
}

func munmapAt(addr uintptr, length int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(length), 0)
	if errno != 0 {
		return fmt.Errorf("mirrorring: munmap(%#x, %d): %w", addr, length, errno)
	}
	return nil
}
