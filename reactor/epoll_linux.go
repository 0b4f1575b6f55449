package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollBackend wraps the epoll syscalls the Dispatcher needs, a thinner
// and purely-unix.EpollWait-based replacement for a cgo epoll_wait_loop
// technique this module's ancestor code used: this module's Dispatcher
// needs per-fd read/write dispatch rather than just remote-close
// detection, so the wait loop lives in Dispatcher.RunOnce, not behind a
// cgo call, and x/sys/unix already wraps EpollWait/EpollCtl directly
// without touching the deprecated syscall package.
type epollBackend struct {
	epfd int
}

func newEpollBackend() (*epollBackend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollBackend{epfd: fd}, nil
}

func maskToEpollEvents(mask EventMask) uint32 {
	var ev uint32 = unix.EPOLLET
	if mask&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) add(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: maskToEpollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(ADD, %d): %w", fd, err)
	}
	return nil
}

func (b *epollBackend) modify(fd int, mask EventMask) error {
	ev := unix.EpollEvent{Events: maskToEpollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

func (b *epollBackend) del(fd int) error {
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

// wait blocks for up to timeoutMillis (-1 means forever) and appends
// ready (fd, mask) pairs to dst, returning the grown slice. It returns
// (dst, true, nil) if the wait was interrupted (EINTR), matching the
// dispatcher's "return without further work" contract on interrupt.
func (b *epollBackend) wait(dst []readyEvent, events []unix.EpollEvent, timeoutMillis int) ([]readyEvent, bool, error) {
	n, err := unix.EpollWait(b.epfd, events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, true, nil
		}
		return dst, false, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := events[i]
		var mask EventMask
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			mask |= Readable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			mask |= Writable
		}
		dst = append(dst, readyEvent{fd: int(ev.Fd), mask: mask})
	}
	return dst, false, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}

type readyEvent struct {
	fd   int
	mask EventMask
}
