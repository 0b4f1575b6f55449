package tcp

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rfyiamcool/reactor/fd"
	"github.com/rfyiamcool/reactor/mirrorring"
	"github.com/rfyiamcool/reactor/reactor"
)

// defaultRingCapacity is used when a Listener has no Allocator: one page,
// the same minimum mirrorring.Create rounds up to on its own.
const defaultRingCapacity = 4096

// Conn is the user-level handler a Factory returns. It mirrors
// tcp_connection.h's three protected overrides exactly: on_read,
// on_write, on_close.
type Conn interface {
	// OnRead is handed the inbound ring's readable slice; it must return
	// how many of the leading bytes it consumed. Returning less than
	// len(data) leaves the remainder for the next call.
	OnRead(data []byte) (consumed int)

	// OnWrite is handed the outbound ring's writable slice; it must
	// return how many bytes it produced into buf's leading prefix.
	// Called only when the outbound ring is empty.
	OnWrite(buf []byte) (produced int)

	// OnClose is invoked exactly once, after the connection's read and
	// write loops have stopped and before its socket is closed.
	OnClose()
}

// ring is the subset of mirrorring.Ring's and mirrorring.FallbackRing's
// method sets a Connection needs; either satisfies it, so a caller can
// opt into the portable fallback (weaker contiguity, no shared-memory
// name) without this package caring which.
type ring interface {
	Capacity() int
	Writable() []byte
	CommitWrite(n int) int
	Readable() []byte
	CommitRead(n int)
}

var _ ring = (*mirrorring.Ring)(nil)
var _ ring = (*mirrorring.FallbackRing)(nil)

// Connection couples a non-blocking socket to one inbound ring
// (mandatory) and one outbound ring (optional; nil or zero-capacity means
// write-disabled), implementing the read/write state machines of §4.4.
// Grounded on src/tcp_connection.h/.cpp's on_read/on_write/consume/produce
// shape, generalized from its bespoke event_dispatch::io_listener to
// reactor.IOListener.
type Connection struct {
	sock     *fd.FD
	dispatch *reactor.Dispatcher
	handler  Conn

	inbound  ring
	outbound ring

	writable bool // whether this connection is currently registered for Writable
	closed   bool

	// release is the Allocator's give-back half, called exactly once from
	// closeConn; nil when the connection was built without an Allocator.
	release func()
}

var _ reactor.IOListener = (*Connection)(nil)

// newConnection builds a Connection around an already-accepted, already
// non-blocking socket, creates its ring(s), and registers it for
// readable edges (writable is added lazily, per S4's "registers writable
// if previously idle"). release, if non-nil, is the Allocator's give-back
// for inCap/outCap and is invoked once when the connection closes.
func newConnection(d *reactor.Dispatcher, sock *fd.FD, inCap, outCap int, handler Conn, release func()) (*Connection, error) {
	inbound, err := mirrorring.New(mirrorring.Options{Capacity: inCap})
	if err != nil {
		return nil, fmt.Errorf("tcp: connection inbound ring: %w", err)
	}

	var outbound ring
	if outCap > 0 {
		o, err := mirrorring.New(mirrorring.Options{Capacity: outCap})
		if err != nil {
			return nil, fmt.Errorf("tcp: connection outbound ring: %w", err)
		}
		outbound = o
	}

	c := &Connection{
		sock:     sock,
		dispatch: d,
		handler:  handler,
		inbound:  inbound,
		outbound: outbound,
		release:  release,
	}

	mask := reactor.Readable
	if err := d.Register(sock.Int(), mask, c); err != nil {
		detachRing(inbound)
		detachRing(outbound)
		sock.Close()
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("tcp: connection register: %w", err)
	}
	return c, nil
}

func detachRing(r ring) {
	if d, ok := r.(*mirrorring.Ring); ok && d != nil {
		_ = d.Destroy()
	}
}

// FD returns the connection's socket descriptor, e.g. for logging.
func (c *Connection) FD() int { return c.sock.Int() }

// OnReadable implements the read loop exactly as §4.4 specifies: ask the
// inbound ring for its writable slice, recv into it, and on would-block
// drain one consume step and stop (the edge-trigger drain discipline).
func (c *Connection) OnReadable() {
	for {
		w := c.inbound.Writable()
		if len(w) > 0 {
			n, err := unix.Read(c.sock.Int(), w)
			switch {
			case err == nil && n > 0:
				c.inbound.CommitWrite(n)
				continue
			case err == nil && n == 0:
				c.consume()
				c.closeConn()
				return
			case isTransient(err):
				c.consume()
				return
			default:
				c.closeConn()
				return
			}
		}

		// Ring full: consume what we can; if the user makes no
		// progress, it cannot catch up and the connection is stuck.
		if c.consume() == 0 {
			c.closeConn()
			return
		}
	}
}

// consume hands the inbound ring's readable slice to the user and
// commits however many bytes it reports having consumed. Per S4, a user
// OnRead that queues bytes into the outbound ring directly (the echo
// pattern) gets that ring registered for Writable automatically if it
// was previously idle -- the caller doesn't have to remember to call
// Notify itself.
func (c *Connection) consume() int {
	data := c.inbound.Readable()
	if len(data) == 0 {
		return 0
	}
	n := c.handler.OnRead(data)
	if n > 0 {
		c.inbound.CommitRead(n)
	}
	_ = c.Notify()
	return n
}

// OnWritable implements the symmetric write loop: drain the outbound
// ring's readable slice with send(); once empty, ask the user to produce
// more into its writable slice.
func (c *Connection) OnWritable() {
	if c.outbound == nil {
		return
	}
	for {
		r := c.outbound.Readable()
		if len(r) > 0 {
			n, err := unix.Write(c.sock.Int(), r)
			switch {
			case err == nil && n > 0:
				c.outbound.CommitRead(n)
				continue
			case isTransient(err):
				return
			default: // 0 bytes written, or any non-transient error
				c.closeConn()
				return
			}
		}

		if c.produce() == 0 {
			c.closeConn()
			return
		}
	}
}

// produce hands the outbound ring's writable slice to the user and
// commits however many bytes it reports having produced.
func (c *Connection) produce() int {
	buf := c.outbound.Writable()
	if len(buf) == 0 {
		return 0
	}
	n := c.handler.OnWrite(buf)
	if n > 0 {
		c.outbound.CommitWrite(n)
	}
	return n
}

// Notify wakes the write loop after the caller has queued bytes into the
// outbound ring directly (bypassing OnWrite), e.g. from another
// goroutine via mirrorring.BlockingRing. It registers this connection for
// Writable if it wasn't already, matching S4's "registers writable if
// previously idle".
func (c *Connection) Notify() error {
	if c.outbound == nil || c.closed || c.writable {
		return nil
	}
	if len(c.outbound.Readable()) == 0 {
		return nil // nothing queued yet -- registering now would spin OnWritable for no reason
	}
	if err := c.dispatch.Modify(c.sock.Int(), reactor.Readable|reactor.Writable); err != nil {
		return err
	}
	c.writable = true
	return nil
}

func (c *Connection) closeConn() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.dispatch.Unregister(c.sock.Int())
	c.handler.OnClose()
	detachRing(c.inbound)
	detachRing(c.outbound)
	_ = c.sock.Close()
	if c.release != nil {
		c.release()
	}
}

// isTransient reports whether err is the "would block, try again later"
// class §4.4's error taxonomy calls transient -- the only class that
// returns control to the dispatcher rather than closing the connection.
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
