// Package tcp couples non-blocking sockets to mirrorring.Ring buffers and
// drives their read/write state machines from a reactor.Dispatcher. It is
// the reborn netx: the teacher wrapped a net.Conn with a stater and a
// bufiox reader/writer; here the socket is owned directly (no net.Conn in
// the middle) so its readability/writability edges can be registered on
// the Dispatcher and its payload bytes land straight in a ring instead of
// a buffered io.Reader.
package tcp

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rfyiamcool/reactor/fd"
	"github.com/rfyiamcool/reactor/reactor"
)

const listenBacklog = 1024

// Allocator is the pluggable hook TcpServer.h's AllocFunc/DeallocFunc
// constructor arguments provided: rather than every accepted connection
// picking its own ring capacities independently, a Listener can be given
// one Allocator that sizes both rings for every connection it accepts and
// gets a chance to give back whatever it reserved once that connection
// closes -- the Alloc/Dealloc pairing the original takes as two separate
// constructor args, collapsed into one interface here since the release
// side only ever makes sense paired with its own Alloc call.
type Allocator interface {
	// Alloc returns the inbound and outbound ring capacities to use for a
	// newly-accepted connection, plus a release func invoked exactly once
	// when that connection closes. A zero outbound capacity means the
	// connection is write-disabled, per §3's TcpConnection attributes.
	// release may be nil if Alloc reserved nothing that needs giving back.
	Alloc() (inboundCapacity, outboundCapacity int, release func())
}

// Factory constructs a user-level handler for a newly-accepted socket.
// The returned Conn's OnRead/OnWrite/OnClose are invoked by the
// TcpConnection this package builds around sock.
type Factory func(sock *fd.FD, peer string) (Conn, error)

// Listener owns a non-blocking listening socket and hands every accepted
// connection to a user-supplied Factory, grounded on TcpServer.h/.cpp's
// listen/accept shape and generalized to dispatch through a
// reactor.Dispatcher instead of a bespoke IEpoll.
type Listener struct {
	sock      *fd.FD
	addr      Address
	dispatch  *reactor.Dispatcher
	factory   Factory
	allocator Allocator

	onAccept func(c *Connection)
}

var _ reactor.IOListener = (*Listener)(nil)

// Listen binds and listens on addr with the fixed backlog §4.4 specifies.
// A Unix-domain path is unlinked before bind so a stale socket file from a
// previous run doesn't collide with EADDRINUSE.
func Listen(d *reactor.Dispatcher, addr Address, factory Factory, opts ...Option) (*Listener, error) {
	sa, err := addr.sockaddr()
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}

	if addr.Family() == FamilyUnix {
		if rmErr := os.Remove(addr.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("tcp: listen %s: unlink stale socket: %w", addr, rmErr)
		}
	}

	raw, err := unix.Socket(addr.domain(), unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: socket: %w", addr, err)
	}
	sock := fd.FromRaw(raw)

	if err := sock.SetNonblocking(); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	if err := unix.Bind(raw, sa); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tcp: listen %s: bind: %w", addr, err)
	}
	if err := unix.Listen(raw, listenBacklog); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tcp: listen %s: listen: %w", addr, err)
	}

	l := &Listener{
		sock:     sock,
		addr:     addr,
		dispatch: d,
		factory:  factory,
	}
	for _, o := range opts {
		o(l)
	}

	if err := d.Register(raw, reactor.Readable, l); err != nil {
		sock.Close()
		return nil, fmt.Errorf("tcp: listen %s: register: %w", addr, err)
	}
	return l, nil
}

// Option configures a Listener at construction time.
type Option func(*Listener)

// WithAllocator attaches the ring-sizing hook described on Allocator.
func WithAllocator(a Allocator) Option {
	return func(l *Listener) { l.allocator = a }
}

// WithAcceptHook registers a callback invoked with every Connection this
// listener creates, before it is handed to the user's on-read callback --
// useful for tests that want to observe accepted connections directly.
func WithAcceptHook(f func(c *Connection)) Option {
	return func(l *Listener) { l.onAccept = f }
}

// Addr returns the address this listener is bound to.
func (l *Listener) Addr() Address { return l.addr }

// Close stops accepting and closes the listening socket.
func (l *Listener) Close() error {
	_ = l.dispatch.Unregister(l.sock.Int())
	return l.sock.Close()
}

// OnReadable drains accept() until EAGAIN, satisfying property 8's
// accept-drain guarantee: every pending connect from one edge is accepted
// before this call returns.
func (l *Listener) OnReadable() {
	for {
		raw, sa, err := unix.Accept(l.sock.Int())
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			return
		}

		peer := fd.FromRaw(raw)
		if err := peer.SetNonblocking(); err != nil {
			peer.Close()
			continue
		}

		handler, err := l.factory(peer, sockaddrString(sa))
		if err != nil {
			peer.Close()
			continue
		}

		inCap, outCap := defaultRingCapacity, 0
		var release func()
		if l.allocator != nil {
			inCap, outCap, release = l.allocator.Alloc()
		}
		conn, err := newConnection(l.dispatch, peer, inCap, outCap, handler, release)
		if err != nil {
			peer.Close()
			continue
		}
		if l.onAccept != nil {
			l.onAccept(conn)
		}
	}
}

// OnWritable is never invoked: Listen only registers Readable.
func (l *Listener) OnWritable() {}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	default:
		return "unknown"
	}
}
