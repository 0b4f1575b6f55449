package tcp

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfyiamcool/reactor/fd"
	"github.com/rfyiamcool/reactor/reactor"
	"github.com/rfyiamcool/reactor/slab"
)

var _ Allocator = (*slab.ArenaAllocator)(nil)

// echoHandler copies every OnRead payload into an outbound ring; the
// Connection registers Writable on its own once that ring stops being
// empty, the literal S4 echo behavior.
type echoHandler struct {
	conn   *Connection
	closed chan struct{}
	once   sync.Once
}

func newEchoHandler() *echoHandler {
	return &echoHandler{closed: make(chan struct{})}
}

func (h *echoHandler) OnRead(data []byte) int {
	buf := h.conn.outbound.Writable()
	n := copy(buf, data)
	if n > 0 {
		h.conn.outbound.CommitWrite(n)
	}
	return n
}

func (h *echoHandler) OnWrite(buf []byte) int { return 0 }

func (h *echoHandler) OnClose() {
	h.once.Do(func() { close(h.closed) })
}

func unixTestAddr(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), fmt.Sprintf("reactor-%d.sock", time.Now().UnixNano()))
}

func TestListenerEchoRoundTrip(t *testing.T) {
	d, err := reactor.New(0)
	require.NoError(t, err)
	defer d.Close()

	addr, err := Parse(unixTestAddr(t))
	require.NoError(t, err)

	// Without an Allocator a Listener's connections are write-disabled, so
	// give each one a 4096-byte outbound ring to echo into.
	arena, err := slab.NewArena(64<<10, 8<<10, 64<<10)
	require.NoError(t, err)

	var mu sync.Mutex
	handlers := make([]*echoHandler, 0, 1)

	l, err := Listen(d, addr, func(sock *fd.FD, peer string) (Conn, error) {
		h := newEchoHandler()
		mu.Lock()
		handlers = append(handlers, h)
		mu.Unlock()
		return h, nil
	}, WithAllocator(slab.NewArenaAllocator(arena, 4096, 4096)), WithAcceptHook(func(c *Connection) {
		mu.Lock()
		handlers[len(handlers)-1].conn = c
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer l.Close()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_ = d.RunOnce(50 * time.Millisecond)
			}
		}
	}()
	defer close(stop)

	conn, err := net.Dial("unix", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = conn.Write(payload)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = readFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestListenerAcceptDrainsMultiplePending(t *testing.T) {
	d, err := reactor.New(0)
	require.NoError(t, err)
	defer d.Close()

	addr, err := Parse(unixTestAddr(t))
	require.NoError(t, err)

	var mu sync.Mutex
	accepted := 0

	l, err := Listen(d, addr, func(sock *fd.FD, peer string) (Conn, error) {
		return newEchoHandler(), nil
	}, WithAcceptHook(func(c *Connection) {
		mu.Lock()
		accepted++
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer l.Close()

	const n = 8
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		c, err := net.Dial("unix", addr.String())
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	time.Sleep(50 * time.Millisecond) // let the kernel queue every connect
	l.OnReadable()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, n, accepted)
}

func TestListenerWithArenaAllocatorReleasesBudgetOnClose(t *testing.T) {
	d, err := reactor.New(0)
	require.NoError(t, err)
	defer d.Close()

	addr, err := Parse(unixTestAddr(t))
	require.NoError(t, err)

	arena, err := slab.NewArena(1<<20, 8<<10, 256<<10)
	require.NoError(t, err)
	alloc := slab.NewArenaAllocator(arena, 64<<10, 64<<10)
	before := arena.Available()

	var mu sync.Mutex
	var conn *Connection

	l, err := Listen(d, addr, func(sock *fd.FD, peer string) (Conn, error) {
		return newEchoHandler(), nil
	}, WithAllocator(alloc), WithAcceptHook(func(c *Connection) {
		mu.Lock()
		conn = c
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer l.Close()

	client, err := net.Dial("unix", addr.String())
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(20 * time.Millisecond)
	l.OnReadable()

	mu.Lock()
	accepted := conn
	mu.Unlock()
	require.NotNil(t, accepted)
	assert.Less(t, arena.Available(), before) // the listener's Allocator actually reserved arena bytes

	accepted.closeConn()
	assert.Equal(t, before, arena.Available()) // release ran, giving the reservation back
}

func TestListenUnlinksStaleSocketFile(t *testing.T) {
	path := unixTestAddr(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	d, err := reactor.New(0)
	require.NoError(t, err)
	defer d.Close()

	addr, err := Parse(path)
	require.NoError(t, err)

	l, err := Listen(d, addr, func(sock *fd.FD, peer string) (Conn, error) {
		return newEchoHandler(), nil
	})
	require.NoError(t, err)
	defer l.Close()
}
