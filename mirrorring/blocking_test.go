package mirrorring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingRingWaitReadable(t *testing.T) {
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()

	b := NewBlocking(r)

	done := make(chan []byte, 1)
	go func() {
		done <- b.WaitReadable()
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine block
	w := b.Writable()
	copy(w, []byte("x"))
	b.CommitWrite(1)

	select {
	case got := <-done:
		assert.Equal(t, "x", string(got))
	case <-time.After(time.Second):
		t.Fatal("WaitReadable never woke up")
	}
}

func TestBlockingRingCloseWakesWaiters(t *testing.T) {
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()

	b := NewBlocking(r)
	done := make(chan struct{})
	go func() {
		b.WaitReadable()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked waiter")
	}
}
