package mirrorring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()

	w := r.Writable()
	require.GreaterOrEqual(t, len(w), 5)
	copy(w, []byte("hello"))
	r.CommitWrite(5)

	got := r.Readable()
	require.Equal(t, 5, len(got))
	assert.Equal(t, "hello", string(got))
	r.CommitRead(5)

	assert.Empty(t, r.Readable())
}

func TestRingWrap(t *testing.T) {
	// S1 — Ring wrap: capacity = one page.
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()
	capacity := r.Capacity()

	w := r.Writable()
	require.GreaterOrEqual(t, len(w), 3000)
	for i := 0; i < 3000; i++ {
		w[i] = 0x41
	}
	r.CommitWrite(3000)

	read := r.Readable()
	require.Equal(t, 3000, len(read))
	r.CommitRead(2000)

	w = r.Writable()
	require.GreaterOrEqual(t, len(w), 3000)
	for i := 0; i < 3000; i++ {
		w[i] = 0x42
	}
	r.CommitWrite(3000)

	final := r.Readable()
	require.Equal(t, 4000, len(final))
	expect := append(bytes.Repeat([]byte{0x41}, 1000), bytes.Repeat([]byte{0x42}, 3000)...)
	assert.Equal(t, expect, final)
	_ = capacity
}

func TestRingBounds(t *testing.T) {
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()

	w := r.Writable()
	r.CommitWrite(len(w) / 2)

	assert.Equal(t, r.Capacity(), len(r.Readable())+len(r.Writable()))
	assert.LessOrEqual(t, len(r.Readable()), r.Capacity())
}

func TestCommitWriteTooMuchPanics(t *testing.T) {
	r, err := New(Options{Capacity: 4096})
	require.NoError(t, err)
	defer r.Destroy()

	w := r.Writable()
	assert.Panics(t, func() { r.CommitWrite(len(w) + 1) })
}

func TestPrivateData(t *testing.T) {
	r, err := New(Options{Capacity: 4096, PrivateSize: 64})
	require.NoError(t, err)
	defer r.Destroy()

	pd := r.PrivateData()
	require.GreaterOrEqual(t, len(pd), 64)
	copy(pd, []byte("control-metadata"))
	assert.Equal(t, "control-metadata", r.PrivateDataString()[:len("control-metadata")])
}

func TestNamedCreateAttachDestroy(t *testing.T) {
	name := "reactor-test-ring"
	r, err := Create(Options{Capacity: 4096, Name: name})
	require.NoError(t, err)

	w := r.Writable()
	copy(w, []byte("shared"))
	r.CommitWrite(6)

	attached, err := Attach(name)
	require.NoError(t, err)

	got := attached.Readable()
	require.Equal(t, 6, len(got))
	assert.Equal(t, "shared", string(got))

	require.NoError(t, attached.Detach())
	require.NoError(t, r.Destroy())
}
