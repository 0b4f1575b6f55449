package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaAllocFree(t *testing.T) {
	a, err := NewArena(64<<10, 8<<10, 32<<10)
	require.NoError(t, err)

	b := a.Alloc(100)
	require.NotNil(t, b)
	require.GreaterOrEqual(t, len(b), 100)

	before := a.Available()
	a.Free(b)
	require.Greater(t, a.Available(), before)
}

func TestArenaExhaustion(t *testing.T) {
	a, err := NewArena(32<<10, 8<<10, 32<<10)
	require.NoError(t, err)

	b1 := a.Alloc(30 << 10)
	require.NotNil(t, b1)

	b2 := a.Alloc(30 << 10)
	require.Nil(t, b2) // arena has only one root block
}

func TestArenaDoubleFreePanics(t *testing.T) {
	a, err := NewArena(32<<10, 8<<10, 32<<10)
	require.NoError(t, err)

	b := a.Alloc(100)
	a.Free(b)
	require.Panics(t, func() { a.Free(b) })
}
