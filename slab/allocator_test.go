package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocatorReservesAndReleasesBudget(t *testing.T) {
	arena, err := NewArena(1<<20, 8<<10, 256<<10)
	require.NoError(t, err)
	a := NewArenaAllocator(arena, 64<<10, 64<<10)

	before := arena.Available()
	inCap, outCap, release := a.Alloc()
	assert.Equal(t, 64<<10, inCap)
	assert.Equal(t, 64<<10, outCap)
	require.NotNil(t, release)
	assert.Less(t, arena.Available(), before)

	release()
	assert.Equal(t, before, arena.Available())
}

func TestArenaAllocatorFallsBackToInboundOnlyWhenShort(t *testing.T) {
	arena, err := NewArena(64<<10, 8<<10, 64<<10)
	require.NoError(t, err)
	// one root block: big enough for inbound alone, not inbound+outbound.
	a := NewArenaAllocator(arena, 40<<10, 40<<10)

	inCap, outCap, release := a.Alloc()
	assert.Equal(t, 40<<10, inCap)
	assert.Equal(t, 0, outCap)
	require.NotNil(t, release)

	release()
	assert.Equal(t, 64<<10-8, arena.Available()) // one free 64KiB root, less its 8-byte block header
}

func TestArenaAllocatorFallsBackToDefaultsWhenExhausted(t *testing.T) {
	arena, err := NewArena(32<<10, 8<<10, 32<<10)
	require.NoError(t, err)
	a := NewArenaAllocator(arena, 40<<10, 0) // larger than the whole arena

	inCap, outCap, release := a.Alloc()
	assert.Equal(t, 0, inCap)
	assert.Equal(t, 0, outCap)
	assert.Nil(t, release)
}
