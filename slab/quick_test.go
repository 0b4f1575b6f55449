package slab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuickMallocFree(t *testing.T) {
	b := QuickMalloc(128)
	assert.GreaterOrEqual(t, cap(b), 128)
	QuickFree(b)
}

func TestGrow(t *testing.T) {
	buf := make([]byte, 0, 4)
	buf = append(buf, 'a', 'b')

	grown := Grow(buf, 100)
	assert.Equal(t, "ab", string(grown))
	assert.GreaterOrEqual(t, cap(grown), 102)
}
