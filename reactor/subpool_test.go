package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubPoolReusesReleasedSlot(t *testing.T) {
	var p subPool

	a := p.alloc()
	a.fd = 7
	p.release(a)

	b := p.alloc()
	assert.Same(t, a, b)
	assert.Equal(t, 0, b.fd) // release zeroes the struct before returning it to the chain
}

func TestSubPoolGrowsInBatches(t *testing.T) {
	var p subPool

	first := p.alloc()
	assert.NotEmpty(t, p.all)
	batchSize := len(p.all)

	for i := 1; i < batchSize; i++ {
		p.alloc()
	}
	assert.Equal(t, batchSize, len(p.all))

	// one more alloc exhausts the first batch and grows a second
	p.alloc()
	assert.Greater(t, len(p.all), batchSize)
	_ = first
}
