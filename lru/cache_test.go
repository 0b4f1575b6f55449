package lru

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFind(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	now := time.Now()

	_, inserted := c.Insert(now, "a", 1)
	assert.True(t, inserted)

	v, ok := c.Find("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Find("missing")
	assert.False(t, ok)
}

func TestInsertExistingReturnsOld(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	now := time.Now()

	c.Insert(now, "a", 1)
	actual, inserted := c.Insert(now, "a", 2)
	assert.False(t, inserted)
	assert.Equal(t, 1, actual)

	v, _ := c.Find("a")
	assert.Equal(t, 1, v)
}

func TestTouchMovesToTail(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	now := time.Now()

	c.Insert(now, "a", 1)
	c.Insert(now.Add(time.Millisecond), "b", 2)
	require.True(t, c.Touch(now.Add(2*time.Millisecond), "a"))

	// "a" was touched last, so it should now be the last evicted.
	var order []string
	n := c.ClearExpired(now.Add(10*time.Second), func(k string, v int) {
		order = append(order, k)
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestEraseRemoves(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	now := time.Now()
	c.Insert(now, "a", 1)
	require.True(t, c.Erase("a"))
	_, ok := c.Find("a")
	assert.False(t, ok)
	assert.False(t, c.Erase("a"))
}

func TestBucketDoubling(t *testing.T) {
	c := New[string, int](10*time.Second, StringHasher)
	now := time.Now()
	for i := 0; i < 17; i++ {
		c.Insert(now, strconv.Itoa(i), i)
	}
	assert.Greater(t, len(c.buckets), initialBuckets)
	for i := 0; i < 17; i++ {
		v, ok := c.Find(strconv.Itoa(i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestExpiryBoundary(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	t0 := time.Now()
	c.Insert(t0, "a", 1)
	c.Insert(t0.Add(300*time.Millisecond), "b", 2)
	c.Insert(t0.Add(600*time.Millisecond), "c", 3)

	var evicted []string
	n := c.ClearExpired(t0.Add(1001*time.Millisecond), func(k string, v int) {
		evicted = append(evicted, k)
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, evicted)

	_, ok := c.Find("b")
	assert.True(t, ok)
	_, ok = c.Find("c")
	assert.True(t, ok)
}

func TestClearExpiredStopsAtFirstLive(t *testing.T) {
	c := New[string, int](time.Second, StringHasher)
	t0 := time.Now()
	c.Insert(t0, "a", 1)
	c.Insert(t0.Add(5*time.Second), "b", 2)

	n := c.ClearExpired(t0.Add(2*time.Second), func(string, int) {})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.Len())
}
