package reactor

import (
	"container/heap"
	"time"
)

// TimeoutListener is invoked by the timeout procedure when its deadline
// has passed. Returning true reschedules it interval after now; false
// drops it from the heap permanently.
type TimeoutListener interface {
	OnTimeout(now time.Time) (repeat bool)
}

type timeoutEntry struct {
	deadline time.Time
	interval time.Duration
	listener TimeoutListener
	index    int // heap index, maintained by container/heap
	cancelled bool
}

// TimeoutHandle lets a caller cancel a scheduled timeout before it fires.
type TimeoutHandle struct {
	entry *timeoutEntry
}

// Cancel removes the timeout. Safe to call more than once, and safe to
// call from inside the listener's own OnTimeout callback (it just marks
// the entry so the timeout procedure drops it instead of requeuing).
func (h *TimeoutHandle) Cancel() {
	if h != nil && h.entry != nil {
		h.entry.cancelled = true
	}
}

// timeoutHeap is a min-heap ordered by deadline, the deadline-heap
// collaborator the dispatcher's timeout procedure pops from.
type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int { return len(h) }
func (h timeoutHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

func (h *timeoutHeap) push(e *timeoutEntry) {
	heap.Push(h, e)
}

func (h *timeoutHeap) peek() *timeoutEntry {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *timeoutHeap) popMin() *timeoutEntry {
	return heap.Pop(h).(*timeoutEntry)
}
