// Package reactor is the readiness-notification multiplexer: a single
// -threaded Dispatcher that owns edge-triggered I/O subscriptions,
// per-iteration loop-tick callbacks, and a deadline-ordered heap of
// timeouts. It is the Go-idiomatic, full-dispatch generalization of an
// epoll wrapper that used to exist only to detect a remote peer closing
// a pooled connection; this one drives a complete read/write/close
// dispatch loop instead.
package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// EventMask selects which edges an I/O subscription cares about.
type EventMask uint8

const (
	Readable EventMask = 1 << iota
	Writable
)

// IOListener is notified when its descriptor becomes ready. Exactly one
// IOListener may be registered per descriptor at a time.
type IOListener interface {
	OnReadable()
	OnWritable()
}

// TickListener runs once per RunOnce iteration, before the readiness
// wait.
type TickListener interface {
	OnTick()
}

// state is the Dispatcher's Idle/Running state machine.
type state int32

const (
	stateIdle state = iota
	stateRunning
)

const defaultMaxEvents = 256

// Dispatcher is a single-threaded readiness multiplexer. It is not safe
// for concurrent use from multiple goroutines, matching the scheduling
// model the rest of this module's core types share: everything runs on
// the goroutine that calls RunLoop/RunOnce.
type Dispatcher struct {
	backend *epollBackend

	subs map[int]*ioSub
	pool subPool

	ticks []TickListener

	timeouts timeoutHeap

	state   int32 // atomic, so Stop can be called from a signal handler goroutine
	stop    int32 // atomic
	events  []unix.EpollEvent
	ready   []readyEvent
}

type ioSub struct {
	fd       int
	mask     EventMask
	listener IOListener

	poolNext *ioSub // subPool free-chain link; unused once allocated
}

// New creates a Dispatcher backed by an epoll instance sized for up to
// maxEvents ready descriptors per wait. A maxEvents <= 0 uses a sensible
// default.
func New(maxEvents int) (*Dispatcher, error) {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	backend, err := newEpollBackend()
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		backend: backend,
		subs:    make(map[int]*ioSub),
		events:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register subscribes fd for the given event mask, edge-triggered.
// Registration is permanent until Unregister is called explicitly; it is
// an error to register a descriptor that already has a subscription.
func (d *Dispatcher) Register(fd int, mask EventMask, l IOListener) error {
	if _, exists := d.subs[fd]; exists {
		return fmt.Errorf("reactor: fd %d already registered", fd)
	}
	if err := d.backend.add(fd, mask); err != nil {
		return err
	}
	sub := d.pool.alloc()
	sub.fd, sub.mask, sub.listener = fd, mask, l
	d.subs[fd] = sub
	return nil
}

// Modify changes the event mask for an already-registered descriptor,
// e.g. adding Writable once a TcpConnection has data queued to send.
func (d *Dispatcher) Modify(fd int, mask EventMask) error {
	sub, exists := d.subs[fd]
	if !exists {
		return fmt.Errorf("reactor: fd %d not registered", fd)
	}
	if err := d.backend.modify(fd, mask); err != nil {
		return err
	}
	sub.mask = mask
	return nil
}

// Unregister removes fd's subscription. Safe to call from inside the
// listener's own callback.
func (d *Dispatcher) Unregister(fd int) error {
	sub, exists := d.subs[fd]
	if !exists {
		return nil
	}
	delete(d.subs, fd)
	d.pool.release(sub)
	return d.backend.del(fd)
}

// AddTick registers a loop-tick listener, run in registration order at
// the start of every RunOnce iteration.
func (d *Dispatcher) AddTick(l TickListener) {
	d.ticks = append(d.ticks, l)
}

// ScheduleTimeout registers l to fire at deadline, and every interval
// thereafter for as long as OnTimeout returns true.
func (d *Dispatcher) ScheduleTimeout(deadline time.Time, interval time.Duration, l TimeoutListener) *TimeoutHandle {
	e := &timeoutEntry{deadline: deadline, interval: interval, listener: l}
	d.timeouts.push(e)
	return &TimeoutHandle{entry: e}
}

// Stop clears the Running state; the current RunOnce finishes but
// RunLoop does not begin another iteration. Safe to call from any
// goroutine (e.g. a signal handler) though callbacks themselves run
// single-threaded.
func (d *Dispatcher) Stop() {
	atomic.StoreInt32(&d.stop, 1)
}

// Close releases the underlying epoll descriptor. The Dispatcher must
// not be running.
func (d *Dispatcher) Close() error {
	return d.backend.close()
}

// ErrInterrupted is a sentinel some callers may want to check for, but
// RunOnce itself treats an interrupted wait as "no further work this
// iteration", not an error -- it returns nil.
var ErrInterrupted = errors.New("reactor: wait interrupted")

// RunLoop sets Running and repeats RunOnce(pollTimeout) until Stop is
// called.
func (d *Dispatcher) RunLoop(pollTimeout time.Duration) error {
	atomic.StoreInt32(&d.state, int32(stateRunning))
	atomic.StoreInt32(&d.stop, 0)
	defer atomic.StoreInt32(&d.state, int32(stateIdle))

	for atomic.LoadInt32(&d.stop) == 0 {
		if err := d.RunOnce(pollTimeout); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce performs one iteration: loop ticks, readiness wait, and (on
// timeout or dispatch) the timeout procedure, in the order §4.3
// specifies.
func (d *Dispatcher) RunOnce(pollTimeout time.Duration) error {
	for _, t := range d.ticks {
		t.OnTick()
	}

	timeoutMillis := int(pollTimeout / time.Millisecond)
	if pollTimeout < 0 {
		timeoutMillis = -1
	}

	d.ready = d.ready[:0]
	ready, interrupted, err := d.backend.wait(d.ready, d.events, timeoutMillis)
	d.ready = ready
	if err != nil {
		return err
	}
	if interrupted {
		return nil
	}

	now := time.Now()
	if len(d.ready) == 0 {
		d.runTimeoutProcedure(now)
		return nil
	}

	for _, r := range d.ready {
		sub, exists := d.subs[r.fd]
		if !exists {
			continue // unregistered between wait and dispatch
		}
		if r.mask&Readable != 0 {
			sub.listener.OnReadable()
		}
		if r.mask&Writable != 0 {
			sub.listener.OnWritable()
		}
	}

	d.runTimeoutProcedure(now)
	return nil
}

// runTimeoutProcedure pops every entry whose deadline has passed,
// invokes OnTimeout, and reinserts it (with a fresh deadline) if it
// asked to repeat.
func (d *Dispatcher) runTimeoutProcedure(now time.Time) {
	for {
		top := d.timeouts.peek()
		if top == nil || top.deadline.After(now) {
			return
		}
		e := d.timeouts.popMin()
		if e.cancelled {
			continue
		}
		if e.listener.OnTimeout(now) && !e.cancelled {
			e.deadline = now.Add(e.interval)
			d.timeouts.push(e)
		}
	}
}
