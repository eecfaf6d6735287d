// Package broadcast is a bounded multi-consumer ring buffer.
//
// Every receiver reads every value through its own cursor. Senders never
// block: once the ring is full the oldest value is overwritten, and a
// receiver whose cursor fell behind the retained window gets a LaggedError
// before it resumes at the oldest value still retained.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrClosed      = errors.New("broadcast: channel closed")
	ErrNoReceivers = errors.New("broadcast: no receivers")
	ErrEmpty       = errors.New("broadcast: no value pending")
	ErrLagged      = errors.New("broadcast: receiver lagged")
)

// LaggedError reports how many values a receiver lost. It matches ErrLagged.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, skipped %d values", e.Skipped)
}

func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

type Channel[T any] struct {
	mu        sync.Mutex
	slots     []T
	tail      uint64
	receivers int
	closed    bool
	notify    chan struct{}
}

// New returns a channel retaining at most capacity values; capacity below
// one is treated as one.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		slots:  make([]T, capacity),
		notify: make(chan struct{}),
	}
}

func (c *Channel[T]) Capacity() int {
	return len(c.slots)
}

// Send appends v and wakes waiting receivers. It returns the number of
// receivers that will observe v. With no receivers nothing is retained and
// ErrNoReceivers is returned.
func (c *Channel[T]) Send(v T) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.receivers == 0 {
		return 0, ErrNoReceivers
	}
	c.slots[c.tail%uint64(len(c.slots))] = v
	c.tail++
	close(c.notify)
	c.notify = make(chan struct{})
	return c.receivers, nil
}

// Subscribe returns a receiver positioned after the newest value.
func (c *Channel[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers++
	return &Receiver[T]{ch: c, next: c.tail}
}

func (c *Channel[T]) Receivers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivers
}

// Sent is the total number of values accepted since creation.
func (c *Channel[T]) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tail
}

// Close rejects further sends. Receivers drain what is retained and then
// observe ErrClosed.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

type Receiver[T any] struct {
	ch       *Channel[T]
	next     uint64
	detached bool
}

// Recv blocks until a value is available, the channel is closed or ctx is
// done.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		r.ch.mu.Lock()
		v, err := r.recvLocked()
		wait := r.ch.notify
		r.ch.mu.Unlock()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// TryRecv returns ErrEmpty instead of blocking.
func (r *Receiver[T]) TryRecv() (T, error) {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	return r.recvLocked()
}

// Close detaches the receiver. Values sent afterwards no longer count it.
func (r *Receiver[T]) Close() {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	if r.detached {
		return
	}
	r.detached = true
	r.ch.receivers--
}

func (r *Receiver[T]) recvLocked() (T, error) {
	var zero T
	c := r.ch
	if r.detached {
		return zero, ErrClosed
	}
	if r.next < c.tail {
		size := uint64(len(c.slots))
		var oldest uint64
		if c.tail > size {
			oldest = c.tail - size
		}
		if r.next < oldest {
			skipped := oldest - r.next
			r.next = oldest
			return zero, &LaggedError{Skipped: skipped}
		}
		v := c.slots[r.next%size]
		r.next++
		return v, nil
	}
	if c.closed {
		return zero, ErrClosed
	}
	return zero, ErrEmpty
}
