package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCapacity is returned by New when capacity is not positive.
var ErrInvalidCapacity = errors.New("limiter: capacity must be >= 1")

// Unit is one deferred piece of work. It receives the limiter's context and
// must return promptly once that context is cancelled.
type Unit[T any] func(ctx context.Context) (T, error)

// Handle resolves with a single unit's outcome once it settles.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the unit settles and returns its outcome.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	return h.val, h.err
}

// Done returns a channel closed once the unit has settled.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

func (h *Handle[T]) settle(val T, err error) {
	h.val = val
	h.err = err
	close(h.done)
}

type queued[T any] struct {
	fn     Unit[T]
	handle *Handle[T]
}

// Limiter bounds the number of simultaneously executing units to a fixed
// capacity. Units beyond capacity wait in a FIFO queue and are started
// strictly in submission order. A slot is released only after its unit has
// fully settled; a unit's failure never affects sibling units.
//
// The limiter knows nothing about the work it schedules.
type Limiter[T any] struct {
	ctx      context.Context
	capacity int

	mu      sync.Mutex
	queue   []queued[T]
	running int
}

// New creates a limiter bound to ctx. Once ctx is cancelled no queued unit
// is started; queued units settle with ctx's error instead.
func New[T any](ctx context.Context, capacity int) (*Limiter[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	l := &Limiter[T]{ctx: ctx, capacity: capacity}
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		l.flushLocked()
		l.mu.Unlock()
	}()
	return l, nil
}

// Submit enqueues one unit and returns its handle immediately; it never
// blocks on other units' execution.
func (l *Limiter[T]) Submit(fn Unit[T]) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{})}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ctx.Err(); err != nil {
		var zero T
		h.settle(zero, err)
		return h
	}
	l.queue = append(l.queue, queued[T]{fn: fn, handle: h})
	l.dispatchLocked()
	return h
}

// InFlight reports the number of currently executing units.
func (l *Limiter[T]) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// dispatchLocked starts queued units head-first while capacity remains.
func (l *Limiter[T]) dispatchLocked() {
	if l.ctx.Err() != nil {
		l.flushLocked()
		return
	}
	for l.running < l.capacity && len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.running++
		go l.exec(next)
	}
}

// flushLocked settles every queued unit with the cancellation error without
// ever starting it.
func (l *Limiter[T]) flushLocked() {
	err := l.ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	for _, q := range l.queue {
		var zero T
		q.handle.settle(zero, err)
	}
	l.queue = nil
}

func (l *Limiter[T]) exec(q queued[T]) {
	val, err := q.fn(l.ctx)
	q.handle.settle(val, err)

	l.mu.Lock()
	l.running--
	l.dispatchLocked()
	l.mu.Unlock()
}
