// Package delay provides a timed wait that can be settled early.
package delay

import (
	"context"
	"sync"
	"time"
)

// Delay settles with a value after a duration elapses, or earlier when
// cancelled. Cancel(nil) settles it with the value immediately; Cancel(err)
// settles it with err. Only the first settlement counts.
type Delay[T any] struct {
	value T

	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	err     error
	settled bool
}

// New starts a delay of d that resolves to value.
func New[T any](d time.Duration, value T) *Delay[T] {
	dl := &Delay[T]{
		value: value,
		done:  make(chan struct{}),
	}
	dl.mu.Lock()
	dl.timer = time.AfterFunc(d, func() { dl.settle(nil) })
	dl.mu.Unlock()
	return dl
}

// Cancel settles the delay early. A nil err resolves it with its value.
func (d *Delay[T]) Cancel(err error) {
	d.settle(err)
}

// Done is closed once the delay has settled.
func (d *Delay[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the delay settles or ctx ends. A context ending does
// not settle the delay.
func (d *Delay[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.err != nil {
			var zero T
			return zero, d.err
		}
		return d.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the delay has settled.
func (d *Delay[T]) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delay[T]) settle(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.settled = true
	d.err = err
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.done)
}
