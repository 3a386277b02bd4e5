// Package stream provides the cancellable subscription primitive used
// by the live remote listeners. A subscription delivers ordered,
// complete snapshots to a single consumer and runs a documented cleanup
// action when canceled.
package stream

import (
	"context"
	"sync"
)

// Subscription is a live sequence of values of type T. Values are
// complete snapshots: the channel conflates, so a slow consumer only
// ever misses superseded intermediate states, never the newest one.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// New starts a subscription. run feeds snapshots through emit until it
// returns; a nil return is a clean close, anything else is surfaced via
// Err. cleanup, if non-nil, runs after run returns and before Cancel
// unblocks, regardless of how the subscription ended.
func New[T any](parent context.Context, run func(ctx context.Context, emit func(T)) error, cleanup func()) *Subscription[T] {
	ctx, cancel := context.WithCancel(parent)
	s := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		err := run(ctx, s.emit)
		if cleanup != nil {
			cleanup()
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.updates)
		close(s.done)
	}()
	return s
}

// Updates is the snapshot channel. It closes when the subscription
// ends; check Err afterwards.
func (s *Subscription[T]) Updates() <-chan T { return s.updates }

// Cancel stops the subscription and blocks until its cleanup has run
// and the listener resource is released.
func (s *Subscription[T]) Cancel() {
	s.cancel()
	<-s.done
}

// Err returns the terminal error, if any. Valid once Updates is closed.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// emit replaces any undelivered snapshot with v.
func (s *Subscription[T]) emit(v T) {
	for {
		select {
		case s.updates <- v:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
