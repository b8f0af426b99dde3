package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAwaitTimeout indicates no correlated webhook arrived before the deadline.
var ErrAwaitTimeout = errors.New("timed out waiting for webhook")

// DefaultAwaitTimeout is the hard ceiling for synchronous flows that block on
// a correlated webhook delivery, e.g. card creation.
const DefaultAwaitTimeout = 5 * time.Minute

// Waiter lets a request handler block until the webhook correlated with its
// operation arrives. Listeners are deregistered on every exit path so the
// registry cannot accumulate abandoned channels.
type Waiter struct {
	mu      sync.Mutex
	waiting map[string]chan Event
}

// NewWaiter builds an empty waiter registry.
func NewWaiter() *Waiter {
	return &Waiter{waiting: make(map[string]chan Event)}
}

// Register creates a listener for the correlation id. The returned release
// function must be deferred by the caller; it is safe to call more than once.
func (w *Waiter) Register(correlationID string) (<-chan Event, func()) {
	ch := make(chan Event, 1)
	w.mu.Lock()
	w.waiting[correlationID] = ch
	w.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.waiting, correlationID)
			w.mu.Unlock()
		})
	}
	return ch, release
}

// Resolve delivers the event to a registered listener. It reports whether
// anyone was waiting; an unclaimed event is not an error, the poller or a
// later lookup will observe the same terminal state.
func (w *Waiter) Resolve(correlationID string, ev Event) bool {
	w.mu.Lock()
	ch, ok := w.waiting[correlationID]
	if ok {
		delete(w.waiting, correlationID)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ev
	return true
}

// Await registers for the correlation id and blocks until the webhook arrives,
// the timeout elapses, or ctx is cancelled. The listener is always released.
func (w *Waiter) Await(ctx context.Context, correlationID string, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, release := w.Register(correlationID)
	defer release()

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Event{}, ErrAwaitTimeout
		}
		return Event{}, ctx.Err()
	}
}

// Pending returns the number of registered listeners. Used by tests to assert
// cleanup and by health reporting.
func (w *Waiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiting)
}
