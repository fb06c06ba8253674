// Package cooplock implements the two cooperative mutexes this client needs:
// io_lock (serializes raw byte writes and the dispatch peek) and op_lock
// (serializes the one-at-a-time QoS1 publish / subscribe / unsubscribe
// operation). Both are binary (weight-1) semaphores acquired only at
// suspension points, matching a single-threaded cooperative model — the
// busy-wait spin lock of the original source becomes a context-aware
// weighted semaphore, which additionally makes every acquire cancellable by
// a deadline or by Supervisor shutdown.
package cooplock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock is a binary mutex acquired and released at explicit suspension
// points. Build one with New; the zero value has no semaphore and is not
// usable.
type Lock struct {
	sem *semaphore.Weighted
}

func New() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release releases the lock. Must be called exactly once per successful
// Acquire, on every exit path including error — callers should use
// `defer l.Release()`.
func (l *Lock) Release() {
	l.sem.Release(1)
}

// TryAcquire acquires the lock without blocking, reporting whether it
// succeeded.
func (l *Lock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}
