package queue

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FIFOLock is a mutual exclusion lock granted strictly in arrival order.
//
// Unlike sync.Mutex, a waiter can give up through its context without
// disturbing the order of the waiters behind it.
type FIFOLock struct {
	sem     *semaphore.Weighted
	waiting atomic.Int32
}

// NewFIFOLock creates an unlocked FIFOLock.
func NewFIFOLock() *FIFOLock {
	return &FIFOLock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *FIFOLock) Lock(ctx context.Context) error {
	if l.sem.TryAcquire(1) {
		return nil
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	return l.sem.Acquire(ctx, 1)
}

// TryLock acquires the lock only when it is free and nobody is queued.
func (l *FIFOLock) TryLock() bool {
	return l.sem.TryAcquire(1)
}

// Unlock releases the lock to the oldest waiter.
// It panics if the lock is not held.
func (l *FIFOLock) Unlock() {
	l.sem.Release(1)
}

// Waiting returns the number of goroutines blocked in Lock.
func (l *FIFOLock) Waiting() int {
	return int(l.waiting.Load())
}
