package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitQueued(t *testing.T, l *FIFOLock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Waiting() == n }, time.Second, time.Millisecond)
	// Waiting counts a goroutine just before it parks in the semaphore
	time.Sleep(10 * time.Millisecond)
}

func TestFIFOLock_Order(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	l := NewFIFOLock()
	require.NoError(l.Lock(ctx))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Lock(ctx); err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Unlock()
		}()
		// enqueue one at a time so the arrival order is known
		waitQueued(t, l, i+1)
	}

	l.Unlock()
	wg.Wait()
	require.Equal([]int{0, 1, 2, 3, 4}, order)
	require.True(l.TryLock())
	l.Unlock()
}

func TestFIFOLock_CancelWhileWaiting(t *testing.T) {
	require := require.New(t)

	l := NewFIFOLock()
	require.NoError(l.Lock(context.Background()))
	require.False(l.TryLock())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Lock(ctx) }()
	waitQueued(t, l, 1)

	cancel()
	require.ErrorIs(<-errCh, context.Canceled)
	require.Equal(0, l.Waiting())

	l.Unlock()
	require.True(l.TryLock(), "a cancelled waiter must not keep the lock")
	l.Unlock()
}

func TestFIFOLock_UnlockUnlocked(t *testing.T) {
	require.Panics(t, func() { NewFIFOLock().Unlock() })
}
