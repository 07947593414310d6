package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	assert := assert.New(t)

	t.Run("Put Active Timer", func(t *testing.T) {
		timer1 := GetTimer(100 * time.Millisecond)
		PutTimer(timer1)

		begin := time.Now()
		timer2 := GetTimer(200 * time.Millisecond)
		defer PutTimer(timer2)

		select {
		case tt := <-timer2.C:
			assert.GreaterOrEqual(tt.Sub(begin), 180*time.Millisecond)
		case <-time.After(time.Second):
			t.Error("timer2 should have fired")
		}
	})

	t.Run("Concurrency", func(t *testing.T) {
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(5 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestSleep(t *testing.T) {
	require := require.New(t)

	require.NoError(Sleep(context.Background(), 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(Sleep(ctx, 0), context.Canceled)
}
