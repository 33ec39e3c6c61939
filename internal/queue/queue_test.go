package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

func TestQueue_SubmitSucceeds(t *testing.T) {
	q := New("test", Options{RateLimitDelay: time.Millisecond})
	defer q.Stop()

	value, err := q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestQueue_RetriesTransientFailureThenSucceeds(t *testing.T) {
	q := New("test", Options{RateLimitDelay: time.Millisecond, MaxRetries: 2})
	defer q.Stop()

	var attempts int32
	value, err := q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return nil, mentaterrors.Transient("simulated blip")
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int32(2), attempts)
}

func TestQueue_NonRetryableFailsImmediately(t *testing.T) {
	q := New("test", Options{RateLimitDelay: time.Millisecond, MaxRetries: 3})
	defer q.Stop()

	var attempts int32
	_, err := q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, mentaterrors.Auth("bad credentials")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts)
}

func TestQueue_RejectsExpiredDeadlineWhileQueued(t *testing.T) {
	q := New("test", Options{
		RateLimitDelay: time.Hour, // never ticks during the test
		RequestTimeout: 20 * time.Millisecond,
		JanitorPeriod:  10 * time.Millisecond,
	})
	defer q.Stop()

	_, err := q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
		return "should not run", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, mentaterrors.ErrTimeout)
}

func TestQueue_FIFOOrderForEqualPriority(t *testing.T) {
	q := New("test", Options{RateLimitDelay: time.Millisecond, MaxConcurrent: 1})
	defer q.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			require.NoError(t, err)
		}()
		time.Sleep(5 * time.Millisecond) // ensure submission order across goroutines
	}
	wg.Wait()

	require.Len(t, order, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	q := New("test", Options{RateLimitDelay: time.Millisecond, MaxConcurrent: 2})
	defer q.Stop()

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, int32(2))
}
