package locker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/locker"
)

func TestLocal_Exclusive(t *testing.T) {
	l := locker.NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			release, err := l.Acquire(ctx, locker.InstanceKey("inst-1"))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			holders++
			maxSeen = max(maxSeen, holders)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()

			assert.NoError(t, release(ctx))
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestLocal_ContextTimeout(t *testing.T) {
	l := locker.NewLocal()

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, locker.ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()), "release is idempotent")

	release, err = l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := locker.NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseA, err := l.Acquire(ctx, "a")
	require.NoError(t, err)

	releaseB, err := l.Acquire(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, releaseA(ctx))
	require.NoError(t, releaseB(ctx))
}
