package locker_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/matterflow/pkg/locker"
)

func setupRedis(t *testing.T) *locker.Redis {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	require.NoError(t, err)

	l, err := locker.NewRedis(ctx, slog.Default(), fmt.Sprintf("redis://%s/0", endpoint),
		locker.WithTTL(2*time.Second),
		locker.WithRetryBackoff(10*time.Millisecond),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, l.Close())
	})

	return l
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	l := setupRedis(t)
	key := locker.InstanceKey("inst-1")

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, key)
	require.ErrorIs(t, err, locker.ErrNotAcquired)

	require.NoError(t, release(context.Background()))

	release, err = l.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}

func TestRedis_ExpiredLockCanBeTaken(t *testing.T) {
	l := setupRedis(t)
	key := locker.InstanceKey("inst-2")

	stale, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	require.NoError(t, stale(context.Background()), "releasing an expired lock leaves the new holder alone")

	_, err = l.Acquire(contextWithTimeout(t, 100*time.Millisecond), key)
	require.ErrorIs(t, err, locker.ErrNotAcquired)

	require.NoError(t, release(context.Background()))
}

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)

	return ctx
}
