// Package locker serializes read-compute-write cycles on one instance across
// processes.
package locker

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker hands out exclusive locks by key. Acquire blocks until the lock is
// held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
	Close() error
}

// InstanceKey is the lock key guarding one instance.
func InstanceKey(instanceID string) string {
	return "matterflow:instance:" + instanceID
}
