package locker

import (
	"context"
	"fmt"
	"sync"
)

type localEntry struct {
	slot chan struct{}
	refs int
}

// Local is an in-process Locker. Locks are not shared between processes.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: make(map[string]*localEntry)}
}

func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	entry := l.ref(key)

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.unref(key)

		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			<-entry.slot
			l.unref(key)
		})

		return nil
	}, nil
}

func (l *Local) Close() error {
	return nil
}

func (l *Local) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++

	return entry
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
