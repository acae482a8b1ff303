package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// LocalManager implements Manager within one process. Waiters on the same key
// are served in arrival order.
type LocalManager struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

type localEntry struct {
	sem        *semaphore.Weighted
	refs       int
	acquiredAt time.Time
}

// NewLocalManager creates an in-process lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{entries: make(map[string]*localEntry), now: time.Now}
}

func (m *LocalManager) ref(key string) *localEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &localEntry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *LocalManager) unref(key string, e *localEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Acquire waits up to wait for the key.
func (m *LocalManager) Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error) {
	e := m.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	err := e.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		m.unref(key, e)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}

	m.mu.Lock()
	e.acquiredAt = m.now()
	m.mu.Unlock()
	return &localLease{m: m, key: key, entry: e}, nil
}

// LeaseAge reports how long the current holder has held key.
func (m *LocalManager) LeaseAge(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.acquiredAt.IsZero() {
		return 0, false, nil
	}
	return m.now().Sub(e.acquiredAt), true, nil
}

type localLease struct {
	m     *LocalManager
	key   string
	entry *localEntry
	once  sync.Once
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.m.mu.Lock()
		l.entry.acquiredAt = time.Time{}
		l.m.mu.Unlock()
		l.entry.sem.Release(1)
		l.m.unref(l.key, l.entry)
	})
	return nil
}
