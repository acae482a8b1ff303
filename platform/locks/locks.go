// Package locks provides scoped, exclusive, time-bounded locks keyed by entity identity.
// This is part of the platform layer and contains no business logic.
package locks

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the wait bound.
// It is distinct from context cancellation so callers can classify it as retryable.
var ErrLockTimeout = errors.New("lock wait timed out")

// ErrLeaseLost is returned by Release when the lease expired and was taken over.
var ErrLeaseLost = errors.New("lock lease lost")

// releaseTimeout bounds the release call once the caller's context is gone.
const releaseTimeout = 2 * time.Second

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Key() string
	Release(ctx context.Context) error
}

// Manager hands out exclusive leases per key.
type Manager interface {
	// Acquire blocks until the lock is held, wait elapses (ErrLockTimeout),
	// or ctx is done (ctx.Err()).
	Acquire(ctx context.Context, key string, wait time.Duration) (Lease, error)
}

// Inspector reports how long a lease has been held, for stuck-lock health checks.
type Inspector interface {
	LeaseAge(ctx context.Context, key string) (age time.Duration, held bool, err error)
}

// WithLock runs fn while holding key. The lease is released on every return
// path, including panics, using a context detached from ctx's cancellation.
func WithLock(ctx context.Context, m Manager, key string, wait time.Duration, fn func(ctx context.Context) error) (err error) {
	lease, err := m.Acquire(ctx, key, wait)
	if err != nil {
		return err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := lease.Release(relCtx); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ctx)
}
