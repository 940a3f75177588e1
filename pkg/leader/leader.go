package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/rs/zerolog"
)

// Elector acquires the cluster-wide leadership lock
type Elector struct {
	coord         coord.Coordinator
	name          string
	retryInterval time.Duration
	logger        zerolog.Logger
}

// NewElector creates an elector for the lock at name
func NewElector(c coord.Coordinator, name string, retryInterval time.Duration) *Elector {
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &Elector{
		coord:         c,
		name:          name,
		retryInterval: retryInterval,
		logger:        log.WithComponent("leader"),
	}
}

// Acquire blocks until the lock is held or ctx is cancelled. Coordination
// errors are retried every retry interval without limit.
func (e *Elector) Acquire(ctx context.Context) (*Lease, error) {
	for {
		lock, err := e.coord.AcquireLock(ctx, e.name)
		if err == nil {
			e.logger.Info().Str("lock", e.name).Msg("Acquired leadership lock")
			return &Lease{lock: lock, acquiredAt: time.Now()}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		e.logger.Warn().
			Err(err).
			Dur("retry_in", e.retryInterval).
			Msg("Failed to acquire leadership lock")

		select {
		case <-time.After(e.retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lease is a held leadership lock
type Lease struct {
	lock       coord.Lock
	acquiredAt time.Time
}

// Assert fails with coord.ErrLockLost once the lock is no longer held
func (l *Lease) Assert(ctx context.Context) error {
	select {
	case <-l.lock.Lost():
		return coord.ErrLockLost
	default:
	}
	if err := l.lock.Assert(ctx); err != nil {
		return fmt.Errorf("failed to assert leadership: %w", err)
	}
	return nil
}

// Put writes path only if leadership is still held when the write commits
func (l *Lease) Put(ctx context.Context, path string, value []byte) error {
	select {
	case <-l.lock.Lost():
		return coord.ErrLockLost
	default:
	}
	if err := l.lock.Put(ctx, path, value); err != nil {
		return fmt.Errorf("failed to write %s as leader: %w", path, err)
	}
	return nil
}

// Release gives up leadership
func (l *Lease) Release(ctx context.Context) error {
	return l.lock.Release(ctx)
}

// Lost is closed when leadership is lost involuntarily
func (l *Lease) Lost() <-chan struct{} {
	return l.lock.Lost()
}

// AcquiredAt returns when the lease was granted
func (l *Lease) AcquiredAt() time.Time {
	return l.acquiredAt
}
