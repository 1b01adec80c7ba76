package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cardvault/internal/errors"
)

const (
	redisKeyPrefix = "lock:card:"
	// releaseTimeout bounds unlock calls, which run detached from the
	// request context so abandoned requests still free their locks.
	releaseTimeout = 2 * time.Second
)

// RedisLocker coordinates card locks across service instances using
// redsync mutexes on a shared redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	expiry time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a distributed locker. Lock expiry is a multiple of
// the attempt timeout so a crashed holder cannot wedge a card forever.
func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.normalized()
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		expiry: 10 * opts.Timeout,
		logger: logger,
	}
}

// Acquire locks every key in ascending order.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = sortedUnique(keys)

	return retry(ctx, l.opts, keys, func(attemptCtx context.Context) (Release, error) {
		held := make([]*redsync.Mutex, 0, len(keys))
		for _, key := range keys {
			m := l.rs.NewMutex(redisKeyPrefix+key,
				redsync.WithExpiry(l.expiry),
				redsync.WithTries(1),
			)
			if err := l.lockUntil(attemptCtx, m); err != nil {
				l.unlock(held)
				return nil, err
			}
			held = append(held, m)
		}

		var once sync.Once
		return func() { once.Do(func() { l.unlock(held) }) }, nil
	})
}

// lockUntil polls a single mutex until it is obtained or ctx ends.
// Both "taken" and redis errors are polled through; an unreachable redis
// therefore ends as ErrContention once attempts are exhausted.
func (l *RedisLocker) lockUntil(ctx context.Context, m *redsync.Mutex) error {
	const poll = 10 * time.Millisecond
	for {
		err := m.LockContext(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redsync.ErrFailed) {
			l.logger.Debug("card lock attempt failed", zap.String("lock", m.Name()), zap.Error(err))
		}
		if err := sleep(ctx, poll); err != nil {
			return errBusy
		}
	}
}

func (l *RedisLocker) unlock(held []*redsync.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if ok, err := held[i].UnlockContext(ctx); err != nil || !ok {
			l.logger.Warn("release card lock",
				zap.String("lock", held[i].Name()),
				zap.Bool("held", ok),
				zap.Error(err),
			)
		}
	}
}
