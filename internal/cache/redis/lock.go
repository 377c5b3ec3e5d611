package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// releaseLua deletes the lock only while the caller still owns it.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the caller still owns the lock.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// release.
type LockManager struct {
	c       *Client
	release *redis.Script
	refresh *redis.Script
	logger  *slog.Logger
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		refresh: redis.NewScript(refreshLua),
		logger:  logger.With(slog.String("component", "redis_lock")),
	}
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// owner holds it. The returned unlock is idempotent and runs on a detached
// context.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(uctx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}, nil
}

// Hold acquires the lock and keeps renewing it every ttl/3 until ctx is
// cancelled or ownership is lost. lost is closed when a renewal finds the
// lock owned by someone else.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (unlock func(), lost <-chan struct{}, err error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	hctx, stop := context.WithCancel(ctx)
	lostCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(ttl/3, 10*time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				n, err := lm.refresh.Run(hctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
				if err != nil {
					if hctx.Err() == nil {
						lm.logger.Warn("lock refresh failed", slog.String("key", key), slog.String("error", err.Error()))
					}
					continue
				}
				if n == 0 {
					lm.logger.Error("lock ownership lost", slog.String("key", key))
					close(lostCh)
					return
				}
			}
		}
	}()

	var once sync.Once
	unlock = func() {
		once.Do(func() {
			stop()
			<-done
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(uctx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
	return unlock, lostCh, nil
}

var _ domain.LockManager = (*LockManager)(nil)
