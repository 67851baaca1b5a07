package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// unlockTimeout bounds the release call, which runs on a fresh context.
const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX plus a TTL. The
// reconcile service takes one lock per venue client id so two processes never
// run a correlation cycle for the same session at once.
type LockManager struct {
	client   *Client
	unlockSc *redis.Script
	logger   func(key string, err error)
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		client:   c,
		unlockSc: redis.NewScript(unlockLua),
	}
}

// OnUnlockError registers a callback for failed releases. The lock still
// expires on its TTL.
func (lm *LockManager) OnUnlockError(fn func(key string, err error)) {
	lm.logger = fn
}

func (lm *LockManager) lockKey(key string) string {
	return lm.client.Key("lock:" + key)
}

// Acquire takes the lock for key. It returns domain.ErrLockHeld when another
// holder owns it. The returned unlock func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.lockKey(key)
	rdb := lm.client.Underlying()

	ok, err := rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()

			if err := lm.unlockSc.Run(unlockCtx, rdb, []string{lk}, token).Err(); err != nil && lm.logger != nil {
				lm.logger(key, err)
			}
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
