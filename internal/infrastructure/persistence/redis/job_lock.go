package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned by Release when the lock expired or was
// taken over by another holder.
var ErrLockNotHeld = errors.New("lock: not held")

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockClient is the part of the Redis client a JobLocker needs.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// JobLocker hands out SETNX locks so a batch job runs on one replica at a time.
type JobLocker struct {
	client LockClient
	ttl    time.Duration
}

// NewJobLocker creates a locker. A non-positive ttl falls back to TTLJobLock.
func NewJobLocker(client LockClient, ttl time.Duration) *JobLocker {
	if ttl <= 0 {
		ttl = TTLJobLock
	}
	return &JobLocker{client: client, ttl: ttl}
}

// Lock is a held job lock.
type Lock struct {
	client LockClient
	key    string
	token  string
}

// TryLock takes the lock for job. ok is false when another holder has it.
func (l *JobLocker) TryLock(ctx context.Context, job string) (lock *Lock, ok bool, err error) {
	if job == "" {
		return nil, false, ErrCacheKeyEmpty
	}

	key := LockKey(job)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{client: l.client, key: key, token: token}, true, nil
}

// Release frees the lock if it is still ours.
func (lk *Lock) Release(ctx context.Context) error {
	n, err := lk.client.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", lk.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Key returns the Redis key of the lock.
func (lk *Lock) Key() string { return lk.key }
