package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds the caller's token,
// so a holder whose TTL expired cannot remove a lock taken by someone else.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// RedisLocker implements Locker with SET NX and a TTL.
type RedisLocker struct {
	rdb redis.Cmdable
}

// NewRedisLocker returns a RedisLocker using rdb.
func NewRedisLocker(rdb redis.Cmdable) *RedisLocker { return &RedisLocker{rdb: rdb} }

// TryLock sets key to owner if it is absent.
func (l *RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, owner, ttl).Result()
}

// Unlock runs the compare-and-delete script.
func (l *RedisLocker) Unlock(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err()
}
