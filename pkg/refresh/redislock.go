package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLocker is an optional cross-process dedup backend for
// RefreshNow, used when more than one agentd process shares a credential
// store. The default in-process inflight map remains sufficient for the
// common single-process deployment.
type DistributedLocker interface {
	// TryLock attempts to acquire a lease for key, valid for ttl. release
	// is nil when ok is false.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker is a DistributedLocker backed by Redis SET NX PX, with
// release gated on a per-holder token so one process can never release a
// lease another process currently holds.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an existing *redis.Client as a DistributedLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()
	lockKey := fmt.Sprintf("agentd:refresh-lock:%s", key)

	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("refresh: redis lock acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(releaseCtx context.Context) {
		releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token)
	}
	return release, true, nil
}
