package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// pollInterval is how often a waiting acquirer re-attempts SET NX.
const pollInterval = 50 * time.Millisecond

// releaseScript deletes the lock only when the stored owner token matches,
// so a holder whose lease already expired cannot release somebody else's
// acquisition.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
    return redis.call('DEL', key)
end
return 0
`)

// RedisLocker implements lease-based named locks with SET NX PX. The
// lease auto-expires a dead holder's lock, keeping the cluster live.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker wraps a client. Keys are stored as prefix+key; an empty
// prefix uses keys verbatim.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) ensure() error {
	if l.client == nil {
		return errors.New("lock: redis not configured")
	}
	return nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Handle, error) {
	if err := l.ensure(); err != nil {
		return nil, err
	}
	owner := uuid.NewString()
	storeKey := l.prefix + key

	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.SetNX(ctx, storeKey, owner, lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &Handle{Key: storeKey, Owner: owner, Lease: lease}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if err := l.ensure(); err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{h.Key}, h.Owner).Err()
}
