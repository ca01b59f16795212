package gate

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultCounterKey = "current_requests_count"
	// DefaultCounterTTL self-heals the counter after an inactivity window
	// so slots leaked by crashed holders do not pin the gate shut forever.
	DefaultCounterTTL = 300 * time.Second
)

// The scripts mirror the shared-counter contract: increment refreshes the
// TTL in the same atomic step, decrement clamps at zero instead of ever
// going negative, and the overload check reads and compares in one round
// trip.
var (
	incrementScript = redis.NewScript(`
local key = KEYS[1]
local expire_seconds = tonumber(ARGV[1])

local current = redis.call('INCR', key)
redis.call('EXPIRE', key, expire_seconds)
return current
`)

	decrementScript = redis.NewScript(`
local key = KEYS[1]
local current = redis.call('GET', key)
if current == false then
    return 0
end

current = tonumber(current)
if current <= 0 then
    return 0
end
return redis.call('DECR', key)
`)

	currentScript = redis.NewScript(`
local key = KEYS[1]
local current = redis.call('GET', key)
if current == false then
    return 0
end
return tonumber(current)
`)
)

// RedisGate is the shared concurrency counter backed by a Redis string.
type RedisGate struct {
	client    *redis.Client
	key       string
	threshold int64
	ttl       time.Duration

	// overloaded tracks flips for transition logging only; correctness
	// always comes from the store.
	overloaded atomic.Bool
}

// NewRedisGate wraps a client. A non-positive ttl falls back to
// DefaultCounterTTL.
func NewRedisGate(client *redis.Client, key string, threshold int64, ttl time.Duration) *RedisGate {
	if key == "" {
		key = defaultCounterKey
	}
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &RedisGate{client: client, key: key, threshold: threshold, ttl: ttl}
}

func (g *RedisGate) ensure() error {
	if g.client == nil {
		return errors.New("gate: redis not configured")
	}
	return nil
}

func (g *RedisGate) Increment(ctx context.Context) (int64, error) {
	if err := g.ensure(); err != nil {
		return 0, err
	}
	current, err := incrementScript.Run(ctx, g.client, []string{g.key},
		int(g.ttl.Seconds())).Int64()
	if err != nil {
		return 0, err
	}
	g.noteState(current)
	return current, nil
}

func (g *RedisGate) Decrement(ctx context.Context) (int64, error) {
	if err := g.ensure(); err != nil {
		return 0, err
	}
	current, err := decrementScript.Run(ctx, g.client, []string{g.key}).Int64()
	if err != nil {
		return 0, err
	}
	g.noteState(current)
	return current, nil
}

func (g *RedisGate) Current(ctx context.Context) (int64, error) {
	if err := g.ensure(); err != nil {
		return 0, err
	}
	return currentScript.Run(ctx, g.client, []string{g.key}).Int64()
}

func (g *RedisGate) IsOverloaded(ctx context.Context) (bool, error) {
	current, err := g.Current(ctx)
	if err != nil {
		return false, err
	}
	g.noteState(current)
	return current >= g.threshold, nil
}

func (g *RedisGate) Threshold() int64 { return g.threshold }

func (g *RedisGate) noteState(current int64) {
	now := current >= g.threshold
	if g.overloaded.CompareAndSwap(!now, now) {
		if now {
			log.Printf("gate: overload on (in-flight %d, threshold %d)", current, g.threshold)
		} else {
			log.Printf("gate: overload off (in-flight %d, threshold %d)", current, g.threshold)
		}
	}
}
