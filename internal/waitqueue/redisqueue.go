package waitqueue

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

const defaultQueueKey = "waiting_queue"

// Lua scripts keep every multi-step queue operation a single atomic step
// at the store, so concurrent instances never interleave half-done
// mutations. The ordering key is a logical timestamp drawn from a
// store-side sequence counter, so arrival order is resolved by the store
// itself and never depends on instance clocks.
var (
	enqueueScript = redis.NewScript(`
local key = KEYS[1]
local seqKey = KEYS[2]
local member = ARGV[1]
local policy = ARGV[2]

local existing = redis.call('ZSCORE', key, member)
if not existing then
    local seq = redis.call('INCR', seqKey)
    redis.call('ZADD', key, seq, member)
elseif policy == 'back' then
    local seq = redis.call('INCR', seqKey)
    redis.call('ZADD', key, seq, member)
elseif policy == 'front' then
    local head = redis.call('INCR', seqKey)
    local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    if first[2] then
        head = tonumber(first[2]) - 1
    end
    redis.call('ZADD', key, head, member)
end

return redis.call('ZRANK', key, member) + 1
`)

	popFrontScript = redis.NewScript(`
local key = KEYS[1]
local count = tonumber(ARGV[1])
if count <= 0 then
    return {}
end

local members = redis.call('ZRANGE', key, 0, count - 1)
if #members > 0 then
    redis.call('ZREMRANGEBYRANK', key, 0, #members - 1)
end
return members
`)
)

// RedisStore keeps the waiting queue in a Redis sorted set shared by all
// service instances.
type RedisStore struct {
	client *redis.Client
	key    string
	seqKey string
	policy ReentryPolicy
}

// NewRedisStore creates a Redis-backed queue. If url is empty or invalid,
// operations will error.
func NewRedisStore(url, key string, policy ReentryPolicy) *RedisStore {
	if key == "" {
		key = defaultQueueKey
	}
	if !policy.Valid() {
		policy = ReentryKeep
	}
	s := &RedisStore{key: key, seqKey: key + ":seq", policy: policy}
	if url == "" {
		return s
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return s
	}
	s.client = redis.NewClient(opt)
	return s
}

// NewRedisStoreWithClient wraps an existing client, for callers that share
// one connection pool across the queue, gate and lock.
func NewRedisStoreWithClient(client *redis.Client, key string, policy ReentryPolicy) *RedisStore {
	if key == "" {
		key = defaultQueueKey
	}
	if !policy.Valid() {
		policy = ReentryKeep
	}
	return &RedisStore{client: client, key: key, seqKey: key + ":seq", policy: policy}
}

func (s *RedisStore) ensure() error {
	if s.client == nil {
		return errors.New("waitqueue: redis not configured")
	}
	return nil
}

func (s *RedisStore) Enqueue(ctx context.Context, userID string) (int64, error) {
	if err := s.ensure(); err != nil {
		return 0, err
	}
	rank, err := enqueueScript.Run(ctx, s.client, []string{s.key, s.seqKey},
		userID, string(s.policy)).Int64()
	if err != nil {
		return 0, err
	}
	return rank, nil
}

func (s *RedisStore) Rank(ctx context.Context, userID string) (int64, error) {
	if err := s.ensure(); err != nil {
		return 0, err
	}
	idx, err := s.client.ZRank(ctx, s.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotQueued
	}
	if err != nil {
		return 0, err
	}
	return idx + 1, nil
}

func (s *RedisStore) PopFront(ctx context.Context, count int64) ([]string, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	res, err := popFrontScript.Run(ctx, s.client, []string{s.key}, count).StringSlice()
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	if err := s.ensure(); err != nil {
		return 0, err
	}
	return s.client.ZCard(ctx, s.key).Result()
}

func (s *RedisStore) Contains(ctx context.Context, userID string) (bool, error) {
	if err := s.ensure(); err != nil {
		return false, err
	}
	_, err := s.client.ZScore(ctx, s.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Remove(ctx context.Context, userID string) (bool, error) {
	if err := s.ensure(); err != nil {
		return false, err
	}
	n, err := s.client.ZRem(ctx, s.key, userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Peek(ctx context.Context, n int64) ([]Entry, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Entry{}, nil
	}
	members, err := s.client.ZRangeWithScores(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		id, _ := m.Member.(string)
		entries = append(entries, Entry{
			UserID:     id,
			Rank:       int64(i) + 1,
			EnqueuedAt: int64(m.Score),
		})
	}
	return entries, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.ensure(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key, s.seqKey).Err()
}
