package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"webkart/internal/ratelimit/models"
)

const keyPrefix = "webkart:ratelimit:"

// slidingWindowScript trims, counts and records in one round trip so that
// concurrent replicas cannot both take the last slot.
//
// KEYS[1] bucket; ARGV now_ms, window_ms, limit, member.
// Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
	redis.call('ZADD', KEYS[1], now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window)
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {allowed, count, tonumber(oldest[2])}
`)

// RedisBucketStore keeps each window in a sorted set scored by request time
// in milliseconds.
type RedisBucketStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisBucketStore(client redis.Scripter, opts ...Option) *RedisBucketStore {
	o := buildOptions(opts)
	return &RedisBucketStore{client: client, now: o.now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (models.Result, error) {
	if limit <= 0 || window < time.Millisecond {
		return models.Result{}, ErrInvalidLimit
	}
	now := s.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	reply, err := slidingWindowScript.Run(ctx, s.client, []string{keyPrefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return models.Result{}, fmt.Errorf("count request for %s: %w", key, err)
	}
	if len(reply) != 3 {
		return models.Result{}, fmt.Errorf("count request for %s: unexpected reply %v", key, reply)
	}

	count := int(reply[1])
	resetAt := time.UnixMilli(reply[2]).Add(window)
	if reply[0] == 1 {
		return models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - count,
			ResetAt:   resetAt,
		}, nil
	}
	return models.Result{
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
	}, nil
}
