package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is an atomic Lua script implementing a sliding window
// counter over a sorted set. Used for the optional cluster-wide RPM cap
// when several gateway replicas share a Redis.
// KEYS[1] = Redis key
// ARGV[1] = current unix timestamp (nanoseconds as string)
// ARGV[2] = window size in nanoseconds
// ARGV[3] = limit (max requests per window)
// Returns: 1 if allowed, 0 if rate limited.
var slidingWindowScript = redis.NewScript(`
		local key    = KEYS[1]
		local now    = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])
		local limit  = tonumber(ARGV[3])

		-- Remove expired entries.
		redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

		local count = redis.call('ZCARD', key)
		if count >= limit then
			return 0
		end

		-- Add current request with a unique member (now + random suffix).
		local member = tostring(now) .. tostring(math.random(1, 1000000))
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, math.ceil(window / 1000000))  -- window is in ns; PEXPIRE wants ms
		return 1
`)

const globalRPMKey = "ratelimit:gateway:rpm"

// GlobalRPMLimiter enforces a gateway-wide requests-per-minute cap shared
// across replicas via a Redis sliding window.
type GlobalRPMLimiter struct {
	rdb      *redis.Client
	rpmLimit int
}

// NewGlobalRPMLimiter creates the limiter. rpmLimit must be > 0; values
// ≤ 0 will block every request.
func NewGlobalRPMLimiter(rdb *redis.Client, rpmLimit int) *GlobalRPMLimiter {
	return &GlobalRPMLimiter{rdb: rdb, rpmLimit: rpmLimit}
}

// Allow returns true if the current request is within the shared limit.
// Redis being unavailable admits the request — the in-process limits still
// apply.
func (r *GlobalRPMLimiter) Allow(ctx context.Context) (bool, error) {
	now := time.Now().UnixNano()
	window := time.Minute.Nanoseconds()

	result, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{globalRPMKey},
		now, window, r.rpmLimit,
	).Int()
	if err != nil {
		// Redis unavailable — allow request (graceful degradation).
		return true, nil
	}

	return result == 1, nil
}
