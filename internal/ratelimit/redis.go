package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is an atomic Lua script implementing the three-window
// (rps/rpm/rpd) sliding-window rate limiter over three sorted sets. All three
// windows are checked before any is committed: if any is exceeded, nothing is
// written — a rejected request must not consume a slot in the windows that
// did pass, mirroring MemoryLimiter.Allow's check-all-then-push-all order.
//
// KEYS[1..3]  = second/minute/day Redis keys
// ARGV[1]     = current unix timestamp (nanoseconds)
// ARGV[2,4,6] = second/minute/day window size (nanoseconds)
// ARGV[3,5,7] = second/minute/day limit (max requests per window; <= 0 means unlimited)
// Returns: {allowed (1/0), exceeded window index (0=none,1=second,2=minute,3=day), oldest member timestamp of the exceeded window or -1}
var slidingWindowScript = redis.NewScript(`
	local now = tonumber(ARGV[1])

	local keys    = {KEYS[1], KEYS[2], KEYS[3]}
	local windows = {tonumber(ARGV[2]), tonumber(ARGV[4]), tonumber(ARGV[6])}
	local limits  = {tonumber(ARGV[3]), tonumber(ARGV[5]), tonumber(ARGV[7])}

	for i = 1, 3 do
		redis.call('ZREMRANGEBYSCORE', keys[i], 0, now - windows[i])
	end

	for i = 1, 3 do
		if limits[i] > 0 then
			local count = redis.call('ZCARD', keys[i])
			if count >= limits[i] then
				local oldest = redis.call('ZRANGE', keys[i], 0, 0, 'WITHSCORES')
				if #oldest == 0 then
					return {0, i, -1}
				end
				return {0, i, tonumber(oldest[2])}
			end
		end
	end

	local member = tostring(now) .. '-' .. tostring(math.random(1, 1000000))
	for i = 1, 3 do
		redis.call('ZADD', keys[i], now, member)
		redis.call('PEXPIRE', keys[i], math.ceil(windows[i] / 1000000))
	end
	return {1, 0, -1}
`)

// RedisLimiter is the Redis-backed Limiter, sharing state across every
// gateway process via three sorted sets per key. Degrades to "allow" on
// Redis errors — rate limiting must never take the gateway down.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an already-connected client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// windowSpec is one rps/rpm/rpd leg of the three-window check.
type windowSpec struct {
	label  string
	limit  int
	window time.Duration
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limits Limits) (Decision, error) {
	windows := [3]windowSpec{
		{WindowSecond, limits.RPS, time.Second},
		{WindowMinute, limits.RPM, time.Minute},
		{WindowDay, limits.RPD, 24 * time.Hour},
	}

	keys := []string{
		redisLimiterKey(key, WindowSecond),
		redisLimiterKey(key, WindowMinute),
		redisLimiterKey(key, WindowDay),
	}

	now := time.Now().UnixNano()
	allowed, exceededIdx, oldestNs, err := l.run(ctx, keys, now, windows)
	if err != nil {
		// Redis unavailable — allow request (graceful degradation).
		return Decision{Allowed: true}, nil
	}
	if allowed {
		return Decision{Allowed: true}, nil
	}

	c := windows[exceededIdx-1]
	retryAfter := 1
	if oldestNs >= 0 {
		oldest := time.Unix(0, oldestNs)
		until := oldest.Add(c.window).Sub(time.Unix(0, now))
		if until > 0 {
			retryAfter = int(until.Seconds()) + 1
		}
	}
	return Decision{Allowed: false, RetryAfter: retryAfter, Exceeded: c.label}, nil
}

func (l *RedisLimiter) run(ctx context.Context, keys []string, now int64, windows [3]windowSpec) (allowed bool, exceededIdx int, oldestNs int64, err error) {
	argv := make([]any, 0, 7)
	argv = append(argv, now)
	for _, c := range windows {
		argv = append(argv, c.window.Nanoseconds(), c.limit)
	}

	res, err := slidingWindowScript.Run(ctx, l.client, keys, argv...).Slice()
	if err != nil {
		return false, 0, -1, err
	}
	if len(res) != 3 {
		return false, 0, -1, nil
	}
	allowedN, _ := res[0].(int64)
	exceededIdxN, _ := res[1].(int64)
	oldest, _ := res[2].(int64)
	return allowedN == 1, int(exceededIdxN), oldest, nil
}

func redisLimiterKey(key, window string) string {
	return "ratelimit:" + window + ":" + key
}
