// services/limiter_store.go
package services

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/model"
)

// RouteConfig is the fixed-window policy for one route class.
type RouteConfig struct {
	MaxRequests   int
	WindowPeriod  time.Duration
	BlockDuration time.Duration
}

// LimiterStore counts a request against a key and decides whether it passes.
// Check both reads and mutates: a denied call that crosses the threshold
// installs the punitive block as part of the same decision.
type LimiterStore interface {
	Check(ctx context.Context, key string, cfg RouteConfig, now time.Time) (*dto.RateLimitInfo, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

const limiterShards = 32

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]*model.RateWindow
}

// MemoryLimiterStore is the default single-process backend. Keys are spread
// over fixed shards so hot routes do not serialize on one mutex.
type MemoryLimiterStore struct {
	shards [limiterShards]*limiterShard
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	s := &MemoryLimiterStore{}
	for i := range s.shards {
		s.shards[i] = &limiterShard{windows: map[string]*model.RateWindow{}}
	}
	return s
}

func (s *MemoryLimiterStore) shard(key string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%limiterShards]
}

func (s *MemoryLimiterStore) Check(_ context.Context, key string, cfg RouteConfig, now time.Time) (*dto.RateLimitInfo, error) {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok || now.After(w.WindowResetAt) {
		// Never drop an active block when the counting window rolls over.
		var blocked *time.Time
		if ok {
			blocked = w.BlockedUntil
		}
		w = &model.RateWindow{
			Count:         0,
			WindowResetAt: now.Add(cfg.WindowPeriod),
			BlockedUntil:  blocked,
		}
		shard.windows[key] = w
	}

	if w.BlockedUntil != nil {
		if now.Before(*w.BlockedUntil) {
			blocked := *w.BlockedUntil
			reset := w.WindowResetAt
			return &dto.RateLimitInfo{
				Allowed:      false,
				Remaining:    0,
				ResetTime:    &reset,
				BlockedUntil: &blocked,
			}, nil
		}
		w.BlockedUntil = nil
	}

	w.Count++
	if w.Count > cfg.MaxRequests {
		blocked := now.Add(cfg.BlockDuration)
		w.BlockedUntil = &blocked
		reset := w.WindowResetAt
		return &dto.RateLimitInfo{
			Allowed:      false,
			Remaining:    0,
			ResetTime:    &reset,
			BlockedUntil: &blocked,
		}, nil
	}

	reset := w.WindowResetAt
	return &dto.RateLimitInfo{
		Allowed:   true,
		Remaining: cfg.MaxRequests - w.Count,
		ResetTime: &reset,
	}, nil
}

func (s *MemoryLimiterStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, w := range shard.windows {
			if w.Expired(now) {
				delete(shard.windows, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// rateLimitScript makes the full window decision server side so that
// concurrent checks against the same key never interleave. Returns
// {allowed, remaining, reset_ms, blocked_ms}.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local max_requests = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])
local block_ms = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'count', 'reset_ms', 'blocked_ms')
local count = tonumber(data[1]) or 0
local reset_ms = tonumber(data[2]) or 0
local blocked_ms = tonumber(data[3]) or 0

if reset_ms == 0 or now_ms > reset_ms then
  count = 0
  reset_ms = now_ms + window_ms
end

if blocked_ms > 0 and now_ms < blocked_ms then
  redis.call('HSET', key, 'count', count, 'reset_ms', reset_ms, 'blocked_ms', blocked_ms)
  redis.call('PEXPIREAT', key, math.max(reset_ms, blocked_ms))
  return {0, 0, reset_ms, blocked_ms}
end
blocked_ms = 0

count = count + 1
if count > max_requests then
  blocked_ms = now_ms + block_ms
  redis.call('HSET', key, 'count', count, 'reset_ms', reset_ms, 'blocked_ms', blocked_ms)
  redis.call('PEXPIREAT', key, math.max(reset_ms, blocked_ms))
  return {0, 0, reset_ms, blocked_ms}
end

redis.call('HSET', key, 'count', count, 'reset_ms', reset_ms, 'blocked_ms', 0)
redis.call('PEXPIREAT', key, reset_ms)
return {1, max_requests - count, reset_ms, 0}
`)

// RedisLimiterStore shares windows across replicas. Expired keys fall out
// via PEXPIREAT, so Sweep is a no-op here.
type RedisLimiterStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiterStore(client *redis.Client) *RedisLimiterStore {
	return &RedisLimiterStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisLimiterStore) Check(ctx context.Context, key string, cfg RouteConfig, now time.Time) (*dto.RateLimitInfo, error) {
	res, err := rateLimitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(),
		cfg.MaxRequests,
		cfg.WindowPeriod.Milliseconds(),
		cfg.BlockDuration.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	allowed := toInt64(res[0]) == 1
	remaining := int(toInt64(res[1]))
	reset := time.UnixMilli(toInt64(res[2]))

	info := &dto.RateLimitInfo{
		Allowed:   allowed,
		Remaining: remaining,
		ResetTime: &reset,
	}
	if blockedMs := toInt64(res[3]); blockedMs > 0 {
		blocked := time.UnixMilli(blockedMs)
		info.BlockedUntil = &blocked
	}
	return info, nil
}

func (s *RedisLimiterStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
