// services/lockout.go
package services

import (
	"context"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/model"
)

// LockoutStore tracks consecutive login failures per client key.
type LockoutStore interface {
	Status(ctx context.Context, key string, threshold int, now time.Time) (*dto.LockoutInfo, error)
	RecordFailure(ctx context.Context, key string, threshold int, lockDuration time.Duration, now time.Time) (*dto.LockoutInfo, error)
	RecordSuccess(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// LockoutService guards the login endpoint against credential stuffing.
// It is separate from the rate limiter: the limiter counts requests, the
// guard counts failed authentications.
type LockoutService struct {
	appContext.DefaultService

	redisSvc *RedisService

	store        LockoutStore
	threshold    int
	lockDuration time.Duration
	now          func() time.Time
}

const LOCKOUT_SVC = "lockout_svc"

func (svc LockoutService) Id() string {
	return LOCKOUT_SVC
}

func (svc *LockoutService) Configure(ctx *appContext.Context) error {
	svc.now = time.Now
	svc.threshold = envInt("LOCKOUT_THRESHOLD", 5)
	svc.lockDuration = envDuration("LOCKOUT_DURATION", 15*time.Minute)
	return svc.DefaultService.Configure(ctx)
}

func (svc *LockoutService) Start() error {
	if os.Getenv("LIMITER_BACKEND") == "redis" {
		redisSvc, ok := svc.Service(REDIS_SVC).(*RedisService)
		if !ok || redisSvc == nil || redisSvc.GetClient() == nil {
			log.Warn("Redis unavailable, lockout guard using in-memory store")
			svc.store = NewMemoryLockoutStore()
			return nil
		}
		svc.redisSvc = redisSvc
		svc.store = NewRedisLockoutStore(redisSvc.GetClient())
		return nil
	}
	svc.store = NewMemoryLockoutStore()
	return nil
}

// Status reports whether key may attempt a login right now.
func (svc *LockoutService) Status(ctx context.Context, key string) (*dto.LockoutInfo, error) {
	return svc.store.Status(ctx, key, svc.threshold, svc.now())
}

// RecordFailure counts one failed authentication. Crossing the threshold
// locks the key for the configured duration.
func (svc *LockoutService) RecordFailure(ctx context.Context, key string) (*dto.LockoutInfo, error) {
	info, err := svc.store.RecordFailure(ctx, key, svc.threshold, svc.lockDuration, svc.now())
	if err != nil {
		return nil, err
	}
	if info.Locked {
		lockoutsTotal.Inc()
		log.WithField("client", key).Warn("Login lockout engaged")
	}
	return info, nil
}

// RecordSuccess clears the failure count after a successful login.
func (svc *LockoutService) RecordSuccess(ctx context.Context, key string) error {
	return svc.store.RecordSuccess(ctx, key)
}

// Sweep drops stale attempt records.
func (svc *LockoutService) Sweep(ctx context.Context, now time.Time) (int, error) {
	return svc.store.Sweep(ctx, now)
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

const lockoutShards = 32

// staleAttemptAge bounds how long an untouched failure count survives.
const staleAttemptAge = time.Hour

type lockoutShard struct {
	mu       sync.Mutex
	attempts map[string]*model.LoginAttempt
}

type MemoryLockoutStore struct {
	shards [lockoutShards]*lockoutShard
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	s := &MemoryLockoutStore{}
	for i := range s.shards {
		s.shards[i] = &lockoutShard{attempts: map[string]*model.LoginAttempt{}}
	}
	return s
}

func (s *MemoryLockoutStore) shard(key string) *lockoutShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%lockoutShards]
}

func (s *MemoryLockoutStore) Status(_ context.Context, key string, threshold int, now time.Time) (*dto.LockoutInfo, error) {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	a, ok := shard.attempts[key]
	if !ok {
		return &dto.LockoutInfo{Allowed: true, RemainingAttempts: threshold}, nil
	}
	if a.Locked(now) {
		until := *a.LockedUntil
		return &dto.LockoutInfo{Locked: true, LockedUntil: &until}, nil
	}
	remaining := threshold - a.Failures
	if remaining < 0 {
		remaining = 0
	}
	return &dto.LockoutInfo{Allowed: true, RemainingAttempts: remaining}, nil
}

func (s *MemoryLockoutStore) RecordFailure(_ context.Context, key string, threshold int, lockDuration time.Duration, now time.Time) (*dto.LockoutInfo, error) {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	a, ok := shard.attempts[key]
	if !ok {
		a = &model.LoginAttempt{}
		shard.attempts[key] = a
	}
	if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
		// Expired lock: the counter starts over.
		a.Failures = 0
		a.LockedUntil = nil
	}

	a.Failures++
	a.UpdatedAt = now

	if a.Failures >= threshold {
		until := now.Add(lockDuration)
		a.LockedUntil = &until
		return &dto.LockoutInfo{Locked: true, LockedUntil: &until}, nil
	}
	return &dto.LockoutInfo{Allowed: true, RemainingAttempts: threshold - a.Failures}, nil
}

func (s *MemoryLockoutStore) RecordSuccess(_ context.Context, key string) error {
	shard := s.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.attempts, key)
	return nil
}

func (s *MemoryLockoutStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, a := range shard.attempts {
			if a.Locked(now) {
				continue
			}
			if now.Sub(a.UpdatedAt) > staleAttemptAge {
				delete(shard.attempts, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// lockoutFailureScript increments the failure counter and installs the lock
// in one round trip. Returns {locked, failures, locked_until_ms}.
var lockoutFailureScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local lock_ms = tonumber(ARGV[3])
local stale_ms = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'failures', 'locked_until_ms')
local failures = tonumber(data[1]) or 0
local locked_until_ms = tonumber(data[2]) or 0

if locked_until_ms > 0 and now_ms >= locked_until_ms then
  failures = 0
  locked_until_ms = 0
end

failures = failures + 1

if failures >= threshold then
  locked_until_ms = now_ms + lock_ms
  redis.call('HSET', key, 'failures', failures, 'locked_until_ms', locked_until_ms)
  redis.call('PEXPIREAT', key, locked_until_ms)
  return {1, failures, locked_until_ms}
end

redis.call('HSET', key, 'failures', failures, 'locked_until_ms', 0)
redis.call('PEXPIRE', key, stale_ms)
return {0, failures, 0}
`)

// RedisLockoutStore shares the failure counters across replicas. Stale
// records expire via TTL, so Sweep is a no-op here.
type RedisLockoutStore struct {
	client *redis.Client
	prefix string
}

func NewRedisLockoutStore(client *redis.Client) *RedisLockoutStore {
	return &RedisLockoutStore{client: client, prefix: "lockout:"}
}

func (s *RedisLockoutStore) Status(ctx context.Context, key string, threshold int, now time.Time) (*dto.LockoutInfo, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "failures", "locked_until_ms").Result()
	if err != nil {
		return nil, err
	}

	failures := hashInt(vals[0])
	lockedUntilMs := hashInt(vals[1])

	if lockedUntilMs > 0 && now.UnixMilli() < lockedUntilMs {
		until := time.UnixMilli(lockedUntilMs)
		return &dto.LockoutInfo{Locked: true, LockedUntil: &until}, nil
	}

	remaining := threshold - int(failures)
	if lockedUntilMs > 0 || remaining < 0 {
		remaining = threshold
	}
	return &dto.LockoutInfo{Allowed: true, RemainingAttempts: remaining}, nil
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, threshold int, lockDuration time.Duration, now time.Time) (*dto.LockoutInfo, error) {
	res, err := lockoutFailureScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(),
		threshold,
		lockDuration.Milliseconds(),
		staleAttemptAge.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	if toInt64(res[0]) == 1 {
		until := time.UnixMilli(toInt64(res[2]))
		return &dto.LockoutInfo{Locked: true, LockedUntil: &until}, nil
	}
	remaining := threshold - int(toInt64(res[1]))
	if remaining < 0 {
		remaining = 0
	}
	return &dto.LockoutInfo{Allowed: true, RemainingAttempts: remaining}, nil
}

func (s *RedisLockoutStore) RecordSuccess(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisLockoutStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func hashInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	parsed, _ := strconv.ParseInt(s, 10, 64)
	return parsed
}
