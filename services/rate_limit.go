// services/rate_limit.go
package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

// RateLimitResult pairs a store decision with the policy that produced it.
type RateLimitResult struct {
	Info   *dto.RateLimitInfo
	Config RouteConfig
}

// RateLimitService admits or denies requests per client and route class.
// Counting uses fixed windows; crossing the threshold installs a punitive
// block that outlives the window it was earned in.
type RateLimitService struct {
	appContext.DefaultService

	redisSvc *RedisService

	store   LimiterStore
	configs map[string]RouteConfig
	now     func() time.Time
}

const RATE_LIMIT_SVC = "rate_limit_svc"

const (
	RouteClassLogin       = "login"
	RouteClassBatchSubmit = "batch_submit"
	RouteClassAPIGeneral  = "api_general"
)

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	svc.now = time.Now
	svc.configs = map[string]RouteConfig{
		RouteClassLogin: {
			MaxRequests:   10,
			WindowPeriod:  15 * time.Minute,
			BlockDuration: 30 * time.Minute,
		},
		RouteClassBatchSubmit: {
			MaxRequests:   30,
			WindowPeriod:  1 * time.Minute,
			BlockDuration: 5 * time.Minute,
		},
		RouteClassAPIGeneral: {
			MaxRequests:   1000,
			WindowPeriod:  1 * time.Hour,
			BlockDuration: 1 * time.Hour,
		},
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	if os.Getenv("LIMITER_BACKEND") == "redis" {
		redisSvc, ok := svc.Service(REDIS_SVC).(*RedisService)
		if !ok || redisSvc == nil || redisSvc.GetClient() == nil {
			return fmt.Errorf("LIMITER_BACKEND=redis but redis is not configured")
		}
		svc.redisSvc = redisSvc
		svc.store = NewRedisLimiterStore(redisSvc.GetClient())
		log.Info("Rate limiter using redis backend")
	} else {
		svc.store = NewMemoryLimiterStore()
		log.Info("Rate limiter using in-memory backend")
	}
	return nil
}

// IsAllowed counts one request for key under the named route class.
func (svc *RateLimitService) IsAllowed(ctx context.Context, routeClass, key string) (*RateLimitResult, error) {
	cfg, ok := svc.configs[routeClass]
	if !ok {
		cfg = svc.configs[RouteClassAPIGeneral]
		routeClass = RouteClassAPIGeneral
	}

	info, err := svc.store.Check(ctx, routeClass+":"+key, cfg, svc.now())
	if err != nil {
		return nil, err
	}
	return &RateLimitResult{Info: info, Config: cfg}, nil
}

// RateLimit returns admission middleware for one route class.
func (svc *RateLimitService) RateLimit(routeClass string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := ClientIdentity(c)

		result, err := svc.IsAllowed(c.UserContext(), routeClass, key)
		if err != nil {
			// A broken limiter backend must not take the API down with it.
			log.WithError(err).WithField("route_class", routeClass).Error("Rate limit check failed, allowing request")
			return c.Next()
		}

		cfg := result.Config
		info := result.Info

		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		if info.ResetTime != nil {
			c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}

		if !info.Allowed {
			rateLimitDeniedTotal.WithLabelValues(routeClass).Inc()

			retryAfter := svc.retryAfterSeconds(info)
			c.Set("Retry-After", strconv.Itoa(retryAfter))

			log.WithFields(log.Fields{
				"route_class": routeClass,
				"client":      key,
			}).Warn("Request rate limited")

			resetTime := info.ResetTime
			if info.BlockedUntil != nil {
				resetTime = info.BlockedUntil
			}
			return shared.NewRateLimitError(retryAfter, resetTime)
		}

		return c.Next()
	}
}

// IPRateLimit is the catch-all limiter mounted in front of every route.
func (svc *RateLimitService) IPRateLimit() fiber.Handler {
	return svc.RateLimit(RouteClassAPIGeneral)
}

func (svc *RateLimitService) retryAfterSeconds(info *dto.RateLimitInfo) int {
	now := svc.now()
	until := now
	if info.BlockedUntil != nil && info.BlockedUntil.After(until) {
		until = *info.BlockedUntil
	}
	if info.ResetTime != nil && info.BlockedUntil == nil && info.ResetTime.After(until) {
		until = *info.ResetTime
	}
	secs := int(until.Sub(now).Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Sweep drops expired windows from the backing store.
func (svc *RateLimitService) Sweep(ctx context.Context, now time.Time) (int, error) {
	return svc.store.Sweep(ctx, now)
}
