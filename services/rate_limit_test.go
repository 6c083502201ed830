package services

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hanmadi-app/hanmadi_api/dto"
)

func testInfo(reset, blocked *time.Time) *dto.RateLimitInfo {
	return &dto.RateLimitInfo{ResetTime: reset, BlockedUntil: blocked}
}

func testRateLimitService(now *time.Time) *RateLimitService {
	return &RateLimitService{
		store: NewMemoryLimiterStore(),
		configs: map[string]RouteConfig{
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
		},
		now: func() time.Time { return *now },
	}
}

func rateLimitApp(svc *RateLimitService, routeClass string) *fiber.App {
	httpSvc := &HttpService{}
	app := fiber.New(fiber.Config{ErrorHandler: httpSvc.handleError})
	app.Get("/", svc.RateLimit(routeClass), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestRateLimitMiddleware_SetsHeaders(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	svc := testRateLimitService(&now)
	app := rateLimitApp(svc, RouteClassLogin)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("X-RateLimit-Limit = %q, want 10", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "9" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 9", got)
	}
	if resp.Header.Get("X-RateLimit-Reset") == "" {
		t.Fatalf("X-RateLimit-Reset should be set")
	}
}

func TestRateLimitMiddleware_DeniesPastLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	svc := testRateLimitService(&now)
	app := rateLimitApp(svc, RouteClassLogin)

	for i := 0; i < 10; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("429 should carry Retry-After")
	}
}

func TestRateLimitMiddleware_UnknownClassFallsBack(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	svc := testRateLimitService(&now)
	app := rateLimitApp(svc, "no_such_class")

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-RateLimit-Limit"); got != "1000" {
		t.Fatalf("X-RateLimit-Limit = %q, want general fallback 1000", got)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	svc := testRateLimitService(&now)

	blocked := now.Add(90 * time.Second)
	reset := now.Add(30 * time.Second)
	info := testInfo(&reset, &blocked)
	if got := svc.retryAfterSeconds(info); got != 90 {
		t.Fatalf("retryAfter = %d, want 90", got)
	}

	info = testInfo(&reset, nil)
	if got := svc.retryAfterSeconds(info); got != 30 {
		t.Fatalf("retryAfter = %d, want 30", got)
	}
}
