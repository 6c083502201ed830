package services

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestResolveForwarded(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"203.0.113.7", "203.0.113.7"},
		{"203.0.113.7, 10.0.0.1, 10.0.0.2", "203.0.113.7"},
		{" , 203.0.113.7", "203.0.113.7"},
		{"  203.0.113.7  ,10.0.0.1", "203.0.113.7"},
	}

	for _, tc := range cases {
		if got := resolveForwarded(tc.header); got != tc.want {
			t.Fatalf("resolveForwarded(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func identityFor(t *testing.T, headers map[string]string) string {
	t.Helper()

	var got string
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		got = ClientIdentity(c)
		return c.SendString("ok")
	})

	req := httptest.NewRequest("GET", "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	defer resp.Body.Close()

	return got
}

func TestClientIdentity_ForwardedForWins(t *testing.T) {
	got := identityFor(t, map[string]string{
		"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
		"X-Real-IP":       "198.51.100.2",
	})
	if got != "203.0.113.7" {
		t.Fatalf("expected forwarded-for client, got %q", got)
	}
}

func TestClientIdentity_RealIPFallback(t *testing.T) {
	got := identityFor(t, map[string]string{
		"X-Real-IP": "198.51.100.2",
	})
	if got != "198.51.100.2" {
		t.Fatalf("expected real-ip client, got %q", got)
	}
}

func TestClientIdentity_CloudflareFallback(t *testing.T) {
	got := identityFor(t, map[string]string{
		"CF-Connecting-IP": "198.51.100.9",
	})
	if got != "198.51.100.9" {
		t.Fatalf("expected cloudflare client, got %q", got)
	}
}

func TestClientIdentity_SocketFallback(t *testing.T) {
	got := identityFor(t, nil)
	if got == "" || got == "unknown" {
		t.Fatalf("expected socket address fallback, got %q", got)
	}
}
