// services/identity.go
package services

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIdentity resolves the caller key used by the rate limiter and the
// lockout guard. Proxy headers win over the socket address so that all
// clients behind the same LB are not collapsed into one bucket. The service
// must only be deployed behind a proxy that strips these headers from
// untrusted traffic.
func ClientIdentity(c *fiber.Ctx) string {
	if ip := resolveForwarded(c.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}

// resolveForwarded returns the leftmost non-empty entry of an
// X-Forwarded-For list, the original client in a well-formed chain.
func resolveForwarded(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			return ip
		}
	}
	return ""
}
