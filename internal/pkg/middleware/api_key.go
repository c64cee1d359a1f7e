package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vutran/payrec/internal/pkg/env"
)

// AdminAPIKeyMiddleware authenticates administrative requests against the
// static ADMIN_API_KEY. Digests are compared so the check is constant-time.
func AdminAPIKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := strings.TrimSpace(env.GetEnv("ADMIN_API_KEY", ""))
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_api_disabled", "message": "ADMIN_API_KEY is not configured"})
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		got := sha256.Sum256([]byte(apiKey))
		want := sha256.Sum256([]byte(expected))
		if !hmac.Equal(got[:], want[:]) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	if v := strings.TrimSpace(c.Get("X-API-Key")); v != "" {
		return v
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
