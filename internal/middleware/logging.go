package middleware

import (
	"time"

	"github.com/cloudnest/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

const requestIDKey = "requestID"

// RequestLogger assigns every request an ID and emits one structured
// entry per completed request.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := logger.GenerateRequestID()
		c.Locals(requestIDKey, requestID)
		c.Set("X-Request-ID", requestID)

		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		details := map[string]interface{}{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": elapsed.Milliseconds(),
			"ip":          c.IP(),
		}
		if userID := logger.GetUserIDFromContext(c); userID != nil {
			details["user_id"] = *userID
		}

		logger.Info("http_request", details)
		return err
	}
}

// SecurityLogger flags authz-relevant responses so denied and
// unauthenticated access shows up in one place.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if status == fiber.StatusUnauthorized || status == fiber.StatusForbidden {
			logger.Warn("access_denied", map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
				"status": status,
				"ip":     c.IP(),
			})
		}
		return err
	}
}
