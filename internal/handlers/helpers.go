package handlers

import (
	"strings"

	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	if value, ok := c.Locals("requestID").(string); ok {
		return value
	}
	return ""
}

// serviceError translates the service error taxonomy into HTTP responses.
// Unknown errors stay opaque 500s so internals never leak to clients.
func serviceError(c *fiber.Ctx, err error) error {
	code := services.CodeOf(err)
	switch code {
	case services.CodeNotFound:
		return utils.ErrorWithCode(c, fiber.StatusNotFound, string(code), err.Error())
	case services.CodeNameConflict, services.CodeNotInTrash:
		return utils.ErrorWithCode(c, fiber.StatusConflict, string(code), err.Error())
	case services.CodeCycleDetected, services.CodeDepthExceeded, services.CodeInvalidArgument:
		return utils.ErrorWithCode(c, fiber.StatusBadRequest, string(code), err.Error())
	case services.CodeDenied:
		return utils.ErrorWithCode(c, fiber.StatusForbidden, string(code), err.Error())
	case services.CodeStorageUnavailable:
		return utils.ErrorWithCode(c, fiber.StatusServiceUnavailable, string(code), err.Error())
	case services.CodeTimeout:
		return utils.ErrorWithCode(c, fiber.StatusGatewayTimeout, string(code), err.Error())
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
