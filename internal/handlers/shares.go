package handlers

import (
	"net/url"

	"github.com/cloudnest/backend/internal/middleware"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type SharesHandler struct {
	Namespace *services.NamespaceService
}

func NewSharesHandler(namespace *services.NamespaceService) *SharesHandler {
	return &SharesHandler{Namespace: namespace}
}

type shareFolderRequest struct {
	Email string `json:"email"`
}

func (h *SharesHandler) ShareFolder(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folderID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}

	var req shareFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Namespace.Share(c.Context(), currentUser, folderID, req.Email); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "folder shared"})
}

func (h *SharesHandler) UnshareFolder(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folderID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}

	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	if err := h.Namespace.Unshare(c.Context(), currentUser, folderID, email); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "share removed"})
}

func (h *SharesHandler) ListFolderShares(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folderID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
	}

	shares, err := h.Namespace.ListShares(c.Context(), currentUser, folderID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, shares)
}

func (h *SharesHandler) ListSharedWithMe(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folders, err := h.Namespace.SharedWithMe(c.Context(), currentUser)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, folders)
}
