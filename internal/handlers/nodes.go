package handlers

import (
	"strings"

	"github.com/cloudnest/backend/internal/middleware"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type NodesHandler struct {
	Namespace *services.NamespaceService
}

func NewNodesHandler(namespace *services.NamespaceService) *NodesHandler {
	return &NodesHandler{Namespace: namespace}
}

type updateNodeRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentID"`
}

// Update renames and/or moves a node. An explicit empty parentID moves
// the node to the owner's root; an absent field leaves the parent alone.
func (h *NodesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid node id")
	}

	var req updateNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	update := services.UpdateNodeRequest{Name: req.Name}
	if req.ParentID != nil {
		update.SetParent = true
		if trimmed := strings.TrimSpace(*req.ParentID); trimmed != "" {
			parsed, err := parseUUID(trimmed)
			if err != nil {
				return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
			}
			update.NewParentID = &parsed
		}
	}

	node, err := h.Namespace.Update(c.Context(), currentUser, nodeID, update)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) Path(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid node id")
	}

	path, err := h.Namespace.Path(c.Context(), currentUser, nodeID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, path)
}

func (h *NodesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid node id")
	}

	if err := h.Namespace.SoftDelete(c.Context(), currentUser, nodeID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "node moved to trash"})
}

func (h *NodesHandler) Restore(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid node id")
	}

	node, err := h.Namespace.Restore(c.Context(), currentUser, nodeID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, node)
}

func (h *NodesHandler) PermanentDelete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid node id")
	}

	if err := h.Namespace.PermanentDelete(c.Context(), currentUser, nodeID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "node permanently deleted"})
}
