package handlers

import (
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/cloudnest/backend/internal/middleware"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type FilesHandler struct {
	Namespace *services.NamespaceService
}

func NewFilesHandler(namespace *services.NamespaceService) *FilesHandler {
	return &FilesHandler{Namespace: namespace}
}

func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}

	var parentID *uuid.UUID
	parentIDRaw := strings.TrimSpace(c.FormValue("parentID"))
	if parentIDRaw != "" {
		parsed, parseErr := parseUUID(parentIDRaw)
		if parseErr != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentID")
		}
		parentID = &parsed
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	data, err := io.ReadAll(stream)
	stream.Close()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading uploaded file")
	}

	var idempotencyKey *string
	if key := strings.TrimSpace(c.Get("Idempotency-Key")); key != "" {
		idempotencyKey = &key
	}

	node, err := h.Namespace.Upload(c.Context(), currentUser, services.UploadRequest{
		ParentID:       parentID,
		Name:           fileHeader.Filename,
		ContentType:    fileHeader.Header.Get("Content-Type"),
		Data:           data,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusCreated, node)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodeID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	node, err := h.Namespace.GetNode(c.Context(), currentUser, nodeID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, node)
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	reader, node, err := h.Namespace.Download(c.Context(), currentUser, fileID)
	if err != nil {
		return serviceError(c, err)
	}

	c.Set(fiber.HeaderContentType, node.MimeType)
	c.Set(fiber.HeaderContentLength, strconv.FormatInt(node.Size, 10))
	c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": node.Name}))
	return c.SendStream(reader)
}

func (h *FilesHandler) ListRoot(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodes, err := h.Namespace.ListRoot(c.Context(), currentUser)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, nodes)
}

func (h *FilesHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	term := c.Query("q")
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)

	results, total, err := h.Namespace.Search(c.Context(), currentUser, term, page, limit)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Paginated(c, results, page, limit, total)
}

func (h *FilesHandler) ListTrash(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	nodes, err := h.Namespace.ListTrash(c.Context(), currentUser)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, nodes)
}
