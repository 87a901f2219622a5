package handlers

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/skydrive/backend/internal/middleware"
	"github.com/skydrive/backend/internal/services"
	"github.com/skydrive/backend/pkg/utils"
)

type FilesHandler struct {
	Hierarchy *services.HierarchyService
}

func NewFilesHandler(hierarchy *services.HierarchyService) *FilesHandler {
	return &FilesHandler{Hierarchy: hierarchy}
}

// optionalParentID parses a parent reference that may be absent or blank.
func optionalParentID(raw string) (*uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	parsed, err := parseUUID(raw)
	if err != nil {
		return nil, false
	}
	return &parsed, true
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

	parentID, ok := optionalParentID(c.FormValue("parentId"))
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
	}

	filename := filepath.Base(strings.TrimSpace(fileHeader.Filename))
	if filename == "" || filename == "." {
		return utils.Error(c, fiber.StatusBadRequest, "invalid filename")
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening uploaded file")
	}
	defer stream.Close()

	file, err := h.Hierarchy.UploadFile(c.Context(), currentUser.ID, filename, fileHeader.Size, contentType, stream, parentID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusCreated, file)
}

type createFolderRequest struct {
	FolderName string  `json:"folderName"`
	ParentID   *string `json:"parentId"`
}

func (h *FilesHandler) CreateFolder(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	var parentID *uuid.UUID
	if req.ParentID != nil {
		parsed, ok := optionalParentID(*req.ParentID)
		if !ok {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
		}
		parentID = parsed
	}

	folder, err := h.Hierarchy.CreateFolder(c.Context(), currentUser.ID, req.FolderName, parentID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusCreated, folder)
}

func (h *FilesHandler) List(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	folderID, ok := optionalParentID(c.Query("folderId"))
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, "invalid folderId")
	}

	files, err := h.Hierarchy.ListChildren(c.Context(), currentUser.ID, folderID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, files)
}

func (h *FilesHandler) Search(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	files, err := h.Hierarchy.Search(c.Context(), currentUser.ID, c.Query("query"))
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, files)
}

type updateFileRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentId"`
}

// Update renames and/or moves a node. An explicit empty parentId moves the
// node to the root.
func (h *FilesHandler) Update(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("fileId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var req updateFileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil && req.ParentID == nil {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if req.Name != nil {
		if _, err := h.Hierarchy.Rename(c.Context(), currentUser.ID, fileID, *req.Name); err != nil {
			return serviceError(c, err)
		}
	}

	if req.ParentID != nil {
		parentID, ok := optionalParentID(*req.ParentID)
		if !ok {
			return utils.Error(c, fiber.StatusBadRequest, "invalid parentId")
		}
		if _, err := h.Hierarchy.Move(c.Context(), currentUser.ID, fileID, parentID); err != nil {
			return serviceError(c, err)
		}
	}

	updated, err := h.Hierarchy.ResolveNode(c.Context(), currentUser.ID, fileID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("fileId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.Hierarchy.Delete(c.Context(), currentUser.ID, fileID); err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "file deleted"})
}

func (h *FilesHandler) DownloadLink(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fileID, err := parseUUID(c.Params("fileId"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	url, err := h.Hierarchy.GetDownloadLink(c.Context(), currentUser.ID, fileID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"downloadUrl": url})
}

func (h *FilesHandler) Path(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var folderID *uuid.UUID
	if raw := c.Params("folderId"); raw != "" {
		parsed, err := parseUUID(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid folder id")
		}
		folderID = &parsed
	}

	current, breadcrumb, err := h.Hierarchy.ResolvePath(c.Context(), currentUser.ID, folderID)
	if err != nil {
		return serviceError(c, err)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"currentFolder": current,
		"breadcrumb":    breadcrumb,
	})
}
