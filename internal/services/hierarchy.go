package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skydrive/backend/internal/models"
	"github.com/skydrive/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	downloadURLTTL = 1 * time.Hour
	// maxTreeDepth bounds every parent-chain walk. The data model forbids
	// cycles but does not enforce them at the storage level, so walks must
	// terminate on corrupt data instead of spinning.
	maxTreeDepth = 256

	defaultBlobTimeout = 30 * time.Second
)

// BlobStore is the object-storage contract the hierarchy service depends
// on: store bytes under a key, drop them, and sign a time-limited GET URL.
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// HierarchyService owns the per-account file/folder tree, the quota
// bookkeeping on the owning account, and the blob lifecycle tied to file
// nodes. Every operation is scoped to an owner id; nodes belonging to other
// accounts are indistinguishable from missing ones.
type HierarchyService struct {
	DB          *gorm.DB
	Blobs       BlobStore
	BlobTimeout time.Duration
}

func NewHierarchyService(db *gorm.DB, blobs BlobStore) *HierarchyService {
	return &HierarchyService{DB: db, Blobs: blobs, BlobTimeout: defaultBlobTimeout}
}

func (s *HierarchyService) blobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.BlobTimeout
	if timeout <= 0 {
		timeout = defaultBlobTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// ownedNode loads a node by id scoped to ownerID. A node owned by someone
// else surfaces as not_found, never as a permission error.
func (s *HierarchyService) ownedNode(ctx context.Context, ownerID, nodeID uuid.UUID) (*models.File, error) {
	var node models.File
	err := s.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", nodeID, ownerID).First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "file not found")
		}
		return nil, wrapError(KindDependency, "failed loading file", err)
	}
	return &node, nil
}

// validateParent resolves parentID to a folder owned by ownerID.
func (s *HierarchyService) validateParent(ctx context.Context, ownerID, parentID uuid.UUID) (*models.File, error) {
	var parent models.File
	err := s.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", parentID, ownerID).First(&parent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindNotFound, "parent folder not found")
		}
		return nil, wrapError(KindDependency, "failed loading parent folder", err)
	}
	if !parent.IsFolder {
		return nil, newError(KindNotFound, "parent folder not found")
	}
	return &parent, nil
}

// ResolveNode returns a single node owned by ownerID.
func (s *HierarchyService) ResolveNode(ctx context.Context, ownerID, nodeID uuid.UUID) (*models.File, error) {
	return s.ownedNode(ctx, ownerID, nodeID)
}

func (s *HierarchyService) CreateFolder(ctx context.Context, ownerID uuid.UUID, name string, parentID *uuid.UUID) (*models.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "folder name is required")
	}

	if parentID != nil {
		if _, err := s.validateParent(ctx, ownerID, *parentID); err != nil {
			return nil, err
		}
	}

	folder := models.File{
		Name:     name,
		IsFolder: true,
		Size:     0,
		ParentID: parentID,
		OwnerID:  ownerID,
	}
	if err := s.DB.WithContext(ctx).Create(&folder).Error; err != nil {
		return nil, wrapError(KindDependency, "failed creating folder", err)
	}

	logger.InfoWithUser(ownerID.String(), "folder_created", map[string]interface{}{
		"folder_id":   folder.ID.String(),
		"folder_name": name,
	})

	return &folder, nil
}

// UploadFile persists content under a fresh blob key and records the file
// node. Quota is reserved with a single conditional update before the blob
// write, so a rejected upload never leaves an orphaned blob, and the
// reservation is rolled back if any later step fails.
func (s *HierarchyService) UploadFile(ctx context.Context, ownerID uuid.UUID, name string, size int64, contentType string, content io.Reader, parentID *uuid.UUID) (*models.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(KindValidation, "file name is required")
	}
	if size < 0 {
		return nil, newError(KindValidation, "invalid file size")
	}

	if parentID != nil {
		if _, err := s.validateParent(ctx, ownerID, *parentID); err != nil {
			return nil, err
		}
	}

	if err := s.reserveQuota(ctx, ownerID, size); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), name)

	blobCtx, cancel := s.blobContext(ctx)
	defer cancel()
	if err := s.Blobs.Upload(blobCtx, key, content, size, contentType); err != nil {
		// Compensation must not depend on the request context still being
		// alive.
		_ = s.releaseQuota(s.DB, ownerID, size)
		return nil, wrapError(KindDependency, "failed uploading file", err)
	}

	file := models.File{
		Name:       name,
		MimeType:   contentType,
		Size:       size,
		IsFolder:   false,
		ParentID:   parentID,
		OwnerID:    ownerID,
		StorageKey: key,
	}
	if err := s.DB.WithContext(ctx).Create(&file).Error; err != nil {
		delCtx, cancelDel := s.blobContext(context.Background())
		defer cancelDel()
		_ = s.Blobs.Delete(delCtx, key)
		_ = s.releaseQuota(s.DB, ownerID, size)
		return nil, wrapError(KindDependency, "failed creating file record", err)
	}

	logger.InfoWithUser(ownerID.String(), "file_uploaded", map[string]interface{}{
		"file_id":     file.ID.String(),
		"file_name":   name,
		"file_size":   size,
		"mime_type":   contentType,
		"storage_key": key,
	})

	return &file, nil
}

// ListChildren returns the direct children of parentID (or the root set
// when parentID is nil), folders first, newest first.
func (s *HierarchyService) ListChildren(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID) ([]models.File, error) {
	query := s.DB.WithContext(ctx).Where("owner_id = ?", ownerID)
	if parentID != nil {
		if _, err := s.validateParent(ctx, ownerID, *parentID); err != nil {
			return nil, err
		}
		query = query.Where("parent_id = ?", *parentID)
	} else {
		query = query.Where("parent_id IS NULL")
	}

	var children []models.File
	if err := query.Order("is_folder DESC, created_at DESC").Find(&children).Error; err != nil {
		return nil, wrapError(KindDependency, "failed listing files", err)
	}
	return children, nil
}

// Search matches node names case-insensitively across the caller's whole
// tree, any depth.
func (s *HierarchyService) Search(ctx context.Context, ownerID uuid.UUID, query string) ([]models.File, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newError(KindValidation, "search query is required")
	}

	searchValue := "%" + strings.ToLower(query) + "%"
	var files []models.File
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND LOWER(name) LIKE ?", ownerID, searchValue).
		Order("is_folder DESC, created_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, wrapError(KindDependency, "search failed", err)
	}

	s.enrichParentNames(ctx, files)
	return files, nil
}

func (s *HierarchyService) enrichParentNames(ctx context.Context, files []models.File) {
	parentIDs := make([]uuid.UUID, 0)
	for _, f := range files {
		if f.ParentID != nil {
			parentIDs = append(parentIDs, *f.ParentID)
		}
	}
	if len(parentIDs) == 0 {
		return
	}

	var parents []models.File
	s.DB.WithContext(ctx).Select("id", "name").Where("id IN ?", parentIDs).Find(&parents)

	parentMap := make(map[uuid.UUID]string)
	for _, p := range parents {
		parentMap[p.ID] = p.Name
	}

	for i := range files {
		if files[i].ParentID != nil {
			if name, ok := parentMap[*files[i].ParentID]; ok {
				files[i].ParentName = name
			}
		}
	}
}

func (s *HierarchyService) Rename(ctx context.Context, ownerID, nodeID uuid.UUID, newName string) (*models.File, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, newError(KindValidation, "name is required")
	}

	node, err := s.ownedNode(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).Model(node).Update("name", newName).Error; err != nil {
		return nil, wrapError(KindDependency, "failed renaming file", err)
	}
	node.Name = newName
	return node, nil
}

// Move reparents a node. A nil newParentID moves it to the root. Moves
// into the node itself or any of its descendants are rejected, keeping the
// parent chain acyclic.
func (s *HierarchyService) Move(ctx context.Context, ownerID, nodeID uuid.UUID, newParentID *uuid.UUID) (*models.File, error) {
	node, err := s.ownedNode(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}

	if newParentID != nil {
		if *newParentID == nodeID {
			return nil, newError(KindValidation, "cannot move a file into itself")
		}
		if _, err := s.validateParent(ctx, ownerID, *newParentID); err != nil {
			return nil, err
		}
		inSubtree, err := s.isDescendant(ctx, ownerID, nodeID, *newParentID)
		if err != nil {
			return nil, err
		}
		if inSubtree {
			return nil, newError(KindValidation, "cannot move a folder into its own descendant")
		}
	}

	if err := s.DB.WithContext(ctx).Model(node).Update("parent_id", newParentID).Error; err != nil {
		return nil, wrapError(KindDependency, "failed moving file", err)
	}
	node.ParentID = newParentID
	return node, nil
}

// isDescendant reports whether candidate sits in the subtree rooted at
// ancestorID, by walking candidate's parent chain upward.
func (s *HierarchyService) isDescendant(ctx context.Context, ownerID, ancestorID, candidateID uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{}
	current := candidateID
	for depth := 0; depth <= maxTreeDepth; depth++ {
		if current == ancestorID {
			return true, nil
		}
		if visited[current] {
			return false, newError(KindIntegrity, "cycle detected in folder hierarchy")
		}
		visited[current] = true

		var node models.File
		err := s.DB.WithContext(ctx).Select("id", "parent_id").
			Where("id = ? AND owner_id = ?", current, ownerID).
			First(&node).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, wrapError(KindDependency, "failed walking folder hierarchy", err)
		}
		if node.ParentID == nil {
			return false, nil
		}
		current = *node.ParentID
	}
	return false, newError(KindIntegrity, "folder hierarchy exceeds maximum depth")
}

// Delete removes a node. Files release their blob and their quota; folders
// cascade over the whole subtree so no child is ever orphaned. The record
// delete and quota release for each file happen in one transaction.
func (s *HierarchyService) Delete(ctx context.Context, ownerID, nodeID uuid.UUID) error {
	root, err := s.ownedNode(ctx, ownerID, nodeID)
	if err != nil {
		return err
	}

	nodes, err := s.collectSubtree(ctx, ownerID, root)
	if err != nil {
		return err
	}

	// Leaves first, so a mid-cascade failure never detaches a child from
	// a still-present parent.
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]

		if !node.IsFolder && node.StorageKey != "" {
			blobCtx, cancel := s.blobContext(ctx)
			err := s.Blobs.Delete(blobCtx, node.StorageKey)
			cancel()
			if err != nil {
				return wrapError(KindDependency, "failed deleting file content", err)
			}
		}

		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.File{}, "id = ?", node.ID).Error; err != nil {
				return err
			}
			return s.releaseQuota(tx, ownerID, node.Size)
		})
		if err != nil {
			return wrapError(KindDependency, "failed deleting file record", err)
		}
	}

	logger.InfoWithUser(ownerID.String(), "file_deleted", map[string]interface{}{
		"file_id":   nodeID.String(),
		"is_folder": root.IsFolder,
		"nodes":     len(nodes),
	})

	return nil
}

// collectSubtree gathers root and all its descendants breadth-first. A
// node reached twice means the parent chain loops.
func (s *HierarchyService) collectSubtree(ctx context.Context, ownerID uuid.UUID, root *models.File) ([]models.File, error) {
	visited := map[uuid.UUID]bool{root.ID: true}
	nodes := []models.File{*root}

	for cursor := 0; cursor < len(nodes); cursor++ {
		if !nodes[cursor].IsFolder {
			continue
		}

		var children []models.File
		err := s.DB.WithContext(ctx).
			Where("parent_id = ? AND owner_id = ?", nodes[cursor].ID, ownerID).
			Find(&children).Error
		if err != nil {
			return nil, wrapError(KindDependency, "failed loading folder contents", err)
		}

		for _, child := range children {
			if visited[child.ID] {
				return nil, newError(KindIntegrity, "cycle detected in folder hierarchy")
			}
			visited[child.ID] = true
			nodes = append(nodes, child)
		}
	}
	return nodes, nil
}

// ResolvePath builds the breadcrumb of ancestors for nodeID, root first,
// excluding the node itself. A nil nodeID is the root and yields an empty
// breadcrumb.
func (s *HierarchyService) ResolvePath(ctx context.Context, ownerID uuid.UUID, nodeID *uuid.UUID) (*models.File, []models.PathEntry, error) {
	breadcrumb := make([]models.PathEntry, 0)
	if nodeID == nil {
		return nil, breadcrumb, nil
	}

	node, err := s.ownedNode(ctx, ownerID, *nodeID)
	if err != nil {
		return nil, nil, err
	}

	visited := map[uuid.UUID]bool{node.ID: true}
	current := node.ParentID
	for depth := 0; current != nil; depth++ {
		if depth > maxTreeDepth || visited[*current] {
			return nil, nil, newError(KindIntegrity, "cycle detected in folder hierarchy")
		}
		visited[*current] = true

		var parent models.File
		err := s.DB.WithContext(ctx).Select("id", "name", "parent_id").
			Where("id = ? AND owner_id = ?", *current, ownerID).
			First(&parent).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, nil, wrapError(KindDependency, "failed building breadcrumb path", err)
		}

		breadcrumb = append(breadcrumb, models.PathEntry{ID: parent.ID, Name: parent.Name})
		current = parent.ParentID
	}

	for i, j := 0, len(breadcrumb)-1; i < j; i, j = i+1, j-1 {
		breadcrumb[i], breadcrumb[j] = breadcrumb[j], breadcrumb[i]
	}

	return node, breadcrumb, nil
}

// GetDownloadLink signs a time-limited retrieval URL for a file node.
func (s *HierarchyService) GetDownloadLink(ctx context.Context, ownerID, nodeID uuid.UUID) (string, error) {
	node, err := s.ownedNode(ctx, ownerID, nodeID)
	if err != nil {
		return "", err
	}
	if node.IsFolder {
		return "", newError(KindValidation, "cannot download a folder")
	}

	blobCtx, cancel := s.blobContext(ctx)
	defer cancel()
	url, err := s.Blobs.PresignedGetURL(blobCtx, node.StorageKey, downloadURLTTL)
	if err != nil {
		return "", wrapError(KindDependency, "failed signing download url", err)
	}
	return url, nil
}

// reserveQuota atomically claims size bytes against the owner's ceiling.
// The guard lives in the UPDATE itself, so concurrent uploads cannot both
// squeeze past the limit or lose each other's increments.
func (s *HierarchyService) reserveQuota(ctx context.Context, ownerID uuid.UUID, size int64) error {
	if size == 0 {
		return nil
	}
	result := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND storage_used + ? <= storage_total", ownerID, size).
		Update("storage_used", gorm.Expr("storage_used + ?", size))
	if result.Error != nil {
		return wrapError(KindDependency, "failed reserving storage quota", result.Error)
	}
	if result.RowsAffected == 0 {
		return newError(KindQuotaExceeded, "storage quota exceeded")
	}
	return nil
}

// releaseQuota atomically returns size bytes, flooring at zero so the
// counter can never go negative.
func (s *HierarchyService) releaseQuota(db *gorm.DB, ownerID uuid.UUID, size int64) error {
	if size == 0 {
		return nil
	}
	return db.Model(&models.User{}).
		Where("id = ?", ownerID).
		Update("storage_used", gorm.Expr(
			"CASE WHEN storage_used >= ? THEN storage_used - ? ELSE 0 END", size, size,
		)).Error
}
