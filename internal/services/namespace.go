package services

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/mail"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloudnest/backend/internal/blobstore"
	"github.com/cloudnest/backend/internal/models"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NamespaceService orchestrates the node tree, the blob store and access
// control. Every mutation runs inside a single metadata transaction with
// its invariants (sibling names, cycles, depth) re-validated there, so
// concurrent conflicting writes resolve to exactly one winner. For uploads
// the blob bytes are written before the metadata commits; a failed commit
// is compensated with a blob release.
type NamespaceService struct {
	DB       *gorm.DB
	Blobs    *blobstore.Store
	Access   *AccessService
	Releases *ReleaseQueue
	MaxDepth int
}

func NewNamespaceService(db *gorm.DB, blobs *blobstore.Store, access *AccessService, releases *ReleaseQueue, maxDepth int) *NamespaceService {
	return &NamespaceService{
		DB:       db,
		Blobs:    blobs,
		Access:   access,
		Releases: releases,
		MaxDepth: maxDepth,
	}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", E(CodeInvalidArgument, "name is required")
	}
	if len(name) > 255 {
		return "", E(CodeInvalidArgument, "name is too long")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", E(CodeInvalidArgument, "name must not contain path separators")
	}
	return name, nil
}

// checkSiblingName enforces sibling uniqueness among non-trashed siblings.
// Roots (nil parent) are scoped per owner; trashed nodes never block a
// name.
func (s *NamespaceService) checkSiblingName(tx *gorm.DB, ownerID uuid.UUID, parentID *uuid.UUID, name string, excludeID uuid.UUID) error {
	query := tx.Model(&models.Node{}).Where("name = ? AND trashed_at IS NULL", name)
	if parentID == nil {
		query = query.Where("parent_id IS NULL AND owner_id = ?", ownerID)
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return E(CodeNameConflict, "a sibling with this name already exists")
	}
	return nil
}

// checkParent loads and validates a destination parent inside tx: it must
// exist, be a folder, not be in trash, and belong to the acting user.
// Returns the parent's ancestor chain.
func (s *NamespaceService) checkParent(tx *gorm.DB, user *models.User, parentID uuid.UUID) ([]models.Node, error) {
	chain, err := loadChain(tx, parentID, s.MaxDepth)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			return nil, E(CodeNotFound, "parent folder not found")
		}
		return nil, err
	}

	parent := chain[0]
	if !parent.IsDirectory {
		return nil, E(CodeInvalidArgument, "parent must be a folder")
	}
	if InTrash(chain) {
		return nil, E(CodeNotFound, "parent folder not found")
	}
	if !ownedBy(chain, user.ID) {
		return nil, E(CodeDenied, "no permission for parent folder")
	}
	if len(chain)+1 > s.MaxDepth {
		return nil, E(CodeDepthExceeded, "maximum folder depth exceeded")
	}
	return chain, nil
}

// subtreeHeight counts the levels of the subtree rooted at nodeID, the
// node itself included. Trashed descendants count too: they can be
// restored later and must still fit under the cap.
func subtreeHeight(tx *gorm.DB, nodeID uuid.UUID) (int, error) {
	var height int
	err := tx.Raw(`
		WITH RECURSIVE subtree AS (
			SELECT id, 1 AS level FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, s.level + 1 FROM nodes n
			INNER JOIN subtree s ON n.parent_id = s.id
		)
		SELECT MAX(level) FROM subtree
	`, nodeID).Scan(&height).Error
	return height, err
}

func (s *NamespaceService) CreateFolder(ctx context.Context, user *models.User, parentID *uuid.UUID, name string) (*models.Node, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	var created models.Node
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parentID != nil {
			if _, err := s.checkParent(tx, user, *parentID); err != nil {
				return err
			}
		}
		if err := s.checkSiblingName(tx, user.ID, parentID, name, uuid.Nil); err != nil {
			return err
		}

		created = models.Node{
			Name:        name,
			MimeType:    "inode/directory",
			IsDirectory: true,
			ParentID:    parentID,
			OwnerID:     user.ID,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "folder_created", map[string]interface{}{
		"folder_id":   created.ID.String(),
		"folder_name": created.Name,
	})
	return &created, nil
}

type UploadRequest struct {
	ParentID       *uuid.UUID
	Name           string
	ContentType    string
	Data           []byte
	IdempotencyKey *string
}

// Upload is the write-bytes-then-commit-metadata saga. The blob put is
// durable before the node row commits, so metadata never points at absent
// bytes. If the metadata transaction fails after the put, the dangling
// reference is compensated with a release; a failed compensation goes to
// the async release queue and, failing that, the GC sweep reclaims the
// orphan.
func (s *NamespaceService) Upload(ctx context.Context, user *models.User, req UploadRequest) (*models.Node, error) {
	name, err := validateName(filepath.Base(req.Name))
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if req.IdempotencyKey != nil {
		if existing, err := s.findByIdempotencyKey(ctx, user.ID, *req.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	if req.ParentID != nil {
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, err := s.checkParent(tx, user, *req.ParentID)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	ref, err := s.Blobs.Put(ctx, req.Data, contentType)
	if err != nil {
		return nil, mapBlobErr(err)
	}

	var created models.Node
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ParentID != nil {
			if _, err := s.checkParent(tx, user, *req.ParentID); err != nil {
				return err
			}
		}
		if req.IdempotencyKey != nil {
			var existing models.Node
			err := tx.First(&existing, "owner_id = ? AND idempotency_key = ?", user.ID, *req.IdempotencyKey).Error
			if err == nil {
				created = existing
				return errDuplicateUpload
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if err := s.checkSiblingName(tx, user.ID, req.ParentID, name, uuid.Nil); err != nil {
			return err
		}

		hash := ref.Hash
		created = models.Node{
			Name:           name,
			MimeType:       contentType,
			Size:           ref.Size,
			IsDirectory:    false,
			ParentID:       req.ParentID,
			OwnerID:        user.ID,
			BlobHash:       &hash,
			IdempotencyKey: req.IdempotencyKey,
		}
		return tx.Create(&created).Error
	})

	if txErr != nil {
		s.compensateRelease(ctx, user, ref.Hash)
		if errors.Is(txErr, errDuplicateUpload) {
			return &created, nil
		}
		return nil, txErr
	}

	logger.InfoWithUser(user.ID.String(), "file_uploaded", map[string]interface{}{
		"file_id":   created.ID.String(),
		"file_name": created.Name,
		"file_size": created.Size,
		"mime_type": created.MimeType,
		"blob_hash": ref.Hash,
	})
	return &created, nil
}

// errDuplicateUpload aborts the upload transaction when the idempotency
// key lost the race to a concurrent retry; the caller returns the winner.
var errDuplicateUpload = errors.New("duplicate upload")

func (s *NamespaceService) findByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.Node, error) {
	var existing models.Node
	err := s.DB.WithContext(ctx).First(&existing, "owner_id = ? AND idempotency_key = ?", ownerID, key).Error
	if err == nil {
		return &existing, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// compensateRelease undoes a blob reference after a failed metadata
// commit. An immediate failure is handed to the async queue; the orphan is
// not fatal either way, GC eventually reclaims it.
func (s *NamespaceService) compensateRelease(ctx context.Context, user *models.User, hash string) {
	if err := s.Blobs.Release(ctx, hash); err != nil {
		logger.ErrorWithUser(user.ID.String(), "blob_compensation_failed", err, map[string]interface{}{
			"blob_hash": hash,
		})
		if s.Releases != nil {
			s.Releases.Enqueue(hash)
		}
	}
}

func (s *NamespaceService) GetNode(ctx context.Context, user *models.User, nodeID uuid.UUID) (*models.Node, error) {
	chain, err := s.Access.Chain(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !s.Access.AuthorizeChain(ctx, user, chain, ActionRead) {
		return nil, E(CodeDenied, "access denied")
	}
	node := chain[0]
	return &node, nil
}

// Download streams a file's bytes. Missing bytes behind a live node row
// are corruption and surface as not found.
func (s *NamespaceService) Download(ctx context.Context, user *models.User, fileID uuid.UUID) (io.ReadCloser, *models.Node, error) {
	chain, err := s.Access.Chain(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	node := chain[0]
	if node.IsDirectory {
		return nil, nil, E(CodeInvalidArgument, "cannot download a folder")
	}
	if !s.Access.AuthorizeChain(ctx, user, chain, ActionRead) {
		return nil, nil, E(CodeDenied, "access denied")
	}
	if node.BlobHash == nil {
		return nil, nil, E(CodeNotFound, "file content not found")
	}

	reader, _, err := s.Blobs.Get(ctx, *node.BlobHash)
	if err != nil {
		return nil, nil, mapBlobErr(err)
	}
	return reader, &node, nil
}

type UpdateNodeRequest struct {
	Name        *string
	SetParent   bool
	NewParentID *uuid.UUID // nil with SetParent moves to the owner's root
}

// Update renames and/or moves a node. Cycle and conflict checks run
// inside the transaction so two concurrent moves cannot weave a loop.
func (s *NamespaceService) Update(ctx context.Context, user *models.User, nodeID uuid.UUID, req UpdateNodeRequest) (*models.Node, error) {
	if req.Name == nil && !req.SetParent {
		return nil, E(CodeInvalidArgument, "no valid fields to update")
	}

	var newName string
	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		newName = name
	}

	var updated models.Node
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chain, err := loadChain(tx, nodeID, s.MaxDepth)
		if err != nil {
			return err
		}
		node := chain[0]
		if !ownedBy(chain, user.ID) {
			return E(CodeDenied, "access denied")
		}

		effName := node.Name
		if req.Name != nil {
			effName = newName
		}

		effParent := node.ParentID
		if req.SetParent {
			effParent = req.NewParentID
			if req.NewParentID != nil {
				if *req.NewParentID == node.ID {
					return E(CodeCycleDetected, "node cannot be its own parent")
				}
				parentChain, err := s.checkParent(tx, user, *req.NewParentID)
				if err != nil {
					return err
				}
				for _, ancestor := range parentChain {
					if ancestor.ID == node.ID {
						return E(CodeCycleDetected, "cannot move a folder inside itself")
					}
				}
				// The whole subtree moves, so its deepest descendant must
				// still fit under the cap, not just the node itself.
				height, err := subtreeHeight(tx, node.ID)
				if err != nil {
					return err
				}
				if len(parentChain)+height > s.MaxDepth {
					return E(CodeDepthExceeded, "maximum folder depth exceeded")
				}
			}
		}

		if err := s.checkSiblingName(tx, user.ID, effParent, effName, node.ID); err != nil {
			return err
		}

		updates := map[string]interface{}{"name": effName, "parent_id": effParent}
		if err := tx.Model(&models.Node{}).Where("id = ?", node.ID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&updated, "id = ?", node.ID).Error
	})
	if err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "node_updated", map[string]interface{}{
		"node_id":   updated.ID.String(),
		"node_name": updated.Name,
	})
	return &updated, nil
}

// SoftDelete marks only the node itself; descendants are logically in
// trash through the ancestor walk, so deleting a large folder is O(depth),
// not O(subtree).
func (s *NamespaceService) SoftDelete(ctx context.Context, user *models.User, nodeID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chain, err := loadChain(tx, nodeID, s.MaxDepth)
		if err != nil {
			return err
		}
		if !ownedBy(chain, user.ID) {
			return E(CodeDenied, "access denied")
		}
		node := chain[0]
		if node.TrashedAt != nil {
			return nil
		}
		now := time.Now()
		return tx.Model(&models.Node{}).Where("id = ?", node.ID).Update("trashed_at", now).Error
	})
}

// Restore clears the trash marker. It fails with a name conflict when a
// live sibling took the name in the meantime; the caller renames first.
func (s *NamespaceService) Restore(ctx context.Context, user *models.User, nodeID uuid.UUID) (*models.Node, error) {
	var restored models.Node
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chain, err := loadChain(tx, nodeID, s.MaxDepth)
		if err != nil {
			return err
		}
		if !ownedBy(chain, user.ID) {
			return E(CodeDenied, "access denied")
		}
		node := chain[0]
		if node.TrashedAt == nil {
			return E(CodeNotInTrash, "node is not in trash")
		}
		if err := s.checkSiblingName(tx, user.ID, node.ParentID, node.Name, node.ID); err != nil {
			return err
		}
		if err := tx.Model(&models.Node{}).Where("id = ?", node.ID).Update("trashed_at", nil).Error; err != nil {
			return err
		}
		return tx.First(&restored, "id = ?", node.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}

// PermanentDelete removes a trashed subtree for good. Files release their
// blob references inside the same transaction as the row removal, so a
// crash can never leave a node pointing at a released blob. The bytes
// themselves are reclaimed later by the GC sweep.
func (s *NamespaceService) PermanentDelete(ctx context.Context, user *models.User, nodeID uuid.UUID) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chain, err := loadChain(tx, nodeID, s.MaxDepth)
		if err != nil {
			return err
		}
		if !ownedBy(chain, user.ID) {
			return E(CodeDenied, "access denied")
		}
		if !InTrash(chain) {
			return E(CodeNotInTrash, "node is not in trash")
		}
		return s.deleteSubtree(tx, chain[0].ID)
	})
	if err != nil {
		return err
	}

	logger.InfoWithUser(user.ID.String(), "node_permanently_deleted", map[string]interface{}{
		"node_id": nodeID.String(),
	})
	return nil
}

// deleteSubtree removes a node and everything below it, files before
// their folders.
func (s *NamespaceService) deleteSubtree(tx *gorm.DB, nodeID uuid.UUID) error {
	var node models.Node
	if err := tx.First(&node, "id = ?", nodeID).Error; err != nil {
		return err
	}

	if node.IsDirectory {
		var children []models.Node
		if err := tx.Select("id").Where("parent_id = ?", node.ID).Find(&children).Error; err != nil {
			return err
		}
		for _, child := range children {
			if err := s.deleteSubtree(tx, child.ID); err != nil {
				return err
			}
		}
		if err := tx.Where("folder_id = ?", node.ID).Delete(&models.Share{}).Error; err != nil {
			return err
		}
	} else if node.BlobHash != nil {
		if err := blobstore.ReleaseIn(tx, *node.BlobHash); err != nil {
			return err
		}
	}

	return tx.Delete(&models.Node{}, "id = ?", node.ID).Error
}

// Share grants read access on a folder to an email address. Granting the
// same email twice is a no-op, not an error.
func (s *NamespaceService) Share(ctx context.Context, user *models.User, folderID uuid.UUID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return E(CodeInvalidArgument, "invalid email")
	}
	if email == user.Email {
		return E(CodeInvalidArgument, "cannot share a folder with yourself")
	}

	chain, err := s.Access.Chain(ctx, folderID)
	if err != nil {
		return err
	}
	folder := chain[0]
	if !folder.IsDirectory {
		return E(CodeInvalidArgument, "only folders can be shared")
	}
	if folder.OwnerID != user.ID {
		return E(CodeDenied, "only the owner can share a folder")
	}

	share := models.Share{FolderID: folder.ID, Email: email, SharedByID: user.ID}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "folder_id"}, {Name: "email"}},
		DoNothing: true,
	}).Create(&share).Error
	if err != nil {
		return err
	}

	logger.InfoWithUser(user.ID.String(), "folder_shared", map[string]interface{}{
		"folder_id": folder.ID.String(),
		"email":     email,
	})
	return nil
}

// Unshare revokes a grant. Revocation is immediate: authorization reads
// the shares table on every request and caches nothing.
func (s *NamespaceService) Unshare(ctx context.Context, user *models.User, folderID uuid.UUID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	chain, err := s.Access.Chain(ctx, folderID)
	if err != nil {
		return err
	}
	folder := chain[0]
	if !folder.IsDirectory {
		return E(CodeInvalidArgument, "only folders can be shared")
	}
	if folder.OwnerID != user.ID {
		return E(CodeDenied, "only the owner can unshare a folder")
	}

	return s.DB.WithContext(ctx).
		Where("folder_id = ? AND email = ?", folder.ID, email).
		Delete(&models.Share{}).Error
}

// ListShares returns the recipient list of a folder. Owner only: a
// read-only recipient must not learn who else the folder is shared with.
func (s *NamespaceService) ListShares(ctx context.Context, user *models.User, folderID uuid.UUID) ([]models.Share, error) {
	chain, err := s.Access.Chain(ctx, folderID)
	if err != nil {
		return nil, err
	}
	folder := chain[0]
	if folder.OwnerID != user.ID {
		return nil, E(CodeDenied, "only the owner can list shares")
	}

	var shares []models.Share
	if err := s.DB.WithContext(ctx).
		Where("folder_id = ?", folder.ID).
		Order("email ASC").
		Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

// SharedWithMe lists folders shared to the user's email, skipping any
// that are currently in trash.
func (s *NamespaceService) SharedWithMe(ctx context.Context, user *models.User) ([]models.Node, error) {
	var shares []models.Share
	if err := s.DB.WithContext(ctx).
		Where("email = ?", user.Email).
		Find(&shares).Error; err != nil {
		return nil, err
	}

	folders := make([]models.Node, 0, len(shares))
	for _, share := range shares {
		chain, err := s.Access.Chain(ctx, share.FolderID)
		if err != nil {
			if CodeOf(err) == CodeNotFound {
				continue
			}
			return nil, err
		}
		if InTrash(chain) {
			continue
		}
		folder := chain[0]
		if err := s.DB.WithContext(ctx).First(&folder.Owner, "id = ?", folder.OwnerID).Error; err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// ListChildren returns the direct non-trashed children of a folder, split
// into folders and files. Share recipient lists are attached only when
// the requester owns the folder.
func (s *NamespaceService) ListChildren(ctx context.Context, user *models.User, folderID uuid.UUID) (folders, files []models.Node, err error) {
	chain, err := s.Access.Chain(ctx, folderID)
	if err != nil {
		return nil, nil, err
	}
	parent := chain[0]
	if !parent.IsDirectory {
		return nil, nil, E(CodeInvalidArgument, "node is not a folder")
	}
	if !s.Access.AuthorizeChain(ctx, user, chain, ActionRead) {
		return nil, nil, E(CodeDenied, "access denied")
	}

	var children []models.Node
	if err := s.DB.WithContext(ctx).
		Where("parent_id = ? AND trashed_at IS NULL", parent.ID).
		Order("is_directory DESC, name ASC").
		Find(&children).Error; err != nil {
		return nil, nil, err
	}

	if parent.OwnerID == user.ID {
		s.attachShareRecipients(ctx, children)
	}

	folders = make([]models.Node, 0, len(children))
	files = make([]models.Node, 0, len(children))
	for _, child := range children {
		if child.IsDirectory {
			folders = append(folders, child)
		} else {
			files = append(files, child)
		}
	}
	return folders, files, nil
}

// ListRoot returns the user's own non-trashed root nodes.
func (s *NamespaceService) ListRoot(ctx context.Context, user *models.User) ([]models.Node, error) {
	var nodes []models.Node
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND parent_id IS NULL AND trashed_at IS NULL", user.ID).
		Order("is_directory DESC, name ASC").
		Find(&nodes).Error; err != nil {
		return nil, err
	}
	s.attachShareRecipients(ctx, nodes)
	return nodes, nil
}

func (s *NamespaceService) attachShareRecipients(ctx context.Context, nodes []models.Node) {
	folderIDs := make([]uuid.UUID, 0, len(nodes))
	for _, node := range nodes {
		if node.IsDirectory {
			folderIDs = append(folderIDs, node.ID)
		}
	}
	if len(folderIDs) == 0 {
		return
	}

	var shares []models.Share
	if err := s.DB.WithContext(ctx).
		Where("folder_id IN ?", folderIDs).
		Order("email ASC").
		Find(&shares).Error; err != nil {
		return
	}

	byFolder := make(map[uuid.UUID][]string)
	for _, share := range shares {
		byFolder[share.FolderID] = append(byFolder[share.FolderID], share.Email)
	}
	for i := range nodes {
		nodes[i].SharedWith = byFolder[nodes[i].ID]
	}
}

// ListTrash returns the trash roots owned by the user: trashed nodes with
// no trashed ancestor, one entry per deleted item rather than its whole
// subtree.
func (s *NamespaceService) ListTrash(ctx context.Context, user *models.User) ([]models.Node, error) {
	var trashed []models.Node
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND trashed_at IS NOT NULL", user.ID).
		Order("trashed_at DESC").
		Find(&trashed).Error; err != nil {
		return nil, err
	}

	roots := make([]models.Node, 0, len(trashed))
	for _, node := range trashed {
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		chain, err := loadChain(s.DB.WithContext(ctx), *node.ParentID, s.MaxDepth)
		if err != nil {
			return nil, err
		}
		if !InTrash(chain) {
			roots = append(roots, node)
		}
	}
	return roots, nil
}

// Path returns the breadcrumb from root to the node.
func (s *NamespaceService) Path(ctx context.Context, user *models.User, nodeID uuid.UUID) ([]models.Node, error) {
	chain, err := s.Access.Chain(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !s.Access.AuthorizeChain(ctx, user, chain, ActionRead) {
		return nil, E(CodeDenied, "access denied")
	}

	path := make([]models.Node, len(chain))
	for i, node := range chain {
		path[len(chain)-1-i] = node
	}
	return path, nil
}

type searchEntry struct {
	node  models.Node
	depth int
}

// Search scans everything the user can read, owned and shared alike, for
// a case-insensitive substring of the name. Trashed nodes (directly or by
// ancestor) are excluded. Results are ordered by (depth, name, id) so
// offset pagination is deterministic and restartable.
func (s *NamespaceService) Search(ctx context.Context, user *models.User, term string, page, limit int) ([]models.Node, int64, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, 0, E(CodeInvalidArgument, "search query is required")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	pattern := "%" + strings.ToLower(term) + "%"
	entries := make([]searchEntry, 0, 32)
	seen := make(map[uuid.UUID]bool)

	var owned []models.Node
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND trashed_at IS NULL AND LOWER(name) LIKE ?", user.ID, pattern).
		Find(&owned).Error; err != nil {
		return nil, 0, err
	}
	for _, node := range owned {
		chain, err := loadChain(s.DB.WithContext(ctx), node.ID, s.MaxDepth)
		if err != nil {
			return nil, 0, err
		}
		if InTrash(chain) {
			continue
		}
		seen[node.ID] = true
		entries = append(entries, searchEntry{node: node, depth: len(chain)})
	}

	sharedEntries, err := s.searchShared(ctx, user, pattern, seen)
	if err != nil {
		return nil, 0, err
	}
	entries = append(entries, sharedEntries...)

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].depth != entries[j].depth {
			return entries[i].depth < entries[j].depth
		}
		if entries[i].node.Name != entries[j].node.Name {
			return entries[i].node.Name < entries[j].node.Name
		}
		return entries[i].node.ID.String() < entries[j].node.ID.String()
	})

	total := int64(len(entries))
	start := (page - 1) * limit
	if start > len(entries) {
		start = len(entries)
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}

	results := make([]models.Node, 0, end-start)
	for _, entry := range entries[start:end] {
		results = append(results, entry.node)
	}
	return results, total, nil
}

// searchShared matches the term inside every folder shared to the user.
// Descendants are collected with a recursive query that stops at trashed
// nodes, so nothing logically deleted leaks into results.
func (s *NamespaceService) searchShared(ctx context.Context, user *models.User, pattern string, seen map[uuid.UUID]bool) ([]searchEntry, error) {
	var shares []models.Share
	if err := s.DB.WithContext(ctx).
		Where("email = ?", user.Email).
		Find(&shares).Error; err != nil {
		return nil, err
	}

	entries := make([]searchEntry, 0)
	for _, share := range shares {
		rootChain, err := loadChain(s.DB.WithContext(ctx), share.FolderID, s.MaxDepth)
		if err != nil {
			if CodeOf(err) == CodeNotFound {
				continue
			}
			return nil, err
		}
		if InTrash(rootChain) {
			continue
		}
		rootDepth := len(rootChain)

		var descendants []struct {
			ID       uuid.UUID
			RelDepth int
		}
		if err := s.DB.WithContext(ctx).Raw(`
			WITH RECURSIVE descendants AS (
				SELECT id, 0 AS rel_depth FROM nodes WHERE id = ? AND trashed_at IS NULL
				UNION ALL
				SELECT n.id, d.rel_depth + 1 FROM nodes n
				INNER JOIN descendants d ON n.parent_id = d.id
				WHERE n.trashed_at IS NULL
			)
			SELECT id, rel_depth FROM descendants
		`, share.FolderID).Scan(&descendants).Error; err != nil {
			return nil, err
		}

		if len(descendants) == 0 {
			continue
		}

		ids := make([]uuid.UUID, 0, len(descendants))
		depthByID := make(map[uuid.UUID]int, len(descendants))
		for _, d := range descendants {
			ids = append(ids, d.ID)
			depthByID[d.ID] = rootDepth + d.RelDepth
		}

		var matches []models.Node
		if err := s.DB.WithContext(ctx).
			Where("id IN ? AND LOWER(name) LIKE ?", ids, pattern).
			Find(&matches).Error; err != nil {
			return nil, err
		}

		for _, node := range matches {
			if seen[node.ID] {
				continue
			}
			seen[node.ID] = true
			entries = append(entries, searchEntry{node: node, depth: depthByID[node.ID]})
		}
	}
	return entries, nil
}

func mapBlobErr(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrUnavailable):
		return E(CodeStorageUnavailable, "blob storage unavailable")
	case errors.Is(err, blobstore.ErrNotFound):
		return E(CodeNotFound, "file content not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return E(CodeTimeout, "operation timed out")
	default:
		return err
	}
}
