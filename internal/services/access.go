package services

import (
	"context"
	"errors"

	"github.com/cloudnest/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionShare   Action = "share"
	ActionRestore Action = "restore"
)

// AccessService authorizes node operations by walking the ancestor chain.
// Ownership of any ancestor grants every action; a share on any ancestor
// folder grants Read only, and only while the node is not in trash.
// Sharing is read-only collaboration: recipients can view and download,
// never mutate.
type AccessService struct {
	DB       *gorm.DB
	MaxDepth int
}

func NewAccessService(db *gorm.DB, maxDepth int) *AccessService {
	return &AccessService{DB: db, MaxDepth: maxDepth}
}

// Chain returns the node and its ancestors, leaf first.
func (a *AccessService) Chain(ctx context.Context, nodeID uuid.UUID) ([]models.Node, error) {
	return loadChain(a.DB.WithContext(ctx), nodeID, a.MaxDepth)
}

// loadChain walks parent references from nodeID to its root, leaf first.
// The walk is bounded by maxDepth; creation enforces the same cap, so a
// longer chain means corrupted data, reported rather than trusted. Callers
// inside a transaction pass the transaction handle so the chain is read
// under the same snapshot as the mutation it guards.
func loadChain(db *gorm.DB, nodeID uuid.UUID, maxDepth int) ([]models.Node, error) {
	chain := make([]models.Node, 0, 8)
	current := nodeID

	for {
		var node models.Node
		if err := db.First(&node, "id = ?", current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, E(CodeNotFound, "node not found")
			}
			return nil, err
		}

		chain = append(chain, node)
		if len(chain) > maxDepth {
			return nil, E(CodeDepthExceeded, "node is nested too deeply")
		}

		if node.ParentID == nil {
			return chain, nil
		}
		current = *node.ParentID
	}
}

func ownedBy(chain []models.Node, userID uuid.UUID) bool {
	for _, node := range chain {
		if node.OwnerID == userID {
			return true
		}
	}
	return false
}

// InTrash reports whether the chain's leaf is logically deleted, directly
// or through a trashed ancestor.
func InTrash(chain []models.Node) bool {
	for _, node := range chain {
		if node.TrashedAt != nil {
			return true
		}
	}
	return false
}

// Authorize resolves "can user perform action on nodeID". It never
// caches, so revoking a share takes effect on the next request.
func (a *AccessService) Authorize(ctx context.Context, user *models.User, nodeID uuid.UUID, action Action) (bool, error) {
	chain, err := a.Chain(ctx, nodeID)
	if err != nil {
		return false, err
	}
	return a.AuthorizeChain(ctx, user, chain, action), nil
}

// AuthorizeChain is Authorize over an already-loaded ancestor chain, used
// by callers that walk the chain anyway.
func (a *AccessService) AuthorizeChain(ctx context.Context, user *models.User, chain []models.Node, action Action) bool {
	if ownedBy(chain, user.ID) {
		return true
	}

	if action != ActionRead || InTrash(chain) {
		return false
	}

	folderIDs := make([]uuid.UUID, 0, len(chain))
	for _, node := range chain {
		if node.IsDirectory {
			folderIDs = append(folderIDs, node.ID)
		}
	}
	if len(folderIDs) == 0 {
		return false
	}

	var count int64
	if err := a.DB.WithContext(ctx).Model(&models.Share{}).
		Where("folder_id IN ? AND email = ?", folderIDs, user.Email).
		Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}
