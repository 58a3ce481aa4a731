package services

import (
	"context"
	"testing"
	"time"

	"github.com/cloudnest/backend/internal/models"
	"github.com/google/uuid"
)

func TestAuthorize(t *testing.T) {
	h := setupNamespace(t)
	ctx := context.Background()

	owner := createUser(t, h.db, "owner@test.com")
	recipient := createUser(t, h.db, "recipient@test.com")
	stranger := createUser(t, h.db, "stranger@test.com")

	folder := &models.Node{Name: "docs", MimeType: "inode/directory", IsDirectory: true, OwnerID: owner.ID}
	if err := h.db.Create(folder).Error; err != nil {
		t.Fatalf("failed creating folder: %v", err)
	}
	file := &models.Node{Name: "a.txt", MimeType: "text/plain", ParentID: &folder.ID, OwnerID: owner.ID}
	if err := h.db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file: %v", err)
	}
	share := &models.Share{FolderID: folder.ID, Email: recipient.Email, SharedByID: owner.ID}
	if err := h.db.Create(share).Error; err != nil {
		t.Fatalf("failed creating share: %v", err)
	}

	t.Run("owner gets every action", func(t *testing.T) {
		for _, action := range []Action{ActionRead, ActionWrite, ActionDelete, ActionShare, ActionRestore} {
			ok, err := h.access.Authorize(ctx, owner, file.ID, action)
			if err != nil {
				t.Fatalf("authorize failed: %v", err)
			}
			if !ok {
				t.Fatalf("owner denied action %s", action)
			}
		}
	})

	t.Run("recipient gets read only, through the ancestor share", func(t *testing.T) {
		ok, err := h.access.Authorize(ctx, recipient, file.ID, ActionRead)
		if err != nil || !ok {
			t.Fatalf("expected read allowed, ok=%v err=%v", ok, err)
		}
		for _, action := range []Action{ActionWrite, ActionDelete, ActionShare, ActionRestore} {
			ok, err := h.access.Authorize(ctx, recipient, file.ID, action)
			if err != nil {
				t.Fatalf("authorize failed: %v", err)
			}
			if ok {
				t.Fatalf("recipient must not get action %s", action)
			}
		}
	})

	t.Run("stranger gets nothing", func(t *testing.T) {
		ok, err := h.access.Authorize(ctx, stranger, file.ID, ActionRead)
		if err != nil {
			t.Fatalf("authorize failed: %v", err)
		}
		if ok {
			t.Fatal("stranger must be denied")
		}
	})

	t.Run("trash suspends recipient access but not the owner", func(t *testing.T) {
		now := time.Now()
		if err := h.db.Model(&models.Node{}).Where("id = ?", folder.ID).Update("trashed_at", now).Error; err != nil {
			t.Fatalf("failed trashing folder: %v", err)
		}
		defer func() {
			if err := h.db.Model(&models.Node{}).Where("id = ?", folder.ID).Update("trashed_at", nil).Error; err != nil {
				t.Fatalf("failed restoring folder: %v", err)
			}
		}()

		ok, err := h.access.Authorize(ctx, recipient, file.ID, ActionRead)
		if err != nil {
			t.Fatalf("authorize failed: %v", err)
		}
		if ok {
			t.Fatal("recipient must lose access while the folder is in trash")
		}

		ok, err = h.access.Authorize(ctx, owner, file.ID, ActionRead)
		if err != nil || !ok {
			t.Fatalf("owner must keep access in trash, ok=%v err=%v", ok, err)
		}
	})

	t.Run("unknown node reports not found", func(t *testing.T) {
		_, err := h.access.Authorize(ctx, owner, uuid.New(), ActionRead)
		mustCode(t, err, CodeNotFound)
	})
}

func TestChainDepthBound(t *testing.T) {
	db := setupServiceTestDB(t)
	access := NewAccessService(db, 3)
	owner := createUser(t, db, "owner@test.com")

	var parentID *uuid.UUID
	var leaf *models.Node
	for i := 0; i < 4; i++ {
		node := &models.Node{Name: "n", MimeType: "inode/directory", IsDirectory: true, ParentID: parentID, OwnerID: owner.ID}
		if err := db.Create(node).Error; err != nil {
			t.Fatalf("failed creating node: %v", err)
		}
		id := node.ID
		parentID = &id
		leaf = node
	}

	_, err := access.Chain(context.Background(), leaf.ID)
	mustCode(t, err, CodeDepthExceeded)
}

func TestInTrash(t *testing.T) {
	now := time.Now()
	live := models.Node{}
	trashed := models.Node{TrashedAt: &now}

	if InTrash([]models.Node{live, live}) {
		t.Fatal("live chain must not be in trash")
	}
	if !InTrash([]models.Node{live, trashed}) {
		t.Fatal("trashed ancestor must mark the chain")
	}
	if !InTrash([]models.Node{trashed}) {
		t.Fatal("directly trashed node must mark the chain")
	}
}
