package models

import (
	"time"

	"github.com/google/uuid"
)

// Node is a file or folder in a principal's namespace. The tree is stored
// with parent back-references; ParentID == nil means the node is a root of
// its owner's namespace.
//
// TrashedAt is the soft-delete marker (exposed as deletedAt). It is set on
// the node the user deleted, never cascaded to descendants: a node is in
// trash if it or any ancestor carries the marker. Sibling name uniqueness
// is only enforced among non-trashed siblings.
type Node struct {
	BaseModel
	Name        string     `json:"name" gorm:"type:varchar(255);not null"`
	MimeType    string     `json:"mimeType" gorm:"type:varchar(255);not null"`
	Size        int64      `json:"size" gorm:"not null;default:0"`
	IsDirectory bool       `json:"isDirectory" gorm:"not null;default:false;index"`
	ParentID    *uuid.UUID `json:"parentID,omitempty" gorm:"type:uuid;index"`
	OwnerID     uuid.UUID  `json:"ownerID" gorm:"type:uuid;not null;index;uniqueIndex:idx_nodes_owner_idem_key"`
	BlobHash    *string    `json:"blobHash,omitempty" gorm:"type:varchar(64);index"`
	TrashedAt   *time.Time `json:"deletedAt,omitempty" gorm:"index"`

	// Client-generated key that makes upload retries safe; unique per owner.
	IdempotencyKey *string `json:"-" gorm:"type:varchar(128);uniqueIndex:idx_nodes_owner_idem_key"`

	Parent   *Node  `json:"parent,omitempty" gorm:"foreignKey:ParentID"`
	Children []Node `json:"children,omitempty" gorm:"foreignKey:ParentID"`
	Owner    User   `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`

	// Recipient emails, only populated for the owner on listings.
	SharedWith []string `json:"sharedWith,omitempty" gorm:"-"`
}

func (Node) TableName() string {
	return "nodes"
}

func (n *Node) InTrashDirectly() bool {
	return n.TrashedAt != nil
}
