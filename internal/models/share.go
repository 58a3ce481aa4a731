package models

import "github.com/google/uuid"

// Share grants read-only access to a folder and everything non-trashed
// below it. Shares are folder-only and addressed by recipient email so a
// folder can be shared with someone who has not signed up yet; the grant
// becomes effective the moment a principal with that email authenticates.
type Share struct {
	BaseModel
	FolderID   uuid.UUID `json:"folderID" gorm:"type:uuid;not null;index;uniqueIndex:idx_shares_folder_email"`
	Email      string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_shares_folder_email"`
	SharedByID uuid.UUID `json:"sharedByID" gorm:"type:uuid;not null;index"`

	Folder   Node `json:"folder,omitempty" gorm:"foreignKey:FolderID;references:ID"`
	SharedBy User `json:"sharedBy,omitempty" gorm:"foreignKey:SharedByID;references:ID"`
}

func (Share) TableName() string {
	return "shares"
}
