package models

import "time"

// Blob is an immutable, content-addressed binary object. Two files with
// identical bytes reference the same row. RefCount is only ever changed
// with atomic SQL increments/decrements; when it reaches zero ReleasedAt
// is set and the sweeper may reclaim the bytes once the grace period has
// passed. A new reference clears ReleasedAt again.
type Blob struct {
	Hash       string     `json:"hash" gorm:"type:varchar(64);primaryKey"`
	Size       int64      `json:"size" gorm:"not null"`
	RefCount   int64      `json:"refCount" gorm:"not null;default:0"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty" gorm:"index"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Blob) TableName() string {
	return "blobs"
}
