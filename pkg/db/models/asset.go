package models

import (
	"time"
)

// Asset represents a unique piece of content, deduplicated by hash.
// Hash is nil for stubs whose content has not been verified yet; at most
// one asset may carry any given non-nil hash.
type Asset struct {
	ID        string  `gorm:"primaryKey;type:text"`
	Hash      *string `gorm:"type:text;uniqueIndex:uq_assets_hash"`
	SizeBytes int64   `gorm:"not null;default:0;check:size_bytes >= 0"`
	MimeType  *string `gorm:"type:text;index"`

	CreatedAt time.Time

	// Relationships
	References []Reference `gorm:"foreignKey:AssetID;constraint:OnDelete:CASCADE"`
}

func (Asset) TableName() string { return "assets" }

// IsStub reports whether the asset content has not been hashed yet.
func (a *Asset) IsStub() bool {
	return a.Hash == nil || *a.Hash == ""
}
