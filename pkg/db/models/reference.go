package models

import (
	"time"

	"gorm.io/datatypes"
)

// Enrichment levels for a filesystem-backed reference. The level is
// monotonic non-decreasing in normal operation.
const (
	EnrichmentStub     = 0 // path, size and mtime only
	EnrichmentMetadata = 1 // metadata extracted, mime type known
	EnrichmentHashed   = 2 // content hash computed
)

// Tag origins recorded on the reference/tag join row.
const (
	TagOriginManual    = "manual"
	TagOriginAutomatic = "automatic"
)

// Reference is a named, owned pointer to an Asset. A reference is either
// filesystem-backed (FilePath set, cache-validation fields maintained by the
// scanner) or API-created (FilePath nil).
type Reference struct {
	ID      string `gorm:"primaryKey;type:text"`
	AssetID string `gorm:"type:text;not null;index"`

	// Cache-validation state
	FilePath        *string `gorm:"type:text;uniqueIndex:uq_references_file_path"`
	MtimeNS         *int64  `gorm:"check:mtime_ns IS NULL OR mtime_ns >= 0"`
	NeedsVerify     bool    `gorm:"not null;default:false"`
	IsMissing       bool    `gorm:"not null;default:false;index"`
	EnrichmentLevel int     `gorm:"not null;default:0;index;check:enrichment_level >= 0 AND enrichment_level <= 2"`

	// User-facing fields. An empty OwnerID means globally visible.
	OwnerID      string         `gorm:"type:text;not null;default:'';index:idx_references_owner_name,priority:1"`
	Name         string         `gorm:"type:text;not null;index;index:idx_references_owner_name,priority:2"`
	PreviewID    *string        `gorm:"type:text"`
	UserMetadata datatypes.JSON `gorm:"type:json"`

	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
	LastAccessTime time.Time `gorm:"index"`

	// Relationships
	Asset        Asset           `gorm:"foreignKey:AssetID;references:ID;constraint:OnDelete:CASCADE"`
	PreviewAsset *Asset          `gorm:"foreignKey:PreviewID;references:ID;constraint:OnDelete:SET NULL"`
	TagLinks     []ReferenceTag  `gorm:"foreignKey:ReferenceID;constraint:OnDelete:CASCADE"`
	MetaEntries  []ReferenceMeta `gorm:"foreignKey:ReferenceID;constraint:OnDelete:CASCADE"`
}

func (Reference) TableName() string { return "asset_references" }

// VisibleTo reports whether the reference may be read by the given caller.
func (r *Reference) VisibleTo(ownerID string) bool {
	return r.OwnerID == "" || r.OwnerID == ownerID
}
