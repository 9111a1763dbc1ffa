package models

import (
	"strings"
	"time"
)

// Tag is a global tag name shared across references.
type Tag struct {
	Name    string `gorm:"primaryKey;type:text"`
	TagType string `gorm:"type:text;not null;default:'user';index"`
}

func (Tag) TableName() string { return "tags" }

// ReferenceTag links a reference to a tag, recording how the link was made.
type ReferenceTag struct {
	ReferenceID string `gorm:"primaryKey;type:text;index"`
	TagName     string `gorm:"primaryKey;type:text;index"`
	Origin      string `gorm:"type:text;not null;default:'manual'"`

	AddedAt time.Time
}

func (ReferenceTag) TableName() string { return "asset_reference_tags" }

// MissingTag is attached automatically to references whose asset content is
// currently unreachable on disk.
const MissingTag = "missing"

// NormalizeTags lowercases and trims tag names, dropping empties and
// duplicates while preserving order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		n := strings.ToLower(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
