package models

import (
	"gorm.io/datatypes"
)

// ReferenceMeta is one typed projection row derived from a reference's
// user metadata document. Exactly one of the Val* columns is set per row;
// list values expand into multiple ordinals under the same key.
type ReferenceMeta struct {
	ReferenceID string `gorm:"primaryKey;type:text"`
	Key         string `gorm:"primaryKey;type:text;index;index:idx_reference_meta_key_str,priority:1;index:idx_reference_meta_key_num,priority:1;index:idx_reference_meta_key_bool,priority:1"`
	Ordinal     int    `gorm:"primaryKey"`

	ValStr  *string        `gorm:"type:text;index:idx_reference_meta_key_str,priority:2"`
	ValNum  *float64       `gorm:"index:idx_reference_meta_key_num,priority:2"`
	ValBool *bool          `gorm:"index:idx_reference_meta_key_bool,priority:2"`
	ValJSON datatypes.JSON `gorm:"type:json"`
}

func (ReferenceMeta) TableName() string { return "asset_reference_meta" }
