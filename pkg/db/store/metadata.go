package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mwantia/goassets/pkg/db/models"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, int, int64, float64, string:
		return true
	}
	return false
}

func scalarToRow(referenceID, key string, ordinal int, value any) models.ReferenceMeta {
	row := models.ReferenceMeta{
		ReferenceID: referenceID,
		Key:         key,
		Ordinal:     ordinal,
	}
	switch v := value.(type) {
	case nil:
		// all value columns stay null
	case bool:
		row.ValBool = &v
	case int:
		f := float64(v)
		row.ValNum = &f
	case int64:
		f := float64(v)
		row.ValNum = &f
	case float64:
		row.ValNum = &v
	case string:
		row.ValStr = &v
	}
	return row
}

func jsonRow(referenceID, key string, ordinal int, value any) models.ReferenceMeta {
	doc, _ := marshalJSON(value)
	return models.ReferenceMeta{
		ReferenceID: referenceID,
		Key:         key,
		Ordinal:     ordinal,
		ValJSON:     datatypes.JSON(doc),
	}
}

// MetadataToRows mechanically derives the typed projection rows for one
// metadata document. List values expand into one row per ordinal; anything
// non-scalar lands in the JSON column.
func MetadataToRows(referenceID string, doc map[string]any) []models.ReferenceMeta {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows []models.ReferenceMeta
	for _, key := range keys {
		value := doc[key]
		switch {
		case isScalar(value):
			rows = append(rows, scalarToRow(referenceID, key, 0, value))
		default:
			list, ok := value.([]any)
			if !ok {
				rows = append(rows, jsonRow(referenceID, key, 0, value))
				continue
			}
			allScalar := true
			for _, elem := range list {
				if !isScalar(elem) {
					allScalar = false
					break
				}
			}
			for i, elem := range list {
				if allScalar {
					rows = append(rows, scalarToRow(referenceID, key, i, elem))
				} else {
					rows = append(rows, jsonRow(referenceID, key, i, elem))
				}
			}
		}
	}
	return rows
}

// SetReferenceMetadata replaces the metadata document of a reference and
// rebuilds its typed projection in lockstep.
func (s *SQLiteStore) SetReferenceMetadata(ctx context.Context, referenceID string, doc map[string]any) error {
	var raw datatypes.JSON
	if doc != nil {
		encoded, err := marshalJSON(doc)
		if err != nil {
			return fmt.Errorf("failed to encode metadata document: %w", err)
		}
		raw = datatypes.JSON(encoded)
	}

	res := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", referenceID).
		Updates(map[string]any{"user_metadata": raw, "updated_at": s.db.NowFunc()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reference %s not found", referenceID)
	}

	if err := s.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Delete(&models.ReferenceMeta{}).Error; err != nil {
		return err
	}
	if len(doc) == 0 {
		return nil
	}

	rows := MetadataToRows(referenceID, doc)
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *SQLiteStore) InsertMetaRowsIgnoreConflicts(ctx context.Context, rows []models.ReferenceMeta) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference_id"}, {Name: "key"}, {Name: "ordinal"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}
