package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwantia/goassets/pkg/db/models"
	"gorm.io/gorm"
)

// Reference operations

func (s *SQLiteStore) CreateReference(ctx context.Context, ref *models.Reference) error {
	return s.db.WithContext(ctx).Create(ref).Error
}

func (s *SQLiteStore) GetReference(ctx context.Context, id string) (*models.Reference, error) {
	var ref models.Reference
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *SQLiteStore) GetReferenceByPath(ctx context.Context, path string) (*models.Reference, error) {
	var ref models.Reference
	err := s.db.WithContext(ctx).Where("file_path = ?", path).First(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *SQLiteStore) ListReferencesByAsset(ctx context.Context, assetID string) ([]models.Reference, error) {
	var refs []models.Reference
	err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("id ASC").
		Find(&refs).Error
	return refs, err
}

func (s *SQLiteStore) ReferenceExistsForAsset(ctx context.Context, assetID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("asset_id = ?", assetID).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLiteStore) UpdateReferenceName(ctx context.Context, id string, name string) error {
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": s.db.NowFunc()}).Error
}

func (s *SQLiteStore) SetReferencePreview(ctx context.Context, id string, previewID *string) error {
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Updates(map[string]any{"preview_id": previewID, "updated_at": s.db.NowFunc()}).Error
}

// ReassignReference points a reference at a different asset. Used when
// hashing reveals that its content already exists under another asset.
func (s *SQLiteStore) ReassignReference(ctx context.Context, id string, assetID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Updates(map[string]any{"asset_id": assetID, "updated_at": s.db.NowFunc()}).Error
}

// TouchReferenceAccess bumps last_access_time, but never backwards.
func (s *SQLiteStore) TouchReferenceAccess(ctx context.Context, id string) error {
	now := s.db.NowFunc()
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Where("last_access_time IS NULL OR last_access_time < ?", now).
		Update("last_access_time", now).Error
}

func (s *SQLiteStore) TouchReferenceUpdated(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Update("updated_at", s.db.NowFunc()).Error
}

func (s *SQLiteStore) DeleteReferencesByID(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).
		Where("reference_id IN ?", ids).
		Delete(&models.ReferenceTag{}).Error; err != nil {
		return 0, err
	}
	if err := s.db.WithContext(ctx).
		Where("reference_id IN ?", ids).
		Delete(&models.ReferenceMeta{}).Error; err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Reference{})
	return res.RowsAffected, res.Error
}

// Listing

var sortColumns = map[string]string{
	"name":             "asset_references.name",
	"created_at":       "asset_references.created_at",
	"updated_at":       "asset_references.updated_at",
	"last_access_time": "asset_references.last_access_time",
	"size":             "assets.size_bytes",
}

func (s *SQLiteStore) listQuery(ctx context.Context, opts ListOptions) *gorm.DB {
	q := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Joins("JOIN assets ON assets.id = asset_references.asset_id").
		Where("(asset_references.owner_id = '' OR asset_references.owner_id = ?)", opts.OwnerID)

	if opts.NameContains != "" {
		q = q.Where(`asset_references.name LIKE ? ESCAPE '\'`,
			"%"+escapeLike(opts.NameContains)+"%")
	}

	for _, tag := range models.NormalizeTags(opts.IncludeTags) {
		q = q.Where(`EXISTS (
			SELECT 1 FROM asset_reference_tags rt
			WHERE rt.reference_id = asset_references.id AND rt.tag_name = ?)`, tag)
	}
	if exclude := models.NormalizeTags(opts.ExcludeTags); len(exclude) > 0 {
		q = q.Where(`NOT EXISTS (
			SELECT 1 FROM asset_reference_tags rt
			WHERE rt.reference_id = asset_references.id AND rt.tag_name IN ?)`, exclude)
	}

	for key, value := range opts.MetadataFilter {
		cond, args := metadataValueClause(key, value)
		q = q.Where(cond, args...)
	}

	return q
}

// metadataValueClause builds an EXISTS condition over the typed metadata
// projection for one key/value filter. List values match any element.
func metadataValueClause(key string, value any) (string, []any) {
	existsFor := func(pred string) string {
		return `EXISTS (
			SELECT 1 FROM asset_reference_meta m
			WHERE m.reference_id = asset_references.id AND m.key = ? AND ` + pred + `)`
	}

	switch v := value.(type) {
	case nil:
		noRow := `NOT EXISTS (
			SELECT 1 FROM asset_reference_meta m
			WHERE m.reference_id = asset_references.id AND m.key = ?)`
		nullRow := existsFor("m.val_str IS NULL AND m.val_num IS NULL AND m.val_bool IS NULL AND m.val_json IS NULL")
		return "(" + noRow + " OR " + nullRow + ")", []any{key, key}
	case bool:
		return existsFor("m.val_bool = ?"), []any{key, v}
	case int:
		return existsFor("m.val_num = ?"), []any{key, float64(v)}
	case int64:
		return existsFor("m.val_num = ?"), []any{key, float64(v)}
	case float64:
		return existsFor("m.val_num = ?"), []any{key, v}
	case string:
		return existsFor("m.val_str = ?"), []any{key, v}
	case []any:
		conds := make([]string, 0, len(v))
		args := make([]any, 0, len(v)*2)
		for _, elem := range v {
			c, a := metadataValueClause(key, elem)
			conds = append(conds, c)
			args = append(args, a...)
		}
		if len(conds) == 0 {
			return "1 = 1", nil
		}
		return "(" + strings.Join(conds, " OR ") + ")", args
	default:
		doc, _ := marshalJSON(v)
		return existsFor("m.val_json = ?"), []any{key, string(doc)}
	}
}

func (s *SQLiteStore) ListReferences(ctx context.Context, opts ListOptions) ([]models.Reference, map[string][]string, int64, error) {
	var total int64
	if err := s.listQuery(ctx, opts).Count(&total).Error; err != nil {
		return nil, nil, 0, fmt.Errorf("failed to count references: %w", err)
	}

	column, ok := sortColumns[strings.ToLower(opts.Sort)]
	if !ok {
		column = sortColumns["created_at"]
	}
	direction := "DESC"
	if strings.EqualFold(opts.Order, "asc") {
		direction = "ASC"
	}

	q := s.listQuery(ctx, opts).
		Select("asset_references.*").
		Order(column + " " + direction).
		Order("asset_references.id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var refs []models.Reference
	if err := q.Find(&refs).Error; err != nil {
		return nil, nil, 0, fmt.Errorf("failed to list references: %w", err)
	}

	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	tagMap, err := s.tagsForReferences(ctx, ids)
	if err != nil {
		return nil, nil, 0, err
	}

	return refs, tagMap, total, nil
}

func (s *SQLiteStore) tagsForReferences(ctx context.Context, ids []string) (map[string][]string, error) {
	tagMap := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return tagMap, nil
	}
	var links []models.ReferenceTag
	err := s.db.WithContext(ctx).
		Where("reference_id IN ?", ids).
		Order("added_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reference tags: %w", err)
	}
	for _, link := range links {
		tagMap[link.ReferenceID] = append(tagMap[link.ReferenceID], link.TagName)
	}
	return tagMap, nil
}
