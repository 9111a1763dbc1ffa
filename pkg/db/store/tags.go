package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/mwantia/goassets/pkg/db/models"
	"gorm.io/gorm/clause"
)

// Tag operations

// EnsureTags inserts any tag names not yet present in the global tag table.
func (s *SQLiteStore) EnsureTags(ctx context.Context, names []string, tagType string) error {
	wanted := models.NormalizeTags(names)
	if len(wanted) == 0 {
		return nil
	}
	if tagType == "" {
		tagType = "user"
	}
	rows := make([]models.Tag, 0, len(wanted))
	for _, name := range wanted {
		rows = append(rows, models.Tag{Name: name, TagType: tagType})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (s *SQLiteStore) ReferenceTags(ctx context.Context, referenceID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&models.ReferenceTag{}).
		Where("reference_id = ?", referenceID).
		Order("added_at ASC").
		Pluck("tag_name", &names).Error
	return names, err
}

// AddReferenceTags attaches tags to a reference, creating missing tag rows.
// Returns (added, already present).
func (s *SQLiteStore) AddReferenceTags(ctx context.Context, referenceID string, tags []string, origin string) ([]string, []string, error) {
	wanted := models.NormalizeTags(tags)
	if len(wanted) == 0 {
		return nil, nil, nil
	}
	if err := s.EnsureTags(ctx, wanted, "user"); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure tags: %w", err)
	}

	current, err := s.ReferenceTags(ctx, referenceID)
	if err != nil {
		return nil, nil, err
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, t := range current {
		currentSet[t] = struct{}{}
	}

	var added, present []string
	var links []models.ReferenceTag
	now := s.db.NowFunc()
	for _, t := range wanted {
		if _, ok := currentSet[t]; ok {
			present = append(present, t)
			continue
		}
		added = append(added, t)
		links = append(links, models.ReferenceTag{
			ReferenceID: referenceID,
			TagName:     t,
			Origin:      origin,
			AddedAt:     now,
		})
	}
	if err := s.InsertTagLinksIgnoreConflicts(ctx, links); err != nil {
		return nil, nil, err
	}
	sort.Strings(added)
	sort.Strings(present)
	return added, present, nil
}

// RemoveReferenceTags detaches tags from a reference.
// Returns (removed, not present).
func (s *SQLiteStore) RemoveReferenceTags(ctx context.Context, referenceID string, tags []string) ([]string, []string, error) {
	wanted := models.NormalizeTags(tags)
	if len(wanted) == 0 {
		return nil, nil, nil
	}

	current, err := s.ReferenceTags(ctx, referenceID)
	if err != nil {
		return nil, nil, err
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, t := range current {
		currentSet[t] = struct{}{}
	}

	var removed, notPresent []string
	for _, t := range wanted {
		if _, ok := currentSet[t]; ok {
			removed = append(removed, t)
		} else {
			notPresent = append(notPresent, t)
		}
	}
	if len(removed) > 0 {
		err := s.db.WithContext(ctx).
			Where("reference_id = ? AND tag_name IN ?", referenceID, removed).
			Delete(&models.ReferenceTag{}).Error
		if err != nil {
			return nil, nil, err
		}
	}
	sort.Strings(removed)
	sort.Strings(notPresent)
	return removed, notPresent, nil
}

// SetReferenceTags replaces the full tag set of a reference.
// Returns (added, removed).
func (s *SQLiteStore) SetReferenceTags(ctx context.Context, referenceID string, tags []string, origin string) ([]string, []string, error) {
	desired := models.NormalizeTags(tags)
	desiredSet := make(map[string]struct{}, len(desired))
	for _, t := range desired {
		desiredSet[t] = struct{}{}
	}

	current, err := s.ReferenceTags(ctx, referenceID)
	if err != nil {
		return nil, nil, err
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, t := range current {
		currentSet[t] = struct{}{}
	}

	var toAdd, toRemove []string
	for _, t := range desired {
		if _, ok := currentSet[t]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	for _, t := range current {
		if _, ok := desiredSet[t]; !ok {
			toRemove = append(toRemove, t)
		}
	}

	if len(toAdd) > 0 {
		if _, _, err := s.AddReferenceTags(ctx, referenceID, toAdd, origin); err != nil {
			return nil, nil, err
		}
	}
	if len(toRemove) > 0 {
		if _, _, err := s.RemoveReferenceTags(ctx, referenceID, toRemove); err != nil {
			return nil, nil, err
		}
	}
	return toAdd, toRemove, nil
}

func (s *SQLiteStore) InsertTagLinksIgnoreConflicts(ctx context.Context, links []models.ReferenceTag) error {
	if len(links) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference_id"}, {Name: "tag_name"}},
			DoNothing: true,
		}).
		Create(&links).Error
}

// AddMissingTagForAsset attaches the automatic "missing" tag to every
// reference of the asset.
func (s *SQLiteStore) AddMissingTagForAsset(ctx context.Context, assetID string) error {
	if err := s.EnsureTags(ctx, []string{models.MissingTag}, "system"); err != nil {
		return err
	}
	var refIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("asset_id = ?", assetID).
		Pluck("id", &refIDs).Error
	if err != nil {
		return err
	}
	links := make([]models.ReferenceTag, 0, len(refIDs))
	now := s.db.NowFunc()
	for _, id := range refIDs {
		links = append(links, models.ReferenceTag{
			ReferenceID: id,
			TagName:     models.MissingTag,
			Origin:      models.TagOriginAutomatic,
			AddedAt:     now,
		})
	}
	return s.InsertTagLinksIgnoreConflicts(ctx, links)
}

// RemoveMissingTagForAsset removes the automatic "missing" tag from every
// reference of the asset.
func (s *SQLiteStore) RemoveMissingTagForAsset(ctx context.Context, assetID string) error {
	return s.db.WithContext(ctx).
		Where("tag_name = ?", models.MissingTag).
		Where("reference_id IN (?)",
			s.db.Model(&models.Reference{}).Select("id").Where("asset_id = ?", assetID)).
		Delete(&models.ReferenceTag{}).Error
}

// ListTagsWithUsage lists tags with how many visible references carry each.
func (s *SQLiteStore) ListTagsWithUsage(ctx context.Context, opts TagListOptions) ([]TagUsage, int64, error) {
	counts := s.db.WithContext(ctx).
		Model(&models.ReferenceTag{}).
		Select("asset_reference_tags.tag_name AS tag_name, COUNT(asset_reference_tags.reference_id) AS cnt").
		Joins("JOIN asset_references ON asset_references.id = asset_reference_tags.reference_id").
		Where("(asset_references.owner_id = '' OR asset_references.owner_id = ?)", opts.OwnerID).
		Group("asset_reference_tags.tag_name")

	q := s.db.WithContext(ctx).
		Model(&models.Tag{}).
		Select("tags.name AS name, tags.tag_type AS tag_type, COALESCE(counts.cnt, 0) AS count").
		Joins("LEFT JOIN (?) counts ON counts.tag_name = tags.name", counts)

	countQ := s.db.WithContext(ctx).Model(&models.Tag{})

	if opts.Prefix != "" {
		pattern := escapeLike(opts.Prefix) + "%"
		q = q.Where(`tags.name LIKE ? ESCAPE '\'`, pattern)
		countQ = countQ.Where(`tags.name LIKE ? ESCAPE '\'`, pattern)
	}
	if !opts.IncludeZero {
		q = q.Where("COALESCE(counts.cnt, 0) > 0")
		countQ = countQ.Where("tags.name IN (?)",
			s.db.Model(&models.ReferenceTag{}).Select("tag_name").Group("tag_name"))
	}

	if opts.Order == "name_asc" {
		q = q.Order("tags.name ASC")
	} else {
		q = q.Order("COALESCE(counts.cnt, 0) DESC").Order("tags.name ASC")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var rows []TagUsage
	if err := q.Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tags: %w", err)
	}
	var total int64
	if err := countQ.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tags: %w", err)
	}
	return rows, total, nil
}
