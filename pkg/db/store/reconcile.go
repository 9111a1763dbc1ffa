package store

import (
	"context"
	"fmt"

	"github.com/mwantia/goassets/pkg/db/models"
	"gorm.io/gorm/clause"
)

// Reconciliation primitives

// ReferencesForPrefixes returns every filesystem-backed reference under the
// given directory prefixes, joined with its asset, ordered so rows of the
// same asset are adjacent.
func (s *SQLiteStore) ReferencesForPrefixes(ctx context.Context, prefixes []string, includeMissing bool) ([]CacheStateRow, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}

	cond, args := prefixClause(prefixes)
	q := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Select(`asset_references.id AS reference_id,
			asset_references.file_path,
			asset_references.mtime_ns,
			asset_references.needs_verify,
			asset_references.is_missing,
			asset_references.asset_id,
			assets.hash AS asset_hash,
			assets.size_bytes`).
		Joins("JOIN assets ON assets.id = asset_references.asset_id").
		Where("asset_references.file_path IS NOT NULL").
		Where(cond, args...)

	if !includeMissing {
		q = q.Where("asset_references.is_missing = ?", false)
	}

	var rows []CacheStateRow
	err := q.Order("asset_references.asset_id ASC, asset_references.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query references for prefixes: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) SetNeedsVerify(ctx context.Context, ids []string, value bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id IN ?", ids).
		Update("needs_verify", value)
	return res.RowsAffected, res.Error
}

func (s *SQLiteStore) SetIsMissing(ctx context.Context, ids []string, value bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id IN ?", ids).
		Update("is_missing", value)
	return res.RowsAffected, res.Error
}

// MarkMissingOutsidePrefixes soft-deletes every filesystem-backed reference
// whose path lies outside all given prefixes. Metadata is preserved.
func (s *SQLiteStore) MarkMissingOutsidePrefixes(ctx context.Context, prefixes []string) (int64, error) {
	if len(prefixes) == 0 {
		return 0, nil
	}
	cond, args := prefixClause(prefixes)
	res := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("file_path IS NOT NULL").
		Where("is_missing = ?", false).
		Where("NOT "+cond, args...).
		Update("is_missing", true)
	return res.RowsAffected, res.Error
}

// RestoreReferencesByPaths clears the soft-delete flag for references whose
// paths have reappeared on disk.
func (s *SQLiteStore) RestoreReferencesByPaths(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("file_path IN ?", paths).
		Where("is_missing = ?", true).
		Update("is_missing", false)
	return res.RowsAffected, res.Error
}

// Enrichment primitives

func (s *SQLiteStore) UnenrichedReferences(ctx context.Context, prefixes []string, maxLevel int, limit int) ([]UnenrichedRow, error) {
	if len(prefixes) == 0 {
		return nil, nil
	}
	cond, args := prefixClause(prefixes)
	q := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Select("id AS reference_id, asset_id, file_path, enrichment_level").
		Where("file_path IS NOT NULL").
		Where(cond, args...).
		Where("is_missing = ?", false).
		Where("enrichment_level <= ?", maxLevel).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []UnenrichedRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query unenriched references: %w", err)
	}
	return rows, nil
}

// RaiseEnrichmentLevel raises the enrichment level of a reference. Lower
// values never overwrite higher ones.
func (s *SQLiteStore) RaiseEnrichmentLevel(ctx context.Context, id string, level int) error {
	return s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id = ?", id).
		Where("enrichment_level < ?", level).
		Update("enrichment_level", level).Error
}

// Bulk ingest primitives

// InsertAssetsIgnoreConflicts batch-inserts assets; rows colliding on the
// content hash are silently dropped (first insert wins).
func (s *SQLiteStore) InsertAssetsIgnoreConflicts(ctx context.Context, assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&assets).Error
}

func (s *SQLiteStore) ExistingAssetIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var present []string
	err := s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id IN ?", ids).
		Pluck("id", &present).Error
	if err != nil {
		return nil, err
	}
	for _, id := range present {
		found[id] = struct{}{}
	}
	return found, nil
}

// InsertReferencesIgnoreConflicts batch-inserts references; rows colliding on
// file_path are silently dropped (the path keeps its current owner row).
func (s *SQLiteStore) InsertReferencesIgnoreConflicts(ctx context.Context, refs []models.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_path"}},
			DoNothing: true,
		}).
		Create(&refs).Error
}

func (s *SQLiteStore) ExistingReferenceIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var present []string
	err := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("id IN ?", ids).
		Pluck("id", &present).Error
	if err != nil {
		return nil, err
	}
	for _, id := range present {
		found[id] = struct{}{}
	}
	return found, nil
}

// WinningPaths reports which paths ended up carrying the asset id we tried
// to insert for them. Paths absent from the result lost their insert race.
func (s *SQLiteStore) WinningPaths(ctx context.Context, pathToAsset map[string]string) (map[string]struct{}, error) {
	winners := make(map[string]struct{}, len(pathToAsset))
	if len(pathToAsset) == 0 {
		return winners, nil
	}

	paths := make([]string, 0, len(pathToAsset))
	for p := range pathToAsset {
		paths = append(paths, p)
	}

	var rows []struct {
		FilePath string
		AssetID  string
	}
	err := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Select("file_path, asset_id").
		Where("file_path IN ?", paths).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if pathToAsset[row.FilePath] == row.AssetID {
			winners[row.FilePath] = struct{}{}
		}
	}
	return winners, nil
}
