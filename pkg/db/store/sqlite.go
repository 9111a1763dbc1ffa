package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/goassets/pkg/db/migrations"
	"github.com/mwantia/goassets/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements AssetStore using SQLite
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path         string
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed asset store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	dsn := cfg.Path
	if strings.Contains(dsn, "?") {
		dsn += "&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn within a single database transaction. The store passed
// to fn is bound to that transaction; nesting uses savepoints.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(AssetStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLiteStore{db: tx, path: s.path})
	})
}

// escapeLike escapes LIKE wildcard characters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// prefixClause builds a (file_path LIKE ... OR ...) condition matching paths
// strictly under any of the given directory prefixes.
func prefixClause(prefixes []string) (string, []any) {
	conds := make([]string, 0, len(prefixes))
	args := make([]any, 0, len(prefixes))
	for _, p := range prefixes {
		base := p
		if !strings.HasSuffix(base, string(os.PathSeparator)) {
			base += string(os.PathSeparator)
		}
		conds = append(conds, `file_path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(base)+"%")
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

// Asset operations

func (s *SQLiteStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	return s.db.WithContext(ctx).Create(asset).Error
}

func (s *SQLiteStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *SQLiteStore) GetAssetByHash(ctx context.Context, hash string) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *SQLiteStore) AssetExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("hash = ?", hash).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLiteStore) SetAssetHash(ctx context.Context, id string, hash string) error {
	return s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ?", id).
		Update("hash", hash).Error
}

func (s *SQLiteStore) SetAssetMimeType(ctx context.Context, id string, mimeType string) error {
	return s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("id = ?", id).
		Update("mime_type", mimeType).Error
}

// DeleteAssetsByID hard-deletes assets and all their references.
func (s *SQLiteStore) DeleteAssetsByID(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	refIDs, err := s.referenceIDsForAssets(ctx, ids)
	if err != nil {
		return 0, err
	}
	if _, err := s.DeleteReferencesByID(ctx, refIDs); err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Asset{})
	return res.RowsAffected, res.Error
}

func (s *SQLiteStore) referenceIDsForAssets(ctx context.Context, assetIDs []string) ([]string, error) {
	var refIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Reference{}).
		Where("asset_id IN ?", assetIDs).
		Pluck("id", &refIDs).Error
	return refIDs, err
}

// UnreferencedStubAssetIDs returns stub assets (hash is null) with no live
// reference left; these are safe to garbage collect.
func (s *SQLiteStore) UnreferencedStubAssetIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Asset{}).
		Where("hash IS NULL").
		Where(`NOT EXISTS (
			SELECT 1 FROM asset_references ar
			WHERE ar.asset_id = assets.id AND ar.is_missing = ?)`, false).
		Pluck("id", &ids).Error
	return ids, err
}
