package store

import (
	"context"

	"github.com/mwantia/goassets/pkg/db/models"
)

// CacheStateRow is a reference row joined with its asset, as consumed by the
// filesystem reconciler.
type CacheStateRow struct {
	ReferenceID string
	FilePath    string
	MtimeNS     *int64
	NeedsVerify bool
	IsMissing   bool
	AssetID     string
	AssetHash   *string
	SizeBytes   int64
}

// UnenrichedRow is a reference row selected for enrichment work.
type UnenrichedRow struct {
	ReferenceID     string
	AssetID         string
	FilePath        string
	EnrichmentLevel int
}

// ListOptions controls reference listing, filtering and pagination.
type ListOptions struct {
	OwnerID        string
	NameContains   string
	IncludeTags    []string
	ExcludeTags    []string
	MetadataFilter map[string]any
	Sort           string // name, created_at, updated_at, size, last_access_time
	Order          string // asc, desc
	Limit          int
	Offset         int
}

// TagListOptions controls tag usage listing.
type TagListOptions struct {
	Prefix      string
	OwnerID     string
	IncludeZero bool
	Order       string // count_desc, name_asc
	Limit       int
	Offset      int
}

// TagUsage is one row of the tag usage listing.
type TagUsage struct {
	Name    string
	TagType string
	Count   int64
}

// AssetStore defines the interface for database operations
type AssetStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
	Transaction(ctx context.Context, fn func(AssetStore) error) error

	// Asset operations
	CreateAsset(ctx context.Context, asset *models.Asset) error
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	GetAssetByHash(ctx context.Context, hash string) (*models.Asset, error)
	AssetExistsByHash(ctx context.Context, hash string) (bool, error)
	SetAssetHash(ctx context.Context, id string, hash string) error
	SetAssetMimeType(ctx context.Context, id string, mimeType string) error
	DeleteAssetsByID(ctx context.Context, ids []string) (int64, error)
	UnreferencedStubAssetIDs(ctx context.Context) ([]string, error)

	// Reference operations
	CreateReference(ctx context.Context, ref *models.Reference) error
	GetReference(ctx context.Context, id string) (*models.Reference, error)
	GetReferenceByPath(ctx context.Context, path string) (*models.Reference, error)
	ListReferencesByAsset(ctx context.Context, assetID string) ([]models.Reference, error)
	ReferenceExistsForAsset(ctx context.Context, assetID string) (bool, error)
	ListReferences(ctx context.Context, opts ListOptions) ([]models.Reference, map[string][]string, int64, error)
	UpdateReferenceName(ctx context.Context, id string, name string) error
	SetReferencePreview(ctx context.Context, id string, previewID *string) error
	ReassignReference(ctx context.Context, id string, assetID string) error
	TouchReferenceAccess(ctx context.Context, id string) error
	TouchReferenceUpdated(ctx context.Context, id string) error
	DeleteReferencesByID(ctx context.Context, ids []string) (int64, error)

	// Reconciliation primitives
	ReferencesForPrefixes(ctx context.Context, prefixes []string, includeMissing bool) ([]CacheStateRow, error)
	SetNeedsVerify(ctx context.Context, ids []string, value bool) (int64, error)
	SetIsMissing(ctx context.Context, ids []string, value bool) (int64, error)
	MarkMissingOutsidePrefixes(ctx context.Context, prefixes []string) (int64, error)
	RestoreReferencesByPaths(ctx context.Context, paths []string) (int64, error)

	// Enrichment primitives
	UnenrichedReferences(ctx context.Context, prefixes []string, maxLevel int, limit int) ([]UnenrichedRow, error)
	RaiseEnrichmentLevel(ctx context.Context, id string, level int) error

	// Bulk ingest primitives
	InsertAssetsIgnoreConflicts(ctx context.Context, assets []models.Asset) error
	ExistingAssetIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	InsertReferencesIgnoreConflicts(ctx context.Context, refs []models.Reference) error
	ExistingReferenceIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	WinningPaths(ctx context.Context, pathToAsset map[string]string) (map[string]struct{}, error)

	// Tag operations
	EnsureTags(ctx context.Context, names []string, tagType string) error
	ReferenceTags(ctx context.Context, referenceID string) ([]string, error)
	AddReferenceTags(ctx context.Context, referenceID string, tags []string, origin string) ([]string, []string, error)
	RemoveReferenceTags(ctx context.Context, referenceID string, tags []string) ([]string, []string, error)
	SetReferenceTags(ctx context.Context, referenceID string, tags []string, origin string) ([]string, []string, error)
	InsertTagLinksIgnoreConflicts(ctx context.Context, links []models.ReferenceTag) error
	AddMissingTagForAsset(ctx context.Context, assetID string) error
	RemoveMissingTagForAsset(ctx context.Context, assetID string) error
	ListTagsWithUsage(ctx context.Context, opts TagListOptions) ([]TagUsage, int64, error)

	// Metadata operations
	SetReferenceMetadata(ctx context.Context, referenceID string, doc map[string]any) error
	InsertMetaRowsIgnoreConflicts(ctx context.Context, rows []models.ReferenceMeta) error
}
