package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() })

	return st
}

func strptr(s string) *string { return &s }

func i64ptr(v int64) *int64 { return &v }

// seedReference inserts an asset/reference pair and returns both ids.
func seedReference(t *testing.T, st *SQLiteStore, name, path, ownerID string, hash *string) (string, string) {
	t.Helper()
	ctx := context.Background()

	asset := &models.Asset{
		ID:        uuid.NewString(),
		Hash:      hash,
		SizeBytes: 1024,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateAsset(ctx, asset))

	ref := &models.Reference{
		ID:             uuid.NewString(),
		AssetID:        asset.ID,
		FilePath:       strptr(path),
		MtimeNS:        i64ptr(100),
		OwnerID:        ownerID,
		Name:           name,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		LastAccessTime: time.Now().UTC(),
	}
	require.NoError(t, st.CreateReference(ctx, ref))

	return asset.ID, ref.ID
}

func TestAssetHashUniqueness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hash := "blake3:" + uuid.NewString()
	require.NoError(t, st.CreateAsset(ctx, &models.Asset{
		ID: uuid.NewString(), Hash: &hash, SizeBytes: 1,
	}))
	err := st.CreateAsset(ctx, &models.Asset{
		ID: uuid.NewString(), Hash: &hash, SizeBytes: 2,
	})
	assert.Error(t, err, "duplicate hash must be rejected")

	// NULL hashes never conflict.
	require.NoError(t, st.CreateAsset(ctx, &models.Asset{ID: uuid.NewString(), SizeBytes: 1}))
	require.NoError(t, st.CreateAsset(ctx, &models.Asset{ID: uuid.NewString(), SizeBytes: 1}))
}

func TestReferencePathUniqueness(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	assetID, _ := seedReference(t, st, "a", "/data/a.bin", "", nil)

	err := st.CreateReference(ctx, &models.Reference{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		FilePath: strptr("/data/a.bin"),
		Name:     "dup",
	})
	assert.Error(t, err, "duplicate file_path must be rejected")

	// API-created references carry no path and never collide.
	require.NoError(t, st.CreateReference(ctx, &models.Reference{
		ID: uuid.NewString(), AssetID: assetID, Name: "api-1",
	}))
	require.NoError(t, st.CreateReference(ctx, &models.Reference{
		ID: uuid.NewString(), AssetID: assetID, Name: "api-2",
	}))
}

func TestInsertAssetsIgnoreConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	hash := "blake3:dedup"
	first := models.Asset{ID: uuid.NewString(), Hash: &hash, SizeBytes: 1}
	second := models.Asset{ID: uuid.NewString(), Hash: &hash, SizeBytes: 1}

	require.NoError(t, st.InsertAssetsIgnoreConflicts(ctx, []models.Asset{first}))
	require.NoError(t, st.InsertAssetsIgnoreConflicts(ctx, []models.Asset{second}))

	found, err := st.ExistingAssetIDs(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	assert.Contains(t, found, first.ID)
	assert.NotContains(t, found, second.ID, "conflicting insert must be dropped")
}

func TestDeleteAssetsCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	assetID, refID := seedReference(t, st, "a", "/data/cascade.bin", "", nil)
	require.NoError(t, st.EnsureTags(ctx, []string{"models"}, "user"))
	_, _, err := st.AddReferenceTags(ctx, refID, []string{"models"}, models.TagOriginAutomatic)
	require.NoError(t, err)
	require.NoError(t, st.SetReferenceMetadata(ctx, refID, map[string]any{"filename": "a"}))

	n, err := st.DeleteAssetsByID(ctx, []string{assetID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = st.GetReference(ctx, refID)
	assert.Error(t, err, "references must go with their asset")
}

func TestListReferencesOwnerVisibility(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedReference(t, st, "public", "/data/pub.bin", "", nil)
	seedReference(t, st, "mine", "/data/mine.bin", "alice", nil)
	seedReference(t, st, "theirs", "/data/theirs.bin", "bob", nil)

	refs, _, total, err := st.ListReferences(ctx, ListOptions{OwnerID: "alice"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"public", "mine"}, names)
}

func TestListReferencesNameFilterEscapesWildcards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedReference(t, st, "50%_off.bin", "/data/p1.bin", "", nil)
	seedReference(t, st, "plain.bin", "/data/p2.bin", "", nil)

	refs, _, _, err := st.ListReferences(ctx, ListOptions{NameContains: "50%_"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "50%_off.bin", refs[0].Name)
}

func TestListReferencesTagFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, r1 := seedReference(t, st, "ckpt", "/data/t1.bin", "", nil)
	_, r2 := seedReference(t, st, "lora", "/data/t2.bin", "", nil)

	require.NoError(t, st.EnsureTags(ctx, []string{"models", "checkpoints", "loras"}, "user"))
	_, _, err := st.AddReferenceTags(ctx, r1, []string{"models", "checkpoints"}, models.TagOriginAutomatic)
	require.NoError(t, err)
	_, _, err = st.AddReferenceTags(ctx, r2, []string{"models", "loras"}, models.TagOriginAutomatic)
	require.NoError(t, err)

	refs, tagMap, _, err := st.ListReferences(ctx, ListOptions{IncludeTags: []string{"checkpoints"}})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "ckpt", refs[0].Name)
	assert.Equal(t, []string{"models", "checkpoints"}, tagMap[refs[0].ID])

	refs, _, _, err = st.ListReferences(ctx, ListOptions{
		IncludeTags: []string{"models"},
		ExcludeTags: []string{"checkpoints"},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "lora", refs[0].Name)
}

func TestListReferencesMetadataFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, r1 := seedReference(t, st, "sdxl", "/data/m1.bin", "", nil)
	_, r2 := seedReference(t, st, "sd15", "/data/m2.bin", "", nil)

	require.NoError(t, st.SetReferenceMetadata(ctx, r1, map[string]any{
		"base_model": "sdxl", "content_length": 1024, "has_preview_images": true,
	}))
	require.NoError(t, st.SetReferenceMetadata(ctx, r2, map[string]any{
		"base_model": "sd15", "content_length": 2048,
	}))

	refs, _, _, err := st.ListReferences(ctx, ListOptions{
		MetadataFilter: map[string]any{"base_model": "sdxl"},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "sdxl", refs[0].Name)

	refs, _, _, err = st.ListReferences(ctx, ListOptions{
		MetadataFilter: map[string]any{"content_length": 2048},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "sd15", refs[0].Name)

	refs, _, _, err = st.ListReferences(ctx, ListOptions{
		MetadataFilter: map[string]any{"has_preview_images": true},
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "sdxl", refs[0].Name)
}

func TestListReferencesSortBySize(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	small := &models.Asset{ID: uuid.NewString(), SizeBytes: 10}
	large := &models.Asset{ID: uuid.NewString(), SizeBytes: 1000}
	require.NoError(t, st.CreateAsset(ctx, small))
	require.NoError(t, st.CreateAsset(ctx, large))
	require.NoError(t, st.CreateReference(ctx, &models.Reference{
		ID: uuid.NewString(), AssetID: small.ID, Name: "small", FilePath: strptr("/data/s.bin"),
	}))
	require.NoError(t, st.CreateReference(ctx, &models.Reference{
		ID: uuid.NewString(), AssetID: large.ID, Name: "large", FilePath: strptr("/data/l.bin"),
	}))

	refs, _, _, err := st.ListReferences(ctx, ListOptions{Sort: "size", Order: "desc"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "large", refs[0].Name)
}

func TestSetReferenceTags(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, refID := seedReference(t, st, "tagged", "/data/tags.bin", "", nil)

	added, removed, err := st.SetReferenceTags(ctx, refID, []string{"One", "two"}, models.TagOriginManual)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, added)
	assert.Empty(t, removed)

	added, removed, err = st.SetReferenceTags(ctx, refID, []string{"two", "three"}, models.TagOriginManual)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"three"}, added)
	assert.ElementsMatch(t, []string{"one"}, removed)

	tags, err := st.ReferenceTags(ctx, refID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"two", "three"}, tags)
}

func TestListTagsWithUsage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, r1 := seedReference(t, st, "a", "/data/u1.bin", "", nil)
	_, r2 := seedReference(t, st, "b", "/data/u2.bin", "", nil)

	require.NoError(t, st.EnsureTags(ctx, []string{"models", "loras", "unused"}, "user"))
	_, _, err := st.AddReferenceTags(ctx, r1, []string{"models", "loras"}, models.TagOriginAutomatic)
	require.NoError(t, err)
	_, _, err = st.AddReferenceTags(ctx, r2, []string{"models"}, models.TagOriginAutomatic)
	require.NoError(t, err)

	usage, total, err := st.ListTagsWithUsage(ctx, TagListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total, "zero-usage tags hidden by default")
	require.Len(t, usage, 2)
	assert.Equal(t, "models", usage[0].Name)
	assert.EqualValues(t, 2, usage[0].Count)

	usage, total, err = st.ListTagsWithUsage(ctx, TagListOptions{IncludeZero: true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	_ = usage
}

func TestRestoreReferencesByPaths(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, refID := seedReference(t, st, "r", "/data/restore.bin", "", nil)

	n, err := st.SetIsMissing(ctx, []string{refID}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = st.RestoreReferencesByPaths(ctx, []string{"/data/restore.bin"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ref, err := st.GetReference(ctx, refID)
	require.NoError(t, err)
	assert.False(t, ref.IsMissing)
}

func TestRaiseEnrichmentLevelIsMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, refID := seedReference(t, st, "e", "/data/enrich.bin", "", nil)

	require.NoError(t, st.RaiseEnrichmentLevel(ctx, refID, models.EnrichmentHashed))
	require.NoError(t, st.RaiseEnrichmentLevel(ctx, refID, models.EnrichmentMetadata))

	ref, err := st.GetReference(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentHashed, ref.EnrichmentLevel, "levels never go down")
}

func TestUnreferencedStubAssetIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	orphanID, refID := seedReference(t, st, "orphan", "/data/orphan.bin", "", nil)
	keptID, _ := seedReference(t, st, "kept", "/data/kept.bin", "", nil)
	hash := "blake3:keepme"
	hashedID, hr := seedReference(t, st, "hashed", "/data/hashed.bin", "", &hash)

	_, err := st.SetIsMissing(ctx, []string{refID, hr}, true)
	require.NoError(t, err)

	ids, err := st.UnreferencedStubAssetIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, orphanID)
	assert.NotContains(t, ids, keptID, "live reference keeps the stub")
	assert.NotContains(t, ids, hashedID, "hashed assets are never garbage")
}
