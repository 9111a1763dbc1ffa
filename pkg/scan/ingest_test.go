package scan

import (
	"context"
	"testing"

	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertBatchSeedsNewPaths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "models/checkpoints/a.safetensors", "weights")

	specs, skipped := env.builder().BuildSpecs(ctx, []string{path}, nil, BuildOptions{})
	require.Len(t, specs, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "a.safetensors", specs[0].Name)
	assert.Equal(t, []string{"models", "checkpoints"}, specs[0].Tags)

	result, err := env.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)
	assert.Equal(t, IngestResult{InsertedRefs: 1, WonPaths: 1, LostPaths: 0}, result)

	ref := referenceByPath(t, env, path)
	assert.Equal(t, "a.safetensors", ref.Name)
	assert.Equal(t, models.EnrichmentStub, ref.EnrichmentLevel)

	tags, err := env.store.ReferenceTags(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"models", "checkpoints"}, tags)
}

func TestInsertBatchSecondIngestLosesRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "models/checkpoints/a.safetensors", "weights")

	specs, _ := env.builder().BuildSpecs(ctx, []string{path}, nil, BuildOptions{})
	first, err := env.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)
	require.Equal(t, 1, first.WonPaths)

	winner := referenceByPath(t, env, path)

	// Identical batch with fresh ids races for the same path and must
	// retract cleanly.
	specs, _ = env.builder().BuildSpecs(ctx, []string{path}, nil, BuildOptions{})
	second, err := env.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)
	assert.Equal(t, IngestResult{InsertedRefs: 0, WonPaths: 0, LostPaths: 1}, second)

	after := referenceByPath(t, env, path)
	assert.Equal(t, winner.ID, after.ID, "original pair must be unchanged")
	assert.Equal(t, winner.AssetID, after.AssetID)

	// The losing asset must not linger as an orphan.
	ids, err := env.store.UnreferencedStubAssetIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertBatchRevivesSoftDeletedPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/revive.png", "data")
	env.seedRoot(t, RootInput, BuildOptions{})

	ref := referenceByPath(t, env, path)
	_, err := env.store.SetIsMissing(ctx, []string{ref.ID}, true)
	require.NoError(t, err)

	specs, _ := env.builder().BuildSpecs(ctx, []string{path}, nil, BuildOptions{})
	result, err := env.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)
	assert.Zero(t, result.InsertedRefs)
	assert.Equal(t, 1, result.LostPaths)

	revived := referenceByPath(t, env, path)
	assert.Equal(t, ref.ID, revived.ID)
	assert.False(t, revived.IsMissing, "reseeding a soft-deleted path revives it")
}

func TestInsertBatchStoresExtractedMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/doc.yaml", "key: value")

	specs, _ := env.builder().BuildSpecs(ctx, []string{path}, nil, BuildOptions{ExtractMetadata: true})
	require.Len(t, specs, 1)
	require.NotNil(t, specs[0].Metadata)
	assert.Equal(t, "application/yaml", specs[0].Metadata.ContentType)

	_, err := env.ingestor().InsertBatch(ctx, specs, "")
	require.NoError(t, err)

	ref := referenceByPath(t, env, path)
	assert.Contains(t, string(ref.UserMetadata), `"format":"yaml"`)

	asset, err := env.store.GetAsset(ctx, ref.AssetID)
	require.NoError(t, err)
	require.NotNil(t, asset.MimeType)
	assert.Equal(t, "application/yaml", *asset.MimeType)
}

func TestBuildSpecsSkipsKnownPaths(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	known := env.writeFile(t, "input/known.png", "x")
	fresh := env.writeFile(t, "input/fresh.png", "y")

	specs, skipped := env.builder().BuildSpecs(ctx,
		[]string{known, fresh},
		map[string]struct{}{known: {}},
		BuildOptions{})
	require.Len(t, specs, 1)
	assert.Equal(t, fresh, specs[0].AbsPath)
	assert.Equal(t, 1, skipped)
}

func TestCleanupUnreferencedAssets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, refID := seedRawReference(t, env, "/old/layout/file.bin")
	_, err := env.store.SetIsMissing(ctx, []string{refID}, true)
	require.NoError(t, err)

	count, err := env.ingestor().CleanupUnreferencedAssets(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
