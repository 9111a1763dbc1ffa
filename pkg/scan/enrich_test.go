package scan

import (
	"context"
	"os"
	"testing"

	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichPromotesToMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/img.yaml", "key: value")
	env.seedRoot(t, RootInput, BuildOptions{})

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	level, err := env.enricher().EnrichOne(ctx, rows[0], EnrichOptions{ExtractMetadata: true})
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentMetadata, level)

	ref := referenceByPath(t, env, path)
	assert.Equal(t, models.EnrichmentMetadata, ref.EnrichmentLevel)
	assert.Contains(t, string(ref.UserMetadata), "application/yaml")

	asset, err := env.store.GetAsset(ctx, ref.AssetID)
	require.NoError(t, err)
	require.NotNil(t, asset.MimeType)
	assert.Equal(t, "application/yaml", *asset.MimeType)
}

func TestEnrichPromotesToHashed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/data.bin", "unique-content")
	env.seedRoot(t, RootInput, BuildOptions{})

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	level, err := env.enricher().EnrichOne(ctx, rows[0], EnrichOptions{ExtractMetadata: true, ComputeHash: true})
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentHashed, level)

	ref := referenceByPath(t, env, path)
	assert.Equal(t, models.EnrichmentHashed, ref.EnrichmentLevel)

	asset, err := env.store.GetAsset(ctx, ref.AssetID)
	require.NoError(t, err)
	require.NotNil(t, asset.Hash)
	assert.Contains(t, *asset.Hash, "blake3:")
}

func TestEnrichMissingFileStaysStub(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/vanish.png", "data")
	env.seedRoot(t, RootInput, BuildOptions{})

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, os.Remove(path))

	level, err := env.enricher().EnrichOne(ctx, rows[0], EnrichOptions{ExtractMetadata: true, ComputeHash: true})
	require.NoError(t, err, "missing files never fail the caller")
	assert.Equal(t, models.EnrichmentStub, level)

	ref := referenceByPath(t, env, path)
	assert.Equal(t, models.EnrichmentStub, ref.EnrichmentLevel)
	asset, err := env.store.GetAsset(ctx, ref.AssetID)
	require.NoError(t, err)
	assert.Nil(t, asset.Hash, "no asset fields mutated")
}

func TestEnrichMergesDuplicateContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.writeFile(t, "input/one.bin", "same-content")
	second := env.writeFile(t, "input/two.bin", "same-content")
	env.seedRoot(t, RootInput, BuildOptions{})

	firstRef := referenceByPath(t, env, first)
	secondRef := referenceByPath(t, env, second)
	require.NotEqual(t, firstRef.AssetID, secondRef.AssetID)
	original := []string{firstRef.AssetID, secondRef.AssetID}

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	enriched, failed := env.enricher().EnrichBatch(ctx, rows, EnrichOptions{ComputeHash: true})
	assert.Equal(t, 2, enriched)
	assert.Zero(t, failed)

	firstRef = referenceByPath(t, env, first)
	secondRef = referenceByPath(t, env, second)
	assert.Equal(t, firstRef.AssetID, secondRef.AssetID, "duplicate content collapses onto one asset")
	assert.Contains(t, original, firstRef.AssetID)

	for _, id := range original {
		if id == firstRef.AssetID {
			continue
		}
		_, err = env.store.GetAsset(ctx, id)
		assert.Error(t, err, "merged stub asset must be gone")
	}

	survivor, err := env.store.GetAsset(ctx, firstRef.AssetID)
	require.NoError(t, err)
	require.NotNil(t, survivor.Hash)
}

func TestEnrichmentIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	path := env.writeFile(t, "input/mono.bin", "content")
	env.seedRoot(t, RootInput, BuildOptions{})

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentHashed, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	level, err := env.enricher().EnrichOne(ctx, rows[0], EnrichOptions{ExtractMetadata: true, ComputeHash: true})
	require.NoError(t, err)
	require.Equal(t, models.EnrichmentHashed, level)

	// A later metadata-only pass must not demote the reference.
	rows, err = env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentHashed, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, err = env.enricher().EnrichOne(ctx, rows[0], EnrichOptions{ExtractMetadata: true})
	require.NoError(t, err)

	ref := referenceByPath(t, env, path)
	assert.Equal(t, models.EnrichmentHashed, ref.EnrichmentLevel)
}

func TestSelectWorkSkipsMissingAndHonorsLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.writeFile(t, "input/a.bin", "a")
	env.writeFile(t, "input/b.bin", "b")
	env.writeFile(t, "input/c.bin", "c")
	env.seedRoot(t, RootInput, BuildOptions{})

	rows, err := env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	var all []store.UnenrichedRow
	all, err = env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = env.store.SetIsMissing(ctx, []string{all[0].ReferenceID}, true)
	require.NoError(t, err)

	rows, err = env.enricher().SelectWork(ctx, []Root{RootInput}, models.EnrichmentStub, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "missing references are not enrichment work")
}
