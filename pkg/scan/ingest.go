package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
	"golang.org/x/sync/errgroup"
)

// SeedSpec describes one filesystem file about to be seeded into the catalog.
type SeedSpec struct {
	AbsPath   string
	SizeBytes int64
	MtimeNS   int64
	Name      string
	Tags      []string
	RelName   string
	Metadata  *ExtractedMetadata
	Hash      *string
	MimeType  *string
}

// IngestResult summarizes one bulk insert pass.
type IngestResult struct {
	InsertedRefs int
	WonPaths     int
	LostPaths    int
}

// BuildOptions controls how much work the spec builder performs per file.
type BuildOptions struct {
	ExtractMetadata bool
	ComputeHashes   bool
}

// SpecBuilder turns walked paths into seed specs, doing the per-file stat,
// extraction and optional hashing work in parallel.
type SpecBuilder struct {
	walk      *Walker
	extractor Extractor
	hasher    Hasher
	log       log.LoggerService
}

func NewSpecBuilder(walk *Walker, extractor Extractor, hasher Hasher, logger log.LoggerService) *SpecBuilder {
	return &SpecBuilder{
		walk:      walk,
		extractor: extractor,
		hasher:    hasher,
		log:       logger,
	}
}

// BuildSpecs builds seed specs for every path not already tracked, returning
// the specs in input order plus the number of skipped (already known) paths.
// Per-file failures drop the file; they never abort the batch.
func (b *SpecBuilder) BuildSpecs(ctx context.Context, paths []string, existing map[string]struct{}, opts BuildOptions) ([]SeedSpec, int) {
	var candidates []string
	skipped := 0
	for _, p := range paths {
		if _, ok := existing[p]; ok {
			skipped++
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, skipped
	}

	results := make([]*SeedSpec, len(candidates))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, path := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := os.Lstat(path)
			if err != nil || info.Size() == 0 {
				return nil
			}

			name, tags, err := b.walk.NameAndTags(path)
			if err != nil {
				b.log.Debug("Skipping %s: %v", path, err)
				return nil
			}

			spec := &SeedSpec{
				AbsPath:   path,
				SizeBytes: info.Size(),
				MtimeNS:   info.ModTime().UnixNano(),
				Name:      name,
				Tags:      tags,
				RelName:   b.walk.RelativeFilename(path),
			}

			if opts.ExtractMetadata {
				spec.Metadata = b.extractor.Extract(path, info.Size(), spec.RelName)
				if spec.Metadata != nil && spec.Metadata.ContentType != "" {
					ct := spec.Metadata.ContentType
					spec.MimeType = &ct
				}
			}
			if opts.ComputeHashes {
				digest, err := b.hasher.Hash(path)
				if err != nil {
					b.log.Warn("Failed to hash %s: %v", path, err)
				} else {
					spec.Hash = &digest
				}
			}

			mu.Lock()
			results[i] = spec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.log.Debug("Spec building interrupted: %v", err)
	}

	specs := make([]SeedSpec, 0, len(results))
	for _, spec := range results {
		if spec != nil {
			specs = append(specs, *spec)
		}
	}
	return specs, skipped
}

// Ingestor seeds new filesystem paths into the catalog in bulk. Concurrent
// seeders racing for the same path or content resolve through the database:
// each seeder claims rows with conflict-ignoring inserts, checks which claims
// stuck, and retracts the assets it lost.
type Ingestor struct {
	store store.AssetStore
	log   log.LoggerService
}

func NewIngestor(st store.AssetStore, logger log.LoggerService) *Ingestor {
	return &Ingestor{
		store: st,
		log:   logger,
	}
}

// refSeed carries the per-spec data needed after the insert race settles.
type refSeed struct {
	referenceID string
	tags        []string
	relName     string
	metadata    *ExtractedMetadata
}

// InsertBatch seeds the given specs under one owner inside a single
// transaction.
func (i *Ingestor) InsertBatch(ctx context.Context, specs []SeedSpec, ownerID string) (IngestResult, error) {
	var result IngestResult
	if len(specs) == 0 {
		return result, nil
	}

	err := i.store.Transaction(ctx, func(tx store.AssetStore) error {
		now := time.Now().UTC()

		tagPool := make(map[string]struct{})
		for _, spec := range specs {
			for _, tag := range spec.Tags {
				tagPool[tag] = struct{}{}
			}
		}
		if len(tagPool) > 0 {
			names := make([]string, 0, len(tagPool))
			for name := range tagPool {
				names = append(names, name)
			}
			if err := tx.EnsureTags(ctx, names, "user"); err != nil {
				return fmt.Errorf("failed to ensure tags: %w", err)
			}
		}

		assets := make([]models.Asset, 0, len(specs))
		refs := make([]models.Reference, 0, len(specs))
		pathToAsset := make(map[string]string, len(specs))
		seedByAsset := make(map[string]refSeed, len(specs))
		allPaths := make([]string, 0, len(specs))

		for _, spec := range specs {
			assetID := uuid.NewString()
			referenceID := uuid.NewString()
			path := spec.AbsPath
			allPaths = append(allPaths, path)
			pathToAsset[path] = assetID

			assets = append(assets, models.Asset{
				ID:        assetID,
				Hash:      spec.Hash,
				SizeBytes: spec.SizeBytes,
				MimeType:  spec.MimeType,
				CreatedAt: now,
			})

			var doc map[string]any
			if spec.Metadata != nil {
				doc = spec.Metadata.UserDocument()
			} else if spec.RelName != "" {
				doc = map[string]any{"filename": spec.RelName}
			}
			var userMetadata []byte
			if doc != nil {
				raw, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("failed to marshal metadata for %s: %w", path, err)
				}
				userMetadata = raw
			}

			filePath := path
			mtime := spec.MtimeNS
			refs = append(refs, models.Reference{
				ID:             referenceID,
				AssetID:        assetID,
				FilePath:       &filePath,
				MtimeNS:        &mtime,
				OwnerID:        ownerID,
				Name:           spec.Name,
				UserMetadata:   userMetadata,
				CreatedAt:      now,
				UpdatedAt:      now,
				LastAccessTime: now,
			})

			seedByAsset[assetID] = refSeed{
				referenceID: referenceID,
				tags:        spec.Tags,
				relName:     spec.RelName,
				metadata:    spec.Metadata,
			}
		}

		if err := tx.InsertAssetsIgnoreConflicts(ctx, assets); err != nil {
			return fmt.Errorf("failed to insert assets: %w", err)
		}

		// Pre-hashed specs can collide on content; only references whose
		// asset row actually landed may claim their path.
		assetIDs := make([]string, 0, len(refs))
		for _, ref := range refs {
			assetIDs = append(assetIDs, ref.AssetID)
		}
		insertedAssets, err := tx.ExistingAssetIDs(ctx, assetIDs)
		if err != nil {
			return fmt.Errorf("failed to check inserted assets: %w", err)
		}
		claimable := refs[:0]
		for _, ref := range refs {
			if _, ok := insertedAssets[ref.AssetID]; ok {
				claimable = append(claimable, ref)
			}
		}

		if err := tx.InsertReferencesIgnoreConflicts(ctx, claimable); err != nil {
			return fmt.Errorf("failed to insert references: %w", err)
		}
		if _, err := tx.RestoreReferencesByPaths(ctx, allPaths); err != nil {
			return fmt.Errorf("failed to restore references: %w", err)
		}

		winners, err := tx.WinningPaths(ctx, pathToAsset)
		if err != nil {
			return fmt.Errorf("failed to resolve winning paths: %w", err)
		}

		var lostAssets []string
		for _, path := range allPaths {
			if _, ok := winners[path]; !ok {
				lostAssets = append(lostAssets, pathToAsset[path])
			}
		}
		if len(lostAssets) > 0 {
			if _, err := tx.DeleteAssetsByID(ctx, lostAssets); err != nil {
				return fmt.Errorf("failed to retract lost assets: %w", err)
			}
		}

		result.WonPaths = len(winners)
		result.LostPaths = len(lostAssets)
		if len(winners) == 0 {
			return nil
		}

		winningRefIDs := make([]string, 0, len(winners))
		for path := range winners {
			winningRefIDs = append(winningRefIDs, seedByAsset[pathToAsset[path]].referenceID)
		}
		insertedRefs, err := tx.ExistingReferenceIDs(ctx, winningRefIDs)
		if err != nil {
			return fmt.Errorf("failed to check inserted references: %w", err)
		}
		result.InsertedRefs = len(insertedRefs)

		var tagLinks []models.ReferenceTag
		var metaRows []models.ReferenceMeta
		for path := range winners {
			seed := seedByAsset[pathToAsset[path]]
			if _, ok := insertedRefs[seed.referenceID]; !ok {
				// Path won via a revived pre-existing row; its tags and
				// metadata are already in place.
				continue
			}
			for _, tag := range seed.tags {
				tagLinks = append(tagLinks, models.ReferenceTag{
					ReferenceID: seed.referenceID,
					TagName:     tag,
					Origin:      models.TagOriginAutomatic,
					AddedAt:     now,
				})
			}
			if seed.metadata != nil {
				metaRows = append(metaRows, store.MetadataToRows(seed.referenceID, seed.metadata.UserDocument())...)
			} else if seed.relName != "" {
				name := seed.relName
				metaRows = append(metaRows, models.ReferenceMeta{
					ReferenceID: seed.referenceID,
					Key:         "filename",
					Ordinal:     0,
					ValStr:      &name,
				})
			}
		}

		if err := tx.InsertTagLinksIgnoreConflicts(ctx, tagLinks); err != nil {
			return fmt.Errorf("failed to insert tag links: %w", err)
		}
		if err := tx.InsertMetaRowsIgnoreConflicts(ctx, metaRows); err != nil {
			return fmt.Errorf("failed to insert metadata rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to seed batch: %w", err)
	}

	return result, nil
}

// CleanupUnreferencedAssets hard-deletes stub assets whose references are all
// gone or missing. Explicit maintenance, never run automatically.
func (i *Ingestor) CleanupUnreferencedAssets(ctx context.Context) (int64, error) {
	ids, err := i.store.UnreferencedStubAssetIDs(ctx)
	if err != nil {
		return 0, err
	}
	return i.store.DeleteAssetsByID(ctx, ids)
}
