package scan

import (
	"context"
	"fmt"
	"os"

	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
)

// EnrichOptions selects which enrichment stages run for a pass.
type EnrichOptions struct {
	ExtractMetadata bool
	ComputeHash     bool
}

// Enricher upgrades stub references through the metadata and hashing stages.
// The enrichment level of a reference only ever moves up; hashing doubles as
// the deduplication point, where duplicate content collapses onto one asset.
type Enricher struct {
	store     store.AssetStore
	walk      *Walker
	extractor Extractor
	hasher    Hasher
	log       log.LoggerService
}

func NewEnricher(st store.AssetStore, walk *Walker, extractor Extractor, hasher Hasher, logger log.LoggerService) *Enricher {
	return &Enricher{
		store:     st,
		walk:      walk,
		extractor: extractor,
		hasher:    hasher,
		log:       logger,
	}
}

// SelectWork returns up to limit references at or below maxLevel under the
// given roots, ordered by id so repeated passes walk the backlog
// deterministically.
func (e *Enricher) SelectWork(ctx context.Context, roots []Root, maxLevel, limit int) ([]store.UnenrichedRow, error) {
	var prefixes []string
	for _, root := range roots {
		prefixes = append(prefixes, e.walk.PrefixesFor(root)...)
	}
	return e.store.UnenrichedReferences(ctx, prefixes, maxLevel, limit)
}

// EnrichOne runs the requested stages against a single reference and returns
// the level achieved in this call. A file missing from disk leaves the
// reference at stub level without surfacing an error.
func (e *Enricher) EnrichOne(ctx context.Context, row store.UnenrichedRow, opts EnrichOptions) (int, error) {
	info, err := os.Stat(row.FilePath)
	if err != nil {
		e.log.Warn("Cannot enrich %s: %v", row.FilePath, err)
		return models.EnrichmentStub, nil
	}

	newLevel := models.EnrichmentStub

	err = e.store.Transaction(ctx, func(tx store.AssetStore) error {
		assetID := row.AssetID
		var contentType string

		if opts.ExtractMetadata {
			meta := e.extractor.Extract(row.FilePath, info.Size(), e.walk.RelativeFilename(row.FilePath))
			if meta != nil {
				if err := tx.SetReferenceMetadata(ctx, row.ReferenceID, meta.UserDocument()); err != nil {
					return fmt.Errorf("failed to store metadata: %w", err)
				}
				contentType = meta.ContentType
				if contentType != "" {
					if err := tx.SetAssetMimeType(ctx, assetID, contentType); err != nil {
						return fmt.Errorf("failed to store mime type: %w", err)
					}
				}
				newLevel = models.EnrichmentMetadata
			}
		}

		if opts.ComputeHash {
			digest, err := e.hasher.Hash(row.FilePath)
			if err != nil {
				e.log.Warn("Failed to hash %s: %v", row.FilePath, err)
			} else {
				survivor, err := e.applyHash(ctx, tx, row, digest, contentType)
				if err != nil {
					return err
				}
				assetID = survivor
				newLevel = models.EnrichmentHashed
			}
		}

		return tx.RaiseEnrichmentLevel(ctx, row.ReferenceID, newLevel)
	})
	if err != nil {
		return models.EnrichmentStub, fmt.Errorf("failed to enrich %s: %w", row.FilePath, err)
	}

	return newLevel, nil
}

// applyHash records a freshly computed digest. When another asset already
// carries the same hash, the reference is re-pointed onto it and the
// now-orphaned stub is deleted: deduplication wins over promotion.
func (e *Enricher) applyHash(ctx context.Context, tx store.AssetStore, row store.UnenrichedRow, digest, contentType string) (string, error) {
	existing, err := tx.GetAssetByHash(ctx, digest)
	if err != nil {
		return "", fmt.Errorf("failed to look up hash: %w", err)
	}

	if existing == nil || existing.ID == row.AssetID {
		if err := tx.SetAssetHash(ctx, row.AssetID, digest); err != nil {
			return "", fmt.Errorf("failed to store hash: %w", err)
		}
		return row.AssetID, nil
	}

	if err := tx.ReassignReference(ctx, row.ReferenceID, existing.ID); err != nil {
		return "", fmt.Errorf("failed to re-point reference: %w", err)
	}
	if _, err := tx.DeleteAssetsByID(ctx, []string{row.AssetID}); err != nil {
		return "", fmt.Errorf("failed to delete merged stub: %w", err)
	}
	if contentType != "" {
		if err := tx.SetAssetMimeType(ctx, existing.ID, contentType); err != nil {
			return "", fmt.Errorf("failed to store mime type: %w", err)
		}
	}
	e.log.Debug("Merged duplicate content at %s into asset %s", row.FilePath, existing.ID)
	return existing.ID, nil
}

// EnrichBatch applies EnrichOne to every row, isolating per-row failures.
// Rows that made no upward progress count as failed.
func (e *Enricher) EnrichBatch(ctx context.Context, rows []store.UnenrichedRow, opts EnrichOptions) (int, int) {
	enriched := 0
	failed := 0

	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		newLevel, err := e.EnrichOne(ctx, row, opts)
		if err != nil {
			e.log.Warn("Enrichment failed for %s: %v", row.FilePath, err)
			failed++
			continue
		}
		if newLevel > row.EnrichmentLevel {
			enriched++
		} else {
			failed++
		}
	}

	return enriched, failed
}
