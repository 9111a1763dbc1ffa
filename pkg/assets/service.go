package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
	"gorm.io/gorm"
)

// Service is the management surface over the asset catalog: reference CRUD,
// listing, tagging and content-addressed registration. The scanning side
// lives in pkg/scan; both share the same store.
type Service struct {
	store store.AssetStore
	log   log.LoggerService
}

func NewService(st store.AssetStore, logger log.LoggerService) *Service {
	return &Service{
		store: st,
		log:   logger,
	}
}

// Detail is a reference joined with its asset and tags.
type Detail struct {
	Reference models.Reference `json:"reference"`
	Asset     models.Asset     `json:"asset"`
	Tags      []string         `json:"tags"`
}

// ListResult is one page of a reference listing.
type ListResult struct {
	Items []Detail `json:"items"`
	Total int64    `json:"total"`
}

// UpdateRequest carries the mutable fields of a reference. Nil fields are
// left untouched.
type UpdateRequest struct {
	Name     *string
	Tags     []string
	Metadata map[string]any
}

// TagChange reports the outcome of a tag mutation.
type TagChange struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
	Total     []string `json:"total"`
}

func (s *Service) getOwned(ctx context.Context, tx store.AssetStore, id, ownerID string) (*models.Reference, error) {
	ref, err := tx.GetReference(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference: %w", err)
	}
	if ref.OwnerID != "" && ref.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return ref, nil
}

func (s *Service) detail(ctx context.Context, tx store.AssetStore, ref *models.Reference) (*Detail, error) {
	asset, err := tx.GetAsset(ctx, ref.AssetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}
	tags, err := tx.ReferenceTags(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	return &Detail{Reference: *ref, Asset: *asset, Tags: tags}, nil
}

// Get returns a reference visible to the caller and bumps its access time.
// Invisible references read as not found.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Detail, error) {
	ref, err := s.getOwned(ctx, s.store, id, ownerID)
	if errors.Is(err, ErrNotOwner) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchReferenceAccess(ctx, ref.ID); err != nil {
		s.log.Warn("Failed to touch access time for %s: %v", ref.ID, err)
	}
	return s.detail(ctx, s.store, ref)
}

// List returns a filtered, sorted page of references visible to the caller.
func (s *Service) List(ctx context.Context, opts store.ListOptions) (*ListResult, error) {
	refs, tagMap, total, err := s.store.ListReferences(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	// Assets repeat across references; cache per page.
	assetCache := make(map[string]*models.Asset, len(refs))
	items := make([]Detail, 0, len(refs))
	for _, ref := range refs {
		asset, ok := assetCache[ref.AssetID]
		if !ok {
			asset, err = s.store.GetAsset(ctx, ref.AssetID)
			if err != nil {
				return nil, fmt.Errorf("failed to load asset: %w", err)
			}
			assetCache[ref.AssetID] = asset
		}
		items = append(items, Detail{
			Reference: ref,
			Asset:     *asset,
			Tags:      tagMap[ref.ID],
		})
	}

	return &ListResult{Items: items, Total: total}, nil
}

// Update applies the given changes to a reference owned by the caller.
func (s *Service) Update(ctx context.Context, id, ownerID string, req UpdateRequest) (*Detail, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}

	var result *Detail
	err := s.store.Transaction(ctx, func(tx store.AssetStore) error {
		ref, err := s.getOwned(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}

		if req.Name != nil {
			if err := tx.UpdateReferenceName(ctx, ref.ID, strings.TrimSpace(*req.Name)); err != nil {
				return fmt.Errorf("failed to rename reference: %w", err)
			}
		}
		if req.Tags != nil {
			if _, _, err := tx.SetReferenceTags(ctx, ref.ID, req.Tags, models.TagOriginManual); err != nil {
				return fmt.Errorf("failed to set tags: %w", err)
			}
		}
		if req.Metadata != nil {
			if err := tx.SetReferenceMetadata(ctx, ref.ID, req.Metadata); err != nil {
				return fmt.Errorf("failed to set metadata: %w", err)
			}
		}

		ref, err = tx.GetReference(ctx, ref.ID)
		if err != nil {
			return err
		}
		result, err = s.detail(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a reference owned by the caller. When the reference was the
// last one pointing at an unhashed stub asset, the asset goes with it;
// hashed assets stay until deleted explicitly.
func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	return s.store.Transaction(ctx, func(tx store.AssetStore) error {
		ref, err := s.getOwned(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}

		assetID := ref.AssetID
		if _, err := tx.DeleteReferencesByID(ctx, []string{ref.ID}); err != nil {
			return fmt.Errorf("failed to delete reference: %w", err)
		}

		asset, err := tx.GetAsset(ctx, assetID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !asset.IsStub() {
			return nil
		}
		inUse, err := tx.ReferenceExistsForAsset(ctx, assetID)
		if err != nil {
			return err
		}
		if !inUse {
			if _, err := tx.DeleteAssetsByID(ctx, []string{assetID}); err != nil {
				return fmt.Errorf("failed to delete orphaned stub asset: %w", err)
			}
		}
		return nil
	})
}

// SetPreview points a reference at a preview asset. The preview is an asset
// id, not a reference id, so owner visibility does not constrain it.
func (s *Service) SetPreview(ctx context.Context, id, ownerID string, previewID *string) (*Detail, error) {
	var result *Detail
	err := s.store.Transaction(ctx, func(tx store.AssetStore) error {
		ref, err := s.getOwned(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}

		if previewID != nil {
			if _, err := tx.GetAsset(ctx, *previewID); errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: preview asset does not exist", ErrValidation)
			} else if err != nil {
				return err
			}
		}
		if err := tx.SetReferencePreview(ctx, ref.ID, previewID); err != nil {
			return fmt.Errorf("failed to set preview: %w", err)
		}

		ref, err = tx.GetReference(ctx, ref.ID)
		if err != nil {
			return err
		}
		result, err = s.detail(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddTags attaches manual tags to a reference owned by the caller.
func (s *Service) AddTags(ctx context.Context, id, ownerID string, tags []string) (*TagChange, error) {
	if len(models.NormalizeTags(tags)) == 0 {
		return nil, fmt.Errorf("%w: no usable tags given", ErrValidation)
	}

	var change TagChange
	err := s.store.Transaction(ctx, func(tx store.AssetStore) error {
		ref, err := s.getOwned(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}
		added, present, err := tx.AddReferenceTags(ctx, ref.ID, tags, models.TagOriginManual)
		if err != nil {
			return fmt.Errorf("failed to add tags: %w", err)
		}
		total, err := tx.ReferenceTags(ctx, ref.ID)
		if err != nil {
			return err
		}
		change = TagChange{Changed: added, Unchanged: present, Total: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

// RemoveTags detaches tags from a reference owned by the caller.
func (s *Service) RemoveTags(ctx context.Context, id, ownerID string, tags []string) (*TagChange, error) {
	if len(models.NormalizeTags(tags)) == 0 {
		return nil, fmt.Errorf("%w: no usable tags given", ErrValidation)
	}

	var change TagChange
	err := s.store.Transaction(ctx, func(tx store.AssetStore) error {
		ref, err := s.getOwned(ctx, tx, id, ownerID)
		if err != nil {
			return err
		}
		removed, absent, err := tx.RemoveReferenceTags(ctx, ref.ID, tags)
		if err != nil {
			return fmt.Errorf("failed to remove tags: %w", err)
		}
		total, err := tx.ReferenceTags(ctx, ref.ID)
		if err != nil {
			return err
		}
		change = TagChange{Changed: removed, Unchanged: absent, Total: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

// ListTags returns tag usage counts.
func (s *Service) ListTags(ctx context.Context, opts store.TagListOptions) ([]store.TagUsage, int64, error) {
	return s.store.ListTagsWithUsage(ctx, opts)
}

// RegisterFromHash creates a reference for already-known content. A hash
// collision on direct insert is not an error here; the existing asset is
// looked up and reused.
func (s *Service) RegisterFromHash(ctx context.Context, hash, name, ownerID string, tags []string) (*Detail, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("%w: hash must not be empty", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}

	var result *Detail
	err := s.store.Transaction(ctx, func(tx store.AssetStore) error {
		asset, err := tx.GetAssetByHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("failed to look up hash: %w", err)
		}
		if asset == nil {
			return fmt.Errorf("%w: no asset with hash %s", ErrNotFound, hash)
		}

		now := time.Now().UTC()
		doc, err := json.Marshal(map[string]any{"filename": name})
		if err != nil {
			return err
		}
		ref := &models.Reference{
			ID:              uuid.NewString(),
			AssetID:         asset.ID,
			OwnerID:         ownerID,
			Name:            strings.TrimSpace(name),
			EnrichmentLevel: models.EnrichmentHashed,
			UserMetadata:    doc,
			CreatedAt:       now,
			UpdatedAt:       now,
			LastAccessTime:  now,
		}
		if err := tx.CreateReference(ctx, ref); err != nil {
			return fmt.Errorf("failed to create reference: %w", err)
		}
		if normalized := models.NormalizeTags(tags); len(normalized) > 0 {
			if _, _, err := tx.AddReferenceTags(ctx, ref.ID, normalized, models.TagOriginManual); err != nil {
				return fmt.Errorf("failed to tag reference: %w", err)
			}
		}

		result, err = s.detail(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AssetExists reports whether content with the given hash is known.
func (s *Service) AssetExists(ctx context.Context, hash string) (bool, error) {
	return s.store.AssetExistsByHash(ctx, hash)
}

// ResolveForDownload returns the on-disk location, content type and download
// name for a reference, refusing soft-deleted or API-only rows.
func (s *Service) ResolveForDownload(ctx context.Context, id, ownerID string) (string, string, string, error) {
	ref, err := s.getOwned(ctx, s.store, id, ownerID)
	if errors.Is(err, ErrNotOwner) {
		return "", "", "", ErrNotFound
	}
	if err != nil {
		return "", "", "", err
	}
	if ref.FilePath == nil || ref.IsMissing {
		return "", "", "", fmt.Errorf("%w: no file available for reference %s", ErrNotFound, id)
	}

	asset, err := s.store.GetAsset(ctx, ref.AssetID)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to load asset: %w", err)
	}
	contentType := "application/octet-stream"
	if asset.MimeType != nil && *asset.MimeType != "" {
		contentType = *asset.MimeType
	}

	if err := s.store.TouchReferenceAccess(ctx, ref.ID); err != nil {
		s.log.Warn("Failed to touch access time for %s: %v", ref.ID, err)
	}
	return *ref.FilePath, contentType, ref.Name, nil
}
