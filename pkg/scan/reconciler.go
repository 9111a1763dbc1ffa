package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
)

// Reconciler synchronizes the reference catalog with the current state of
// the filesystem, one root at a time.
type Reconciler struct {
	store store.AssetStore
	walk  *Walker
	log   log.LoggerService
}

func NewReconciler(st store.AssetStore, walk *Walker, logger log.LoggerService) *Reconciler {
	return &Reconciler{
		store: st,
		walk:  walk,
		log:   logger,
	}
}

// pathState is the reconciliation verdict for a single reference row.
type pathState struct {
	row    store.CacheStateRow
	exists bool
	fastOK bool
}

// checkPath stats a tracked file and compares it against the recorded
// (mtime_ns, size) pair. Exact match passes the fast check; any drift fails
// it. Permission errors count as existing so the row is not soft-deleted.
func (r *Reconciler) checkPath(row store.CacheStateRow) pathState {
	st := pathState{row: row}

	info, err := os.Stat(row.FilePath)
	switch {
	case err == nil:
		st.exists = true
		st.fastOK = row.MtimeNS != nil &&
			*row.MtimeNS == info.ModTime().UnixNano() &&
			row.SizeBytes == info.Size()
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, fs.ErrPermission):
		r.log.Debug("Permission denied for %s, treating as present", row.FilePath)
		st.exists = true
	default:
		r.log.Debug("Stat failed for %s: %v", row.FilePath, err)
	}

	return st
}

// SyncRoot reconciles one root inside a single transaction and returns the
// set of paths that passed the fast check (the survivors, which the ingest
// pass must not re-seed). updateMissingTags additionally maintains the
// automatic "missing" tag on hashed assets.
func (r *Reconciler) SyncRoot(ctx context.Context, root Root, updateMissingTags bool) (map[string]struct{}, error) {
	prefixes := r.walk.PrefixesFor(root)
	survivors := make(map[string]struct{})

	err := r.store.Transaction(ctx, func(tx store.AssetStore) error {
		rows, err := tx.ReferencesForPrefixes(ctx, prefixes, updateMissingTags)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		// Rows arrive ordered by asset, so grouping is a single pass.
		var (
			toSetVerify   []string
			toClearVerify []string
			toMarkMissing []string
			toClearMiss   []string
			staleIDs      []string
			deadAssets    []string
		)
		stale := make(map[string]struct{})

		flush := func(group []pathState) {
			if len(group) == 0 {
				return
			}
			hashed := group[0].row.AssetHash != nil
			anyFastOK := false
			allMissing := true
			for _, st := range group {
				if st.exists {
					allMissing = false
				}
				if st.fastOK {
					anyFastOK = true
				}
			}

			for _, st := range group {
				switch {
				case !st.exists:
					if hashed && anyFastOK {
						// A sibling still verifies the content; the vanished
						// path is stale bookkeeping, not a lost asset.
						staleIDs = append(staleIDs, st.row.ReferenceID)
						stale[st.row.ReferenceID] = struct{}{}
					} else {
						toMarkMissing = append(toMarkMissing, st.row.ReferenceID)
					}
				case st.fastOK:
					if st.row.IsMissing {
						toClearMiss = append(toClearMiss, st.row.ReferenceID)
					}
					if st.row.NeedsVerify {
						toClearVerify = append(toClearVerify, st.row.ReferenceID)
					}
					survivors[st.row.FilePath] = struct{}{}
				default:
					if !st.row.NeedsVerify {
						toSetVerify = append(toSetVerify, st.row.ReferenceID)
					}
					survivors[st.row.FilePath] = struct{}{}
				}
			}

			assetID := group[0].row.AssetID
			if !hashed {
				if allMissing {
					// Stub assets carry no recoverable content; a fully
					// vanished stub is garbage-collected instead of
					// soft-deleted.
					deadAssets = append(deadAssets, assetID)
				}
				return
			}
			if updateMissingTags {
				if anyFastOK {
					r.tagErr(tx.RemoveMissingTagForAsset(ctx, assetID))
				} else {
					r.tagErr(tx.AddMissingTagForAsset(ctx, assetID))
				}
			}
		}

		var group []pathState
		for _, row := range rows {
			if len(group) > 0 && group[0].row.AssetID != row.AssetID {
				flush(group)
				group = group[:0]
			}
			group = append(group, r.checkPath(row))
		}
		flush(group)

		if len(staleIDs) > 0 {
			if _, err := tx.DeleteReferencesByID(ctx, staleIDs); err != nil {
				return fmt.Errorf("failed to delete stale references: %w", err)
			}
		}
		if len(deadAssets) > 0 {
			if _, err := tx.DeleteAssetsByID(ctx, deadAssets); err != nil {
				return fmt.Errorf("failed to delete vanished stub assets: %w", err)
			}
		}

		// Stale rows were hard-deleted above; keep them out of the bulk flag
		// updates.
		toMarkMissing = dropIDs(toMarkMissing, stale)

		if _, err := tx.SetIsMissing(ctx, toMarkMissing, true); err != nil {
			return err
		}
		if _, err := tx.SetIsMissing(ctx, toClearMiss, false); err != nil {
			return err
		}
		if _, err := tx.SetNeedsVerify(ctx, toSetVerify, true); err != nil {
			return err
		}
		if _, err := tx.SetNeedsVerify(ctx, toClearVerify, false); err != nil {
			return err
		}

		if len(toMarkMissing) > 0 || len(staleIDs) > 0 || len(deadAssets) > 0 {
			r.log.Info("Reconciled root '%s': %d missing, %d stale, %d stub assets removed",
				root, len(toMarkMissing), len(staleIDs), len(deadAssets))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile root '%s': %w", root, err)
	}

	return survivors, nil
}

// SyncRootSafely reconciles a root and degrades to an empty survivor set on
// failure, so a broken reconcile pass never blocks ingestion.
func (r *Reconciler) SyncRootSafely(ctx context.Context, root Root) map[string]struct{} {
	survivors, err := r.SyncRoot(ctx, root, true)
	if err != nil {
		r.log.Warn("Reconcile pass failed for root '%s': %v", root, err)
		return map[string]struct{}{}
	}
	return survivors
}

// MarkMissingOutsideKnownPrefixes soft-deletes every reference whose path no
// longer belongs to any configured prefix, typically after a root was moved.
func (r *Reconciler) MarkMissingOutsideKnownPrefixes(ctx context.Context) (int64, error) {
	return r.store.MarkMissingOutsidePrefixes(ctx, r.walk.AllPrefixes())
}

func (r *Reconciler) tagErr(err error) {
	if err != nil {
		r.log.Warn("Failed to update missing tag: %v", err)
	}
}

func dropIDs(ids []string, drop map[string]struct{}) []string {
	if len(drop) == 0 {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
