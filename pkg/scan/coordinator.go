package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
)

// ErrScanActive is returned when a scan is requested while another one is
// still running.
var ErrScanActive = errors.New("a scan is already running")

// ScanState is the coordinator's observable lifecycle state.
type ScanState string

const (
	StateIdle       ScanState = "idle"
	StateRunning    ScanState = "running"
	StateCancelling ScanState = "cancelling"
)

// ScanOptions selects the roots and stages of one scan pass.
type ScanOptions struct {
	Roots           []Root
	ExtractMetadata bool
	ComputeHashes   bool
	EnrichLimit     int
}

// ScanStatus is a point-in-time snapshot of the coordinator.
type ScanStatus struct {
	State     ScanState `json:"state"`
	Roots     []Root    `json:"roots,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	SeededRefs   int `json:"seeded_refs"`
	EnrichedRefs int `json:"enriched_refs"`
	FailedRefs   int `json:"failed_refs"`
}

// Coordinator serializes scan execution: at most one scan pass runs per
// process, cancellable between roots, with an observable status.
type Coordinator struct {
	store      store.AssetStore
	walk       *Walker
	reconciler *Reconciler
	builder    *SpecBuilder
	ingestor   *Ingestor
	enricher   *Enricher
	log        log.LoggerService

	mutex  sync.Mutex
	state  ScanState
	status ScanStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(st store.AssetStore, walk *Walker, reconciler *Reconciler,
	builder *SpecBuilder, ingestor *Ingestor, enricher *Enricher, logger log.LoggerService) *Coordinator {

	return &Coordinator{
		store:      st,
		walk:       walk,
		reconciler: reconciler,
		builder:    builder,
		ingestor:   ingestor,
		enricher:   enricher,
		log:        logger,
		state:      StateIdle,
	}
}

// Start launches a scan pass in the background. Only one pass may run at a
// time; a second Start while running fails with ErrScanActive.
func (c *Coordinator) Start(ctx context.Context, opts ScanOptions) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StateIdle {
		return ErrScanActive
	}

	if len(opts.Roots) == 0 {
		opts.Roots = AllRoots
	}

	scanCtx, cancel := context.WithCancel(ctx)
	c.state = StateRunning
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = ScanStatus{
		State:     StateRunning,
		Roots:     opts.Roots,
		StartedAt: time.Now(),
	}

	go func() {
		defer cancel()
		defer c.finish()
		c.run(scanCtx, opts)
	}()

	return nil
}

// Cancel requests that the running pass stop after the current root. A
// root's transaction always completes atomically.
func (c *Coordinator) Cancel() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != StateRunning {
		return
	}
	c.state = StateCancelling
	c.status.State = StateCancelling
	c.cancel()
}

// Status returns a snapshot of the coordinator state.
func (c *Coordinator) Status() ScanStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	status := c.status
	status.State = c.state
	status.Roots = append([]Root(nil), c.status.Roots...)
	return status
}

// Wait blocks until the current pass (if any) has finished.
func (c *Coordinator) Wait() {
	c.mutex.Lock()
	done := c.done
	c.mutex.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Coordinator) finish() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.state = StateIdle
	c.status.State = StateIdle
	close(c.done)
}

func (c *Coordinator) addProgress(seeded, enriched, failed int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status.SeededRefs += seeded
	c.status.EnrichedRefs += enriched
	c.status.FailedRefs += failed
}

// run executes one full pass: per root, reconcile then seed; afterwards an
// optional bounded enrichment pass. Cancellation is honored between roots.
func (c *Coordinator) run(ctx context.Context, opts ScanOptions) {
	started := time.Now()

	if err := c.store.Health(ctx); err != nil {
		c.log.Warn("Storage backend unavailable, skipping scan: %v", err)
		return
	}

	for _, root := range opts.Roots {
		if ctx.Err() != nil {
			c.log.Info("Scan cancelled before root '%s'", root)
			return
		}

		survivors := c.reconciler.SyncRootSafely(ctx, root)
		paths := c.walk.CollectPaths(root)

		specs, skipped := c.builder.BuildSpecs(ctx, paths, survivors, BuildOptions{
			ExtractMetadata: opts.ExtractMetadata,
			ComputeHashes:   opts.ComputeHashes,
		})

		result, err := c.ingestor.InsertBatch(ctx, specs, "")
		if err != nil {
			c.log.Warn("Seeding failed for root '%s': %v", root, err)
			continue
		}
		c.addProgress(result.InsertedRefs, 0, 0)

		c.log.Info("Scanned root '%s': %d seen, %d skipped, %d seeded, %d lost races",
			root, len(paths), skipped, result.InsertedRefs, result.LostPaths)
	}

	if ctx.Err() == nil && (opts.ExtractMetadata || opts.ComputeHashes) {
		rows, err := c.enricher.SelectWork(ctx, opts.Roots, c.enrichCeiling(opts), opts.EnrichLimit)
		if err != nil {
			c.log.Warn("Failed to select enrichment work: %v", err)
		} else if len(rows) > 0 {
			enriched, failed := c.enricher.EnrichBatch(ctx, rows, EnrichOptions{
				ExtractMetadata: opts.ExtractMetadata,
				ComputeHash:     opts.ComputeHashes,
			})
			c.addProgress(0, enriched, failed)
			c.log.Info("Enriched %d references (%d failed)", enriched, failed)
		}
	}

	c.log.Info("Scan completed in %.3fs", time.Since(started).Seconds())
}

// enrichCeiling picks the highest current level still worth selecting: with
// hashing enabled, metadata-level rows can be promoted further.
func (c *Coordinator) enrichCeiling(opts ScanOptions) int {
	if opts.ComputeHashes {
		return models.EnrichmentMetadata
	}
	return models.EnrichmentStub
}
