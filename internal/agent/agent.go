package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mwantia/fabric/pkg/container"
	config "github.com/mwantia/goassets/internal/config/server"
	"github.com/mwantia/goassets/pkg/assets"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
	"github.com/mwantia/goassets/pkg/scan"
	"gorm.io/gorm/logger"
)

// GoAssetsAgent is the long-running process: it owns the store, runs
// periodic scans and optionally rescans on filesystem events.
type GoAssetsAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	store       *store.SQLiteStore
	coordinator *scan.Coordinator
	walker      *scan.Walker
}

func NewAgent(cfg *config.BaseServerConfig) *GoAssetsAgent {
	return &GoAssetsAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("goassets", cfg.Log),
	}
}

func (gaa *GoAssetsAgent) setupServices() error {
	errs := container.Errors{}

	gaa.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](gaa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(gaa.log)))

	sqlLog := logger.Silent
	if gaa.cfg.Metadata.SQLite.LogSQL {
		sqlLog = logger.Info
	}
	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path:     gaa.cfg.Metadata.SQLite.Path,
		LogLevel: sqlLog,
	})
	if err != nil {
		return fmt.Errorf("failed to create asset store: %w", err)
	}
	gaa.store = st

	gaa.log.Debug("Registering 'AssetStore'...")
	errs.Add(container.Register[store.SQLiteStore](gaa.sc,
		container.With[store.AssetStore](),
		container.WithInstance(gaa.store)))

	gaa.walker = scan.NewWalker(gaa.cfg.Roots, gaa.log.Named("walker"))
	extractor := scan.NewFileExtractor(gaa.log.Named("extract"))
	hasher := scan.Blake3Hasher{}

	reconciler := scan.NewReconciler(st, gaa.walker, gaa.log.Named("reconcile"))
	builder := scan.NewSpecBuilder(gaa.walker, extractor, hasher, gaa.log.Named("seed"))
	ingestor := scan.NewIngestor(st, gaa.log.Named("seed"))
	enricher := scan.NewEnricher(st, gaa.walker, extractor, hasher, gaa.log.Named("enrich"))

	gaa.coordinator = scan.NewCoordinator(st, gaa.walker, reconciler,
		builder, ingestor, enricher, gaa.log.Named("scan"))

	service := assets.NewService(st, gaa.log.Named("assets"))

	gaa.log.Debug("Registering 'AssetService'...")
	errs.Add(container.Register[assets.Service](gaa.sc,
		container.WithInstance(service)))

	gaa.log.Debug("Registering 'ScanCoordinator'...")
	errs.Add(container.Register[scan.Coordinator](gaa.sc,
		container.WithInstance(gaa.coordinator)))

	return errs.Errors()
}

func (gaa *GoAssetsAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	gaa.mutex.Lock()

	if err := gaa.setupServices(); err != nil {
		gaa.mutex.Unlock()
		return err
	}

	if err := gaa.store.Connect(ctx); err != nil {
		gaa.mutex.Unlock()
		return fmt.Errorf("failed to connect to asset store: %w", err)
	}
	if err := gaa.store.Migrate(ctx); err != nil {
		gaa.mutex.Unlock()
		return fmt.Errorf("failed to migrate asset store: %w", err)
	}

	gaa.startScanLoop(ctx)
	if gaa.cfg.Scan.Watch {
		if err := gaa.startWatcher(ctx); err != nil {
			gaa.log.Warn("Filesystem watcher disabled: %v", err)
		}
	}

	gaa.mutex.Unlock()
	<-ctx.Done()

	gaa.coordinator.Cancel()
	gaa.coordinator.Wait()

	timeout, err := time.ParseDuration(gaa.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := gaa.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	gaa.wait.Wait()
	return gaa.store.Close()
}

// triggerScan starts a full scan pass; a pass already in flight is left
// alone.
func (gaa *GoAssetsAgent) triggerScan(ctx context.Context) {
	err := gaa.coordinator.Start(ctx, scan.ScanOptions{
		Roots:           scan.AllRoots,
		ExtractMetadata: gaa.cfg.Scan.ExtractMetadata,
		ComputeHashes:   gaa.cfg.Scan.ComputeHashes,
		EnrichLimit:     gaa.cfg.Scan.EnrichLimit,
	})
	if err != nil && err != scan.ErrScanActive {
		gaa.log.Warn("Failed to start scan: %v", err)
	}
}

// startScanLoop runs the initial scan and, when an interval is configured,
// rescans periodically.
func (gaa *GoAssetsAgent) startScanLoop(ctx context.Context) {
	gaa.triggerScan(ctx)

	if gaa.cfg.Scan.Interval == "" {
		return
	}
	interval, err := time.ParseDuration(gaa.cfg.Scan.Interval)
	if err != nil || interval <= 0 {
		gaa.log.Warn("Invalid scan interval %q, periodic scans disabled", gaa.cfg.Scan.Interval)
		return
	}

	gaa.wait.Add(1)
	go func() {
		defer gaa.wait.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gaa.triggerScan(ctx)
			}
		}
	}()
}

// startWatcher rescans after filesystem activity under any root prefix,
// debounced so event bursts collapse into one pass.
func (gaa *GoAssetsAgent) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, prefix := range gaa.walker.AllPrefixes() {
		if err := watcher.Add(prefix); err != nil {
			gaa.log.Debug("Cannot watch %s: %v", prefix, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return fmt.Errorf("no watchable root directories")
	}

	debounce, err := time.ParseDuration(gaa.cfg.Scan.WatchDebounce)
	if err != nil || debounce <= 0 {
		debounce = 2 * time.Second
	}

	gaa.log.Info("Watching %d directories for changes", watched)

	gaa.wait.Add(1)
	go func() {
		defer gaa.wait.Done()
		defer watcher.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				gaa.log.Debug("Watcher error: %v", err)
			case <-timerC:
				timer = nil
				timerC = nil
				gaa.triggerScan(ctx)
			}
		}
	}()

	return nil
}
