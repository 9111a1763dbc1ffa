package client

import (
	"fmt"

	"github.com/mwantia/goassets/pkg/scan"
	"github.com/spf13/cobra"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run catalog maintenance scans",
		Long:  "Run a filesystem scan, enrichment pass or soft-delete sweep against the catalog.",
	}

	cmd.AddCommand(NewScanRunCommand())
	cmd.AddCommand(NewScanSweepCommand())
	cmd.AddCommand(NewScanCleanupCommand())

	return cmd
}

func NewScanRunCommand() *cobra.Command {
	var (
		rootNames []string
		extract   bool
		hash      bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan roots and seed new files",
		Long:  "Reconciles the catalog against the filesystem and seeds newly found files, optionally enriching them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cfg, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			roots := scan.AllRoots
			if len(rootNames) > 0 {
				roots = roots[:0]
				for _, name := range rootNames {
					root, err := scan.ParseRoot(name)
					if err != nil {
						return err
					}
					roots = append(roots, root)
				}
			}

			walker := scan.NewWalker(cfg.Roots, logger.Named("walker"))
			extractor := scan.NewFileExtractor(logger.Named("extract"))
			hasher := scan.Blake3Hasher{}

			coordinator := scan.NewCoordinator(st, walker,
				scan.NewReconciler(st, walker, logger.Named("reconcile")),
				scan.NewSpecBuilder(walker, extractor, hasher, logger.Named("seed")),
				scan.NewIngestor(st, logger.Named("seed")),
				scan.NewEnricher(st, walker, extractor, hasher, logger.Named("enrich")),
				logger.Named("scan"))

			if err := coordinator.Start(ctx, scan.ScanOptions{
				Roots:           roots,
				ExtractMetadata: extract,
				ComputeHashes:   hash,
				EnrichLimit:     limit,
			}); err != nil {
				return err
			}
			coordinator.Wait()

			status := coordinator.Status()
			fmt.Printf("Seeded %d references, enriched %d (%d failed)\n",
				status.SeededRefs, status.EnrichedRefs, status.FailedRefs)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&rootNames, "root", nil, "roots to scan (models, input, output; default all)")
	cmd.Flags().BoolVar(&extract, "extract", true, "extract metadata while scanning")
	cmd.Flags().BoolVar(&hash, "hash", false, "compute content hashes (slow for large files)")
	cmd.Flags().IntVar(&limit, "enrich-limit", 1000, "maximum references enriched in this pass")

	return cmd
}

func NewScanSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Soft-delete references outside configured roots",
		Long:  "Marks every reference whose path lies outside all configured root prefixes as missing. Metadata is preserved.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cfg, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			walker := scan.NewWalker(cfg.Roots, logger.Named("walker"))
			reconciler := scan.NewReconciler(st, walker, logger.Named("reconcile"))

			count, err := reconciler.MarkMissingOutsideKnownPrefixes(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Marked %d references as missing\n", count)
			return nil
		},
	}

	return cmd
}

func NewScanCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Hard-delete orphaned stub assets",
		Long:  "Removes unhashed assets whose references are all gone or missing. Destructive, intended for explicit maintenance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, logger, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			ingestor := scan.NewIngestor(st, logger.Named("seed"))
			count, err := ingestor.CleanupUnreferencedAssets(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Deleted %d orphaned stub assets\n", count)
			return nil
		},
	}

	return cmd
}
