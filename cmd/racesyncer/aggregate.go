package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/formguide/racesyncer/pkg/aggregate"
	"github.com/formguide/racesyncer/pkg/export"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/spf13/cobra"
)

var (
	aggregateResume bool
	aggregateTypes  []string
	aggregateExport string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute entity statistics from synced history",
	Long: `Run one statistics pass over every persisted entity, replacing each
entity's derived statistics block from the accumulated race history.
Progress is checkpointed per batch so an interrupted pass can resume
with --resume.`,
	RunE: runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
	aggregateCmd.Flags().BoolVar(&aggregateResume, "resume", false,
		"resume from the aggregation checkpoint")
	aggregateCmd.Flags().StringSliceVar(&aggregateTypes, "types", nil,
		"restrict the pass to these entity types (e.g. horse,sire)")
	aggregateCmd.Flags().StringVar(&aggregateExport, "export", "",
		"directory for the pass summary file (overrides config)")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if aggregateResume {
		cfg.Aggregation.Resume = true
	}

	if len(aggregateTypes) > 0 {
		cfg.Aggregation.Types = aggregateTypes
	}

	if aggregateExport != "" {
		cfg.Aggregation.ExportDir = aggregateExport
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	// Create the S3 uploader up front so a misconfigured bucket fails
	// before the pass starts.
	var uploader export.Uploader

	if cfg.Export != nil && cfg.Export.S3 != nil && cfg.Export.S3.Enabled {
		uploader, err = export.NewS3Uploader(log, cfg.Export.S3)
		if err != nil {
			return err
		}

		if err := uploader.Preflight(ctx); err != nil {
			return err
		}

		log.Info("S3 export preflight check passed")
	}

	agg, err := aggregate.NewAggregator(log, cfg, st)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).
			Info("Stopping after current batch, interrupt again to abort")
		agg.RequestStop()

		sig = <-sigCh
		log.WithField("signal", sig).Info("Aborting")
		cancel()
	}()

	summary, runErr := agg.Run(ctx)
	if runErr != nil && !errors.Is(runErr, aggregate.ErrInterrupted) {
		return runErr
	}

	if summary != nil {
		log.WithField("summary", summary).Info("Aggregation run finished")
	}

	// Export the summary even for interrupted passes; the file records
	// exactly how far the pass got.
	if cfg.Aggregation.ExportDir != "" && summary != nil {
		path, err := summary.WriteFile(cfg.Aggregation.ExportDir)
		if err != nil {
			return err
		}

		log.WithField("path", path).Info("Summary exported")

		if uploader != nil {
			if err := uploader.UploadFile(ctx, path); err != nil {
				return err
			}
		}
	}

	return runErr
}
