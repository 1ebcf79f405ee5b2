package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/formguide/racesyncer/pkg/enrich"
	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/resolver"
	"github.com/formguide/racesyncer/pkg/store"
	racesync "github.com/formguide/racesyncer/pkg/sync"
	"github.com/spf13/cobra"
)

var (
	syncStartDate string
	syncEndDate   string
	syncJobName   string
	syncResume    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync racecards and results for a date range",
	Long: `Fetch racecards day by day over the configured date range, resolve
and enrich discovered entities, and persist everything through
idempotent upserts. Progress is checkpointed per chunk so an
interrupted run can resume with --resume.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVar(&syncStartDate, "start", "",
		"start date (YYYY-MM-DD), overrides config")
	syncCmd.Flags().StringVar(&syncEndDate, "end", "",
		"end date (YYYY-MM-DD), overrides config")
	syncCmd.Flags().StringVar(&syncJobName, "job", "",
		"checkpoint job name, overrides config")
	syncCmd.Flags().BoolVar(&syncResume, "resume", false,
		"resume from the job's checkpoint")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if syncStartDate != "" {
		cfg.Sync.StartDate = syncStartDate
	}

	if syncEndDate != "" {
		cfg.Sync.EndDate = syncEndDate
	}

	if syncJobName != "" {
		cfg.Sync.JobName = syncJobName
	}

	if syncResume {
		cfg.Sync.Resume = true
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

	client := racingapi.NewClient(log, &cfg.Upstream)

	res, err := resolver.NewResolver(log, st)
	if err != nil {
		return err
	}

	enr := enrich.NewEnricher(log, client, cfg.Sync.EnrichWorkers)
	syncer := racesync.NewSyncer(log, cfg, st, client, res, enr)

	// First signal requests a graceful stop at the next chunk boundary
	// so the current chunk's checkpoint still lands. A second signal
	// cancels outright.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).
			Info("Stopping after current chunk, interrupt again to abort")
		syncer.RequestStop()

		sig = <-sigCh
		log.WithField("signal", sig).Info("Aborting")
		cancel()
	}()

	summary, err := syncer.Run(ctx)
	if summary != nil {
		log.WithField("summary", summary).Info("Sync run finished")
	}

	return err
}
