package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/formguide/racesyncer/pkg/enrich"
	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/resolver"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/sirupsen/logrus"
)

// persistAttempts is the retry budget for a downstream write batch.
const persistAttempts = 3

// ErrInterrupted is returned when a run stops on request after
// finishing its current chunk. The checkpoint is valid for resume.
var ErrInterrupted = errors.New("sync interrupted")

// Summary reports what one sync run accomplished.
type Summary struct {
	Chunks             int   `json:"chunks"`
	Races              int64 `json:"races"`
	Runners            int64 `json:"runners"`
	EntitiesDiscovered int64 `json:"entities_discovered"`
	EntitiesEnriched   int64 `json:"entities_enriched"`
	ItemsSkipped       int64 `json:"items_skipped"`
}

// Syncer drives the chunked, checkpointed sync pipeline. Chunks are
// processed strictly sequentially in chronological order; a chunk's
// checkpoint write is always its last action.
type Syncer interface {
	// Run executes the sync over the configured date range and
	// returns ErrInterrupted when stopped via RequestStop.
	Run(ctx context.Context) (*Summary, error)

	// RequestStop asks the run to stop after the current chunk's
	// checkpoint write. Safe to call from a signal handler.
	RequestStop()
}

// Compile-time interface check.
var _ Syncer = (*syncer)(nil)

type syncer struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	store    store.Store
	client   racingapi.Client
	resolver resolver.Resolver
	enricher enrich.Enricher
	planner  *Planner
	stop     atomic.Bool
}

// NewSyncer wires the pipeline components into a runnable syncer.
func NewSyncer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	client racingapi.Client,
	res resolver.Resolver,
	enr enrich.Enricher,
) Syncer {
	return &syncer{
		log:      log.WithField("component", "syncer"),
		cfg:      cfg,
		store:    st,
		client:   client,
		resolver: res,
		enricher: enr,
		planner:  NewPlanner(cfg.Sync.ChunkMonths),
	}
}

// RequestStop flags the run to stop at the next chunk boundary.
func (s *syncer) RequestStop() {
	s.stop.Store(true)
}

// Run executes the sync.
func (s *syncer) Run(ctx context.Context) (*Summary, error) {
	start, end, err := s.cfg.SyncRange()
	if err != nil {
		return nil, err
	}

	jobName := s.cfg.Sync.JobName

	if s.cfg.Sync.Resume {
		cp, err := s.store.GetCheckpoint(ctx, jobName)
		if err != nil {
			return nil, fmt.Errorf("reading checkpoint: %w", err)
		}

		if cp != nil && cp.LastChunkEnd != nil {
			resumed := cp.LastChunkEnd.AddDate(0, 0, 1)
			if resumed.After(start) {
				start = resumed
			}

			s.log.WithFields(logrus.Fields{
				"job":        jobName,
				"checkpoint": cp.LastChunkEnd.Format(config.DateLayout),
			}).Info("Resuming after checkpoint")
		}
	}

	if start.After(end) {
		s.log.Info("Nothing to sync, checkpoint already covers the range")

		return &Summary{}, nil
	}

	if err := s.resolver.Seed(ctx); err != nil {
		return nil, err
	}

	chunks := s.planner.Plan(start, end)
	summary := &Summary{}

	s.log.WithFields(logrus.Fields{
		"job":    jobName,
		"range":  Chunk{Start: start, End: end}.Label(),
		"chunks": len(chunks),
	}).Info("Sync started")

	for _, chunk := range chunks {
		if s.stop.Load() {
			s.log.WithField("chunk", chunk.Label()).
				Info("Stop requested, halting before chunk")

			return summary, ErrInterrupted
		}

		if err := ctx.Err(); err != nil {
			return summary, ErrInterrupted
		}

		counts, err := s.processChunk(ctx, chunk, summary)
		if err != nil {
			return summary, fmt.Errorf("chunk %s: %w", chunk.Label(), err)
		}

		// Checkpoint write is the last action of the chunk. A crash
		// before this point replays the whole chunk, which is safe
		// because every write is an idempotent upsert.
		if err := s.store.AdvanceSyncCheckpoint(
			ctx, jobName, chunk.End, counts,
		); err != nil {
			return summary, fmt.Errorf(
				"checkpointing chunk %s: %w", chunk.Label(), err)
		}

		summary.Chunks++

		s.log.WithFields(logrus.Fields{
			"chunk":    chunk.Label(),
			"races":    counts.Races,
			"runners":  counts.Runners,
			"enriched": counts.EntitiesEnriched,
		}).Info("Chunk completed")
	}

	s.log.WithFields(logrus.Fields{
		"chunks":  summary.Chunks,
		"races":   summary.Races,
		"runners": summary.Runners,
	}).Info("Sync completed")

	return summary, nil
}

// processChunk fetches, resolves, enriches and persists one chunk.
func (s *syncer) processChunk(
	ctx context.Context, chunk Chunk, summary *Summary,
) (store.SyncCounts, error) {
	var (
		counts  store.SyncCounts
		races   []*store.Race
		runners []*store.Runner
		newRefs []resolver.EntityRef
	)

	for day := chunk.Start; !day.After(chunk.End); day = day.AddDate(0, 0, 1) {
		cards, err := s.client.FetchRacecards(ctx, day)
		if err != nil {
			if racingapi.IsFatal(err) {
				return counts, err
			}

			// A failed day inside a chunk is skipped, not fatal; the
			// next full replay of this range will pick it up.
			s.log.WithError(err).
				WithField("date", day.Format(config.DateLayout)).
				Warn("Skipping day after fetch failure")

			summary.ItemsSkipped++

			continue
		}

		for i := range cards {
			resolved, err := s.resolver.Resolve(&cards[i])
			if err != nil {
				s.log.WithError(err).Warn("Skipping unresolvable race")

				summary.ItemsSkipped++

				continue
			}

			races = append(races, resolved.Race)
			runners = append(runners, resolved.Runners...)
			newRefs = append(newRefs, resolved.Discovered...)
			summary.ItemsSkipped += int64(resolved.Skipped)
		}
	}

	entities, enriched, err := s.enricher.Enrich(ctx, newRefs)
	if err != nil {
		return counts, err
	}

	if err := s.persist(ctx, "entities", func() error {
		return s.store.UpsertEntities(ctx, entities)
	}); err != nil {
		return counts, err
	}

	// Only mark refs known once their rows are durably persisted, so
	// a replayed chunk re-discovers them instead of losing them.
	s.resolver.MarkPersisted(newRefs)

	if err := s.persist(ctx, "races", func() error {
		return s.store.UpsertRaces(ctx, races)
	}); err != nil {
		return counts, err
	}

	if err := s.persist(ctx, "runners", func() error {
		return s.store.UpsertRunners(ctx, runners)
	}); err != nil {
		return counts, err
	}

	counts.Races = int64(len(races))
	counts.Runners = int64(len(runners))
	counts.EntitiesEnriched = enriched

	summary.Races += counts.Races
	summary.Runners += counts.Runners
	summary.EntitiesDiscovered += int64(len(newRefs))
	summary.EntitiesEnriched += enriched

	return counts, nil
}

// persist runs a write batch with a bounded retry, escalating to a
// fatal error once the budget is exhausted.
func (s *syncer) persist(
	ctx context.Context, what string, fn func() error,
) error {
	var lastErr error

	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}

		s.log.WithError(lastErr).WithFields(logrus.Fields{
			"batch":   what,
			"attempt": attempt,
		}).Warn("Persist batch failed")

		if attempt == persistAttempts {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("persisting %s: %w", what, ctx.Err())
		}
	}

	return fmt.Errorf("persisting %s after %d attempts: %w",
		what, persistAttempts, lastErr)
}
