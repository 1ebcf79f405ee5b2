package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrInterrupted is returned when a pass stops on request after
// checkpointing its current batch. The cursor is valid for resume.
var ErrInterrupted = errors.New("aggregation interrupted")

// entityTypes is the fixed processing order of the pass.
var entityTypes = []string{
	"horse", "jockey", "trainer", "owner", "sire", "dam", "damsire",
}

// pedigreeTypes get AE indices, breakdowns and quality scores.
var pedigreeTypes = map[string]bool{
	"sire": true, "dam": true, "damsire": true,
}

// Summary reports what one aggregation pass accomplished.
type Summary struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Processed  int64            `json:"entities_processed"`
	Skipped    int64            `json:"entities_skipped"`
	ByType     map[string]int64 `json:"by_type"`
}

// Aggregator recomputes every entity's statistics block from the
// persisted race/runner history. It runs independently of the sync
// pipeline, in bounded batches, with its own resumable checkpoint.
type Aggregator interface {
	// Run executes one full pass and returns ErrInterrupted when
	// stopped via RequestStop.
	Run(ctx context.Context) (*Summary, error)

	// RequestStop asks the pass to stop after the current batch's
	// checkpoint write. Safe to call from a signal handler.
	RequestStop()
}

// Compile-time interface check.
var _ Aggregator = (*aggregator)(nil)

type aggregator struct {
	log       logrus.FieldLogger
	cfg       *config.Config
	store     store.Store
	baselines *BaselineTable
	types     []string
	stop      atomic.Bool
}

// NewAggregator creates a statistics aggregator.
func NewAggregator(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
) (Aggregator, error) {
	baselines, err := LoadBaselines()
	if err != nil {
		return nil, err
	}

	types, err := selectTypes(cfg.Aggregation.Types)
	if err != nil {
		return nil, err
	}

	return &aggregator{
		log:       log.WithField("component", "aggregator"),
		cfg:       cfg,
		store:     st,
		baselines: baselines,
		types:     types,
	}, nil
}

// selectTypes filters the canonical type order down to the configured
// subset, keeping the canonical order so resume cursors stay valid.
func selectTypes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return entityTypes, nil
	}

	wanted := make(map[string]bool, len(requested))

	for _, entityType := range requested {
		if !slices.Contains(entityTypes, entityType) {
			return nil, fmt.Errorf("unknown entity type %q", entityType)
		}

		wanted[entityType] = true
	}

	selected := make([]string, 0, len(wanted))

	for _, entityType := range entityTypes {
		if wanted[entityType] {
			selected = append(selected, entityType)
		}
	}

	return selected, nil
}

// RequestStop flags the pass to stop at the next batch boundary.
func (a *aggregator) RequestStop() {
	a.stop.Store(true)
}

// jobName is the checkpoint job for this pass, distinct from the sync
// job so the two cursors never collide.
func (a *aggregator) jobName() string {
	return a.cfg.Sync.JobName + "-stats"
}

// Run executes one aggregation pass.
func (a *aggregator) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		StartedAt: time.Now().UTC(),
		ByType:    make(map[string]int64, len(a.types)),
	}

	// One timestamp per pass keeps rolling windows and ComputedAt
	// identical across every entity in the pass.
	now := summary.StartedAt

	startType, afterID := "", ""

	if a.cfg.Aggregation.Resume {
		cp, err := a.store.GetCheckpoint(ctx, a.jobName())
		if err != nil {
			return nil, fmt.Errorf("reading aggregation checkpoint: %w", err)
		}

		if cp != nil && cp.EntityType != "" &&
			slices.Contains(a.types, cp.EntityType) {
			startType = cp.EntityType
			afterID = cp.LastEntityID

			a.log.WithFields(logrus.Fields{
				"entity_type": startType,
				"after_id":    afterID,
			}).Info("Resuming aggregation from checkpoint")
		}
	}

	skipping := startType != ""

	for _, entityType := range a.types {
		if skipping {
			if entityType != startType {
				continue
			}

			skipping = false
		}

		if err := a.processType(
			ctx, entityType, afterID, now, summary,
		); err != nil {
			return summary, err
		}

		// The resume cursor only applies to the first processed type.
		afterID = ""
	}

	if err := a.store.ResetAggregationCursor(ctx, a.jobName()); err != nil {
		return summary, err
	}

	summary.FinishedAt = time.Now().UTC()

	a.log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"duration":  summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
	}).Info("Aggregation pass completed")

	return summary, nil
}

// processType aggregates all entities of one type in bounded batches,
// checkpointing after each batch.
func (a *aggregator) processType(
	ctx context.Context,
	entityType, afterID string,
	now time.Time,
	summary *Summary,
) error {
	pedigree := pedigreeTypes[entityType]
	batchSize := a.cfg.Aggregation.BatchSize

	for {
		if a.stop.Load() {
			a.log.WithField("entity_type", entityType).
				Info("Stop requested, halting after checkpointed batch")

			return ErrInterrupted
		}

		if err := ctx.Err(); err != nil {
			return ErrInterrupted
		}

		entities, err := a.store.ListEntitiesAfter(
			ctx, entityType, afterID, batchSize,
		)
		if err != nil {
			return err
		}

		if len(entities) == 0 {
			return nil
		}

		var processed int64

		for i := range entities {
			entity := &entities[i]

			runs, err := a.store.EntityRuns(ctx, entityType, entity.EntityID)
			if err != nil {
				a.log.WithError(err).WithFields(logrus.Fields{
					"entity_type": entityType,
					"entity_id":   entity.EntityID,
				}).Warn("Skipping entity, run query failed")

				summary.Skipped++

				continue
			}

			stats := ComputeStats(runs, pedigree, now, a.baselines)

			if err := a.store.ReplaceEntityStats(
				ctx, entityType, entity.EntityID, stats,
			); err != nil {
				a.log.WithError(err).WithFields(logrus.Fields{
					"entity_type": entityType,
					"entity_id":   entity.EntityID,
				}).Warn("Skipping entity, stats write failed")

				summary.Skipped++

				continue
			}

			processed++
		}

		afterID = entities[len(entities)-1].EntityID
		summary.Processed += processed
		summary.ByType[entityType] += processed

		if err := a.store.AdvanceAggregationCheckpoint(
			ctx, a.jobName(), entityType, afterID, processed,
		); err != nil {
			return err
		}

		a.log.WithFields(logrus.Fields{
			"entity_type": entityType,
			"batch":       len(entities),
			"cursor":      afterID,
		}).Debug("Aggregation batch checkpointed")
	}
}

// WriteFile writes the pass summary as JSON via write-then-rename so
// readers never observe a partial file.
func (s *Summary) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}

	name := fmt.Sprintf("aggregation-%s.json",
		s.StartedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling summary: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("renaming summary: %w", err)
	}

	return path, nil
}
