package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// upsertBatchSize bounds the number of rows handled per transaction.
const upsertBatchSize = 100

// ErrCheckpointRegression is returned when a sync checkpoint write
// would move the cursor backwards.
var ErrCheckpointRegression = errors.New("checkpoint end-date regression")

// Store is the idempotent upsert repository for races, runners,
// entities, statistics and checkpoints.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Natural-keyed batch upserts. Re-submitting a batch never
	// creates duplicates and never drops previously persisted data.
	UpsertRaces(ctx context.Context, races []*Race) error
	UpsertRunners(ctx context.Context, runners []*Runner) error
	UpsertEntities(ctx context.Context, entities []*Entity) error

	// Entity reads.
	KnownEntityKeys(ctx context.Context) ([]EntityKey, error)
	GetEntity(ctx context.Context, entityType, entityID string) (*Entity, error)
	ListEntitiesAfter(
		ctx context.Context, entityType, afterEntityID string, limit int,
	) ([]Entity, error)

	// EntityRuns returns the historical runs attributed to an entity
	// via its role column, joined with race context, oldest first.
	EntityRuns(
		ctx context.Context, entityType, entityID string,
	) ([]EntityRun, error)

	// ReplaceEntityStats overwrites the whole statistics block.
	ReplaceEntityStats(
		ctx context.Context, entityType, entityID string, stats *EntityStats,
	) error

	// Race reads for the HTTP API.
	RacesOnDate(ctx context.Context, date time.Time) ([]Race, error)
	RunnersForRace(ctx context.Context, raceID string) ([]Runner, error)

	// Checkpoints.
	GetCheckpoint(ctx context.Context, jobName string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
	AdvanceSyncCheckpoint(
		ctx context.Context, jobName string, chunkEnd time.Time, counts SyncCounts,
	) error
	AdvanceAggregationCheckpoint(
		ctx context.Context, jobName, entityType, lastEntityID string,
		processed int64,
	) error
	ResetAggregationCursor(ctx context.Context, jobName string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Race{},
		&Runner{},
		&Entity{},
		&Checkpoint{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRaces inserts or updates races keyed by race_id.
func (s *store) UpsertRaces(ctx context.Context, races []*Race) error {
	return s.inBatches(ctx, len(races), func(tx *gorm.DB, i int) error {
		incoming := races[i]

		var existing Race

		err := tx.Where("race_id = ?", incoming.RaceID).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if incoming.Status == "" {
				incoming.Status = RaceStatusScheduled
			}

			if err := tx.Create(incoming).Error; err != nil {
				return fmt.Errorf("creating race %s: %w", incoming.RaceID, err)
			}
		case err != nil:
			return fmt.Errorf("loading race %s: %w", incoming.RaceID, err)
		default:
			mergeRace(&existing, incoming)

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating race %s: %w", incoming.RaceID, err)
			}
		}

		return nil
	})
}

// UpsertRunners inserts or updates runners keyed by (race_id, horse_id).
func (s *store) UpsertRunners(ctx context.Context, runners []*Runner) error {
	return s.inBatches(ctx, len(runners), func(tx *gorm.DB, i int) error {
		incoming := runners[i]

		var existing Runner

		err := tx.Where("race_id = ? AND horse_id = ?",
			incoming.RaceID, incoming.HorseID).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			normalizeRunner(incoming)

			if err := tx.Create(incoming).Error; err != nil {
				return fmt.Errorf("creating runner %s/%s: %w",
					incoming.RaceID, incoming.HorseID, err)
			}
		case err != nil:
			return fmt.Errorf("loading runner %s/%s: %w",
				incoming.RaceID, incoming.HorseID, err)
		default:
			mergeRunner(&existing, incoming)

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating runner %s/%s: %w",
					incoming.RaceID, incoming.HorseID, err)
			}
		}

		return nil
	})
}

// UpsertEntities inserts or updates entities keyed by (type, entity_id).
// The statistics block is never touched here; only ReplaceEntityStats
// writes it.
func (s *store) UpsertEntities(ctx context.Context, entities []*Entity) error {
	return s.inBatches(ctx, len(entities), func(tx *gorm.DB, i int) error {
		incoming := entities[i]

		var existing Entity

		err := tx.Where("type = ? AND entity_id = ?",
			incoming.Type, incoming.EntityID).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(incoming).Error; err != nil {
				return fmt.Errorf("creating entity %s/%s: %w",
					incoming.Type, incoming.EntityID, err)
			}
		case err != nil:
			return fmt.Errorf("loading entity %s/%s: %w",
				incoming.Type, incoming.EntityID, err)
		default:
			mergeEntity(&existing, incoming)

			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating entity %s/%s: %w",
					incoming.Type, incoming.EntityID, err)
			}
		}

		return nil
	})
}

// inBatches runs fn for each index inside per-batch transactions.
func (s *store) inBatches(
	ctx context.Context, total int, fn func(tx *gorm.DB, i int) error,
) error {
	for start := 0; start < total; start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > total {
			end = total
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := start; i < end; i++ {
				if err := fn(tx, i); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// KnownEntityKeys returns every persisted (type, entity_id) pair.
func (s *store) KnownEntityKeys(ctx context.Context) ([]EntityKey, error) {
	var keys []EntityKey
	if err := s.db.WithContext(ctx).
		Model(&Entity{}).
		Select("type, entity_id").
		Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing entity keys: %w", err)
	}

	return keys, nil
}

// GetEntity returns one entity by (type, entity_id).
func (s *store) GetEntity(
	ctx context.Context, entityType, entityID string,
) (*Entity, error) {
	var entity Entity
	if err := s.db.WithContext(ctx).
		Where("type = ? AND entity_id = ?", entityType, entityID).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("loading entity %s/%s: %w",
			entityType, entityID, err)
	}

	return &entity, nil
}

// ListEntitiesAfter returns up to limit entities of a type with ids
// strictly after afterEntityID, ordered by id. An empty afterEntityID
// starts from the beginning.
func (s *store) ListEntitiesAfter(
	ctx context.Context, entityType, afterEntityID string, limit int,
) ([]Entity, error) {
	q := s.db.WithContext(ctx).
		Where("type = ?", entityType).
		Order("entity_id ASC").
		Limit(limit)

	if afterEntityID != "" {
		q = q.Where("entity_id > ?", afterEntityID)
	}

	var entities []Entity
	if err := q.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("listing %s entities: %w", entityType, err)
	}

	return entities, nil
}

// roleColumns maps an entity type to the runner column that attributes
// runs to it. Pedigree columns attribute progeny runs.
var roleColumns = map[string]string{
	"horse":   "horse_id",
	"jockey":  "jockey_id",
	"trainer": "trainer_id",
	"owner":   "owner_id",
	"sire":    "sire_id",
	"dam":     "dam_id",
	"damsire": "damsire_id",
}

// EntityRuns returns all runs attributed to an entity joined with the
// owning race's date, class and distance, oldest first.
func (s *store) EntityRuns(
	ctx context.Context, entityType, entityID string,
) ([]EntityRun, error) {
	column, ok := roleColumns[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}

	var runs []EntityRun
	if err := s.db.WithContext(ctx).
		Table("runners").
		Select("races.date AS race_date, races.class AS class, "+
			"races.distance_furlongs AS distance_furlongs, "+
			"runners.position AS position, runners.finish_pos AS finish_pos").
		Joins("JOIN races ON races.race_id = runners.race_id").
		Where("runners."+column+" = ?", entityID).
		Where("races.status = ?", RaceStatusResulted).
		Order("races.date ASC").
		Scan(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs for %s/%s: %w",
			entityType, entityID, err)
	}

	return runs, nil
}

// ReplaceEntityStats overwrites the entity's whole statistics block.
func (s *store) ReplaceEntityStats(
	ctx context.Context, entityType, entityID string, stats *EntityStats,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity Entity
		if err := tx.Where("type = ? AND entity_id = ?",
			entityType, entityID).First(&entity).Error; err != nil {
			return fmt.Errorf("replacing stats for %s/%s: %w",
				entityType, entityID, err)
		}

		entity.Stats = *stats

		if err := tx.Save(&entity).Error; err != nil {
			return fmt.Errorf("saving stats for %s/%s: %w",
				entityType, entityID, err)
		}

		return nil
	})
}

// RacesOnDate returns all races on a calendar date ordered by off time.
func (s *store) RacesOnDate(
	ctx context.Context, date time.Time,
) ([]Race, error) {
	dayStart := time.Date(
		date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC,
	)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var races []Race
	if err := s.db.WithContext(ctx).
		Where("date >= ? AND date < ?", dayStart, dayEnd).
		Order("off_time ASC").
		Find(&races).Error; err != nil {
		return nil, fmt.Errorf("listing races: %w", err)
	}

	return races, nil
}

// RunnersForRace returns all runners of one race.
func (s *store) RunnersForRace(
	ctx context.Context, raceID string,
) ([]Runner, error) {
	var runners []Runner
	if err := s.db.WithContext(ctx).
		Where("race_id = ?", raceID).
		Find(&runners).Error; err != nil {
		return nil, fmt.Errorf("listing runners for race %s: %w", raceID, err)
	}

	return runners, nil
}

// GetCheckpoint returns the checkpoint for a job, or nil when the job
// has never checkpointed.
func (s *store) GetCheckpoint(
	ctx context.Context, jobName string,
) (*Checkpoint, error) {
	var cp Checkpoint
	if err := s.db.WithContext(ctx).
		Where("job_name = ?", jobName).
		First(&cp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("loading checkpoint %s: %w", jobName, err)
	}

	return &cp, nil
}

// ListCheckpoints returns all job checkpoints.
func (s *store) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	var cps []Checkpoint
	if err := s.db.WithContext(ctx).
		Order("job_name ASC").
		Find(&cps).Error; err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	return cps, nil
}

// AdvanceSyncCheckpoint moves the job's chunk cursor forward and folds
// the chunk's counter deltas in, atomically. A write that does not
// strictly advance the cursor fails with ErrCheckpointRegression.
func (s *store) AdvanceSyncCheckpoint(
	ctx context.Context, jobName string, chunkEnd time.Time, counts SyncCounts,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp Checkpoint

		err := tx.Where("job_name = ?", jobName).First(&cp).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cp = Checkpoint{JobName: jobName}
		case err != nil:
			return fmt.Errorf("loading checkpoint %s: %w", jobName, err)
		}

		if cp.LastChunkEnd != nil && !chunkEnd.After(*cp.LastChunkEnd) {
			return fmt.Errorf("%w: job %s has %s, refusing %s",
				ErrCheckpointRegression, jobName,
				cp.LastChunkEnd.Format(config.DateLayout),
				chunkEnd.Format(config.DateLayout))
		}

		cp.LastChunkEnd = &chunkEnd
		cp.RacesSynced += counts.Races
		cp.RunnersSynced += counts.Runners
		cp.EntitiesEnriched += counts.EntitiesEnriched

		if err := tx.Save(&cp).Error; err != nil {
			return fmt.Errorf("saving checkpoint %s: %w", jobName, err)
		}

		return nil
	})
}

// AdvanceAggregationCheckpoint moves the job's aggregation cursor to
// the given entity type and id.
func (s *store) AdvanceAggregationCheckpoint(
	ctx context.Context, jobName, entityType, lastEntityID string,
	processed int64,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp Checkpoint

		err := tx.Where("job_name = ?", jobName).First(&cp).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cp = Checkpoint{JobName: jobName}
		case err != nil:
			return fmt.Errorf("loading checkpoint %s: %w", jobName, err)
		}

		cp.EntityType = entityType
		cp.LastEntityID = lastEntityID
		cp.EntitiesAggregated += processed

		if err := tx.Save(&cp).Error; err != nil {
			return fmt.Errorf("saving checkpoint %s: %w", jobName, err)
		}

		return nil
	})
}

// ResetAggregationCursor clears the aggregation cursor after a pass
// completes so the next pass starts from the beginning.
func (s *store) ResetAggregationCursor(
	ctx context.Context, jobName string,
) error {
	result := s.db.WithContext(ctx).
		Model(&Checkpoint{}).
		Where("job_name = ?", jobName).
		Updates(map[string]any{
			"entity_type":    "",
			"last_entity_id": "",
		})
	if result.Error != nil {
		return fmt.Errorf("resetting aggregation cursor %s: %w",
			jobName, result.Error)
	}

	return nil
}
