package store

import "time"

// Race lifecycle statuses. A race is created as scheduled on first
// sighting and flips to resulted once outcome data arrives; the
// transition never runs backwards.
const (
	RaceStatusScheduled = "scheduled"
	RaceStatusResulted  = "resulted"
)

// Race is one race, keyed by its upstream natural id.
type Race struct {
	ID     uint   `gorm:"primaryKey"`
	RaceID string `gorm:"not null;uniqueIndex"`

	Date             time.Time `gorm:"not null;index"`
	Course           string
	OffTime          string
	Class            string `gorm:"index"`
	DistanceFurlongs float64
	Surface          string
	Going            string
	Status           string `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Runner is one horse's participation in one race. The composite
// (race_id, horse_id) key guarantees exactly one row per pair no
// matter how often the race is re-ingested.
type Runner struct {
	ID      uint   `gorm:"primaryKey"`
	RaceID  string `gorm:"not null;uniqueIndex:idx_runners_race_horse"`
	HorseID string `gorm:"not null;uniqueIndex:idx_runners_race_horse;index"`

	JockeyID  string `gorm:"index"`
	TrainerID string `gorm:"index"`
	OwnerID   string `gorm:"index"`

	// Pedigree linkage denormalized from the bulk payload so progeny
	// aggregation never needs the enrichment data to be present.
	SireID    string `gorm:"index"`
	DamID     string `gorm:"index"`
	DamsireID string `gorm:"index"`

	// Pre-race fields.
	Draw       *int
	WeightLbs  *int
	WeightStLb string

	// Post-race fields. FinishPos is the numeric finishing position;
	// it stays null for non-finishers (Position keeps the raw code).
	Position   string
	FinishPos  *int
	BeatenBy   *float64
	SPDecimal  *float64
	SPFraction string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entity is a discovered horse, jockey, trainer, owner, sire, dam or
// damsire, keyed by (type, upstream id).
type Entity struct {
	ID       uint   `gorm:"primaryKey"`
	Type     string `gorm:"not null;uniqueIndex:idx_entities_type_id;index"`
	EntityID string `gorm:"not null;uniqueIndex:idx_entities_type_id"`
	Name     string

	// Enriched flips false -> true at most once, when the per-entity
	// fetch succeeds. It never reverts.
	Enriched bool

	// Extended attributes from enrichment.
	DateOfBirth string
	Sex         string
	Colour      string
	Region      string
	Breeder     string
	Location    string
	SireID      string
	DamID       string
	DamsireID   string

	Stats EntityStats `gorm:"embedded;embeddedPrefix:stats_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityStats is the derived statistics block attached to an entity.
// Every field is recomputed from Race/Runner history and wholly
// replaced on each aggregation pass; nothing here is hand-edited.
type EntityStats struct {
	ComputedAt *time.Time

	TotalRuns   int
	TotalWins   int
	TotalPlaces int

	// Null when TotalRuns is zero.
	WinRate   *float64
	PlaceRate *float64

	LastRunDate *time.Time

	Runs14d int
	Wins14d int
	Runs30d int
	Wins30d int

	// Pedigree-only fields.
	AEIndex        *float64
	BestClass      string
	BestClassAE    *float64
	BestDistance   string
	BestDistanceAE *float64

	// Top-3 per-bucket breakdowns serialized as JSON.
	ClassBreakdownJSON    string `gorm:"type:text"`
	DistanceBreakdownJSON string `gorm:"type:text"`

	QualityScore *float64
}

// Checkpoint is the single mutable coordination record for a job. The
// sync pipeline advances LastChunkEnd; the aggregation pass advances
// the (EntityType, LastEntityID) cursor. One row per job name,
// overwritten on each advance.
type Checkpoint struct {
	ID      uint   `gorm:"primaryKey"`
	JobName string `gorm:"not null;uniqueIndex"`

	LastChunkEnd *time.Time

	EntityType   string
	LastEntityID string

	RacesSynced        int64
	RunnersSynced      int64
	EntitiesEnriched   int64
	EntitiesAggregated int64

	UpdatedAt time.Time
}

// EntityRun is one historical run attributed to an entity, carrying
// just the race context the aggregator needs.
type EntityRun struct {
	RaceDate         time.Time `gorm:"column:race_date"`
	Class            string    `gorm:"column:class"`
	DistanceFurlongs float64   `gorm:"column:distance_furlongs"`
	Position         string    `gorm:"column:position"`
	FinishPos        *int      `gorm:"column:finish_pos"`
}

// Won reports whether the run was a win.
func (r *EntityRun) Won() bool {
	return r.FinishPos != nil && *r.FinishPos == 1
}

// Placed reports whether the run finished in the first three.
func (r *EntityRun) Placed() bool {
	return r.FinishPos != nil && *r.FinishPos >= 1 && *r.FinishPos <= 3
}

// EntityKey identifies an entity by type and upstream id.
type EntityKey struct {
	Type     string
	EntityID string
}

// SyncCounts are the per-chunk counter deltas folded into the
// checkpoint when a chunk completes.
type SyncCounts struct {
	Races            int64
	Runners          int64
	EntitiesEnriched int64
}
