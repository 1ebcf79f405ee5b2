package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkpointResponse is one job's sync or aggregation progress.
type checkpointResponse struct {
	JobName            string     `json:"job_name"`
	LastChunkEnd       *time.Time `json:"last_chunk_end,omitempty"`
	EntityType         string     `json:"entity_type,omitempty"`
	LastEntityID       string     `json:"last_entity_id,omitempty"`
	RacesSynced        int64      `json:"races_synced"`
	RunnersSynced      int64      `json:"runners_synced"`
	EntitiesEnriched   int64      `json:"entities_enriched"`
	EntitiesAggregated int64      `json:"entities_aggregated"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// handleStatus returns every job checkpoint.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.store.ListCheckpoints(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list checkpoints")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing checkpoints"})

		return
	}

	resp := make([]checkpointResponse, 0, len(checkpoints))

	for _, cp := range checkpoints {
		resp = append(resp, checkpointResponse{
			JobName:            cp.JobName,
			LastChunkEnd:       cp.LastChunkEnd,
			EntityType:         cp.EntityType,
			LastEntityID:       cp.LastEntityID,
			RacesSynced:        cp.RacesSynced,
			RunnersSynced:      cp.RunnersSynced,
			EntitiesEnriched:   cp.EntitiesEnriched,
			EntitiesAggregated: cp.EntitiesAggregated,
			UpdatedAt:          cp.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": resp})
}

// statsResponse is the derived statistics block of an entity.
type statsResponse struct {
	ComputedAt        *time.Time      `json:"computed_at,omitempty"`
	TotalRuns         int             `json:"total_runs"`
	TotalWins         int             `json:"total_wins"`
	TotalPlaces       int             `json:"total_places"`
	WinRate           *float64        `json:"win_rate,omitempty"`
	PlaceRate         *float64        `json:"place_rate,omitempty"`
	LastRunDate       *time.Time      `json:"last_run_date,omitempty"`
	Runs14d           int             `json:"runs_14d"`
	Wins14d           int             `json:"wins_14d"`
	Runs30d           int             `json:"runs_30d"`
	Wins30d           int             `json:"wins_30d"`
	AEIndex           *float64        `json:"ae_index,omitempty"`
	BestClass         string          `json:"best_class,omitempty"`
	BestClassAE       *float64        `json:"best_class_ae,omitempty"`
	BestDistance      string          `json:"best_distance,omitempty"`
	BestDistanceAE    *float64        `json:"best_distance_ae,omitempty"`
	ClassBreakdown    json.RawMessage `json:"class_breakdown,omitempty"`
	DistanceBreakdown json.RawMessage `json:"distance_breakdown,omitempty"`
	QualityScore      *float64        `json:"quality_score,omitempty"`
}

// entityResponse is one entity with its enrichment attributes and stats.
type entityResponse struct {
	Type        string        `json:"type"`
	EntityID    string        `json:"entity_id"`
	Name        string        `json:"name,omitempty"`
	Enriched    bool          `json:"enriched"`
	DateOfBirth string        `json:"date_of_birth,omitempty"`
	Sex         string        `json:"sex,omitempty"`
	Colour      string        `json:"colour,omitempty"`
	Region      string        `json:"region,omitempty"`
	Breeder     string        `json:"breeder,omitempty"`
	Location    string        `json:"location,omitempty"`
	SireID      string        `json:"sire_id,omitempty"`
	DamID       string        `json:"dam_id,omitempty"`
	DamsireID   string        `json:"damsire_id,omitempty"`
	Stats       statsResponse `json:"stats"`
}

// handleEntity returns one entity with its statistics block.
func (s *server) handleEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	entityID := chi.URLParam(r, "id")

	if !racingapi.EntityRole(entityType).Valid() {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown entity type"})

		return
	}

	entity, err := s.store.GetEntity(r.Context(), entityType, entityID)
	if err != nil {
		s.log.WithError(err).Error("Failed to load entity")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading entity"})

		return
	}

	if entity == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"entity not found"})

		return
	}

	writeJSON(w, http.StatusOK, toEntityResponse(entity))
}

func toEntityResponse(entity *store.Entity) entityResponse {
	return entityResponse{
		Type:        entity.Type,
		EntityID:    entity.EntityID,
		Name:        entity.Name,
		Enriched:    entity.Enriched,
		DateOfBirth: entity.DateOfBirth,
		Sex:         entity.Sex,
		Colour:      entity.Colour,
		Region:      entity.Region,
		Breeder:     entity.Breeder,
		Location:    entity.Location,
		SireID:      entity.SireID,
		DamID:       entity.DamID,
		DamsireID:   entity.DamsireID,
		Stats: statsResponse{
			ComputedAt:        entity.Stats.ComputedAt,
			TotalRuns:         entity.Stats.TotalRuns,
			TotalWins:         entity.Stats.TotalWins,
			TotalPlaces:       entity.Stats.TotalPlaces,
			WinRate:           entity.Stats.WinRate,
			PlaceRate:         entity.Stats.PlaceRate,
			LastRunDate:       entity.Stats.LastRunDate,
			Runs14d:           entity.Stats.Runs14d,
			Wins14d:           entity.Stats.Wins14d,
			Runs30d:           entity.Stats.Runs30d,
			Wins30d:           entity.Stats.Wins30d,
			AEIndex:           entity.Stats.AEIndex,
			BestClass:         entity.Stats.BestClass,
			BestClassAE:       entity.Stats.BestClassAE,
			BestDistance:      entity.Stats.BestDistance,
			BestDistanceAE:    entity.Stats.BestDistanceAE,
			ClassBreakdown:    rawJSON(entity.Stats.ClassBreakdownJSON),
			DistanceBreakdown: rawJSON(entity.Stats.DistanceBreakdownJSON),
			QualityScore:      entity.Stats.QualityScore,
		},
	}
}

// rawJSON passes a stored JSON string through without re-encoding.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}

	return json.RawMessage(s)
}

// runResponse is one historical run attributed to an entity.
type runResponse struct {
	RaceDate         time.Time `json:"race_date"`
	Class            string    `json:"class,omitempty"`
	DistanceFurlongs float64   `json:"distance_furlongs"`
	Position         string    `json:"position,omitempty"`
	FinishPos        *int      `json:"finish_pos,omitempty"`
}

// handleEntityRuns returns the run history attributed to an entity.
func (s *server) handleEntityRuns(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	entityID := chi.URLParam(r, "id")

	if !racingapi.EntityRole(entityType).Valid() {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown entity type"})

		return
	}

	runs, err := s.store.EntityRuns(r.Context(), entityType, entityID)
	if err != nil {
		s.log.WithError(err).Error("Failed to load entity runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading entity runs"})

		return
	}

	resp := make([]runResponse, 0, len(runs))

	for _, run := range runs {
		resp = append(resp, runResponse{
			RaceDate:         run.RaceDate,
			Class:            run.Class,
			DistanceFurlongs: run.DistanceFurlongs,
			Position:         run.Position,
			FinishPos:        run.FinishPos,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": resp})
}

// raceResponse is one race card header.
type raceResponse struct {
	RaceID           string    `json:"race_id"`
	Date             time.Time `json:"date"`
	Course           string    `json:"course,omitempty"`
	OffTime          string    `json:"off_time,omitempty"`
	Class            string    `json:"class,omitempty"`
	DistanceFurlongs float64   `json:"distance_furlongs"`
	Surface          string    `json:"surface,omitempty"`
	Going            string    `json:"going,omitempty"`
	Status           string    `json:"status"`
}

// handleRaces returns all races on the requested calendar date.
func (s *server) handleRaces(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"date query parameter is required"})

		return
	}

	date, err := time.Parse(config.DateLayout, dateParam)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid date, expected YYYY-MM-DD"})

		return
	}

	races, err := s.store.RacesOnDate(r.Context(), date)
	if err != nil {
		s.log.WithError(err).Error("Failed to list races")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing races"})

		return
	}

	resp := make([]raceResponse, 0, len(races))

	for _, race := range races {
		resp = append(resp, raceResponse{
			RaceID:           race.RaceID,
			Date:             race.Date,
			Course:           race.Course,
			OffTime:          race.OffTime,
			Class:            race.Class,
			DistanceFurlongs: race.DistanceFurlongs,
			Surface:          race.Surface,
			Going:            race.Going,
			Status:           race.Status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"races": resp})
}

// runnerResponse is one runner of a race.
type runnerResponse struct {
	RaceID     string   `json:"race_id"`
	HorseID    string   `json:"horse_id"`
	JockeyID   string   `json:"jockey_id,omitempty"`
	TrainerID  string   `json:"trainer_id,omitempty"`
	OwnerID    string   `json:"owner_id,omitempty"`
	SireID     string   `json:"sire_id,omitempty"`
	DamID      string   `json:"dam_id,omitempty"`
	DamsireID  string   `json:"damsire_id,omitempty"`
	Draw       *int     `json:"draw,omitempty"`
	WeightLbs  *int     `json:"weight_lbs,omitempty"`
	WeightStLb string   `json:"weight_st_lb,omitempty"`
	Position   string   `json:"position,omitempty"`
	FinishPos  *int     `json:"finish_pos,omitempty"`
	BeatenBy   *float64 `json:"beaten_by,omitempty"`
	SPDecimal  *float64 `json:"sp_decimal,omitempty"`
	SPFraction string   `json:"sp_fraction,omitempty"`
}

// handleRaceRunners returns all runners of one race.
func (s *server) handleRaceRunners(w http.ResponseWriter, r *http.Request) {
	raceID := chi.URLParam(r, "raceID")

	runners, err := s.store.RunnersForRace(r.Context(), raceID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runners")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runners"})

		return
	}

	resp := make([]runnerResponse, 0, len(runners))

	for _, runner := range runners {
		resp = append(resp, runnerResponse{
			RaceID:     runner.RaceID,
			HorseID:    runner.HorseID,
			JockeyID:   runner.JockeyID,
			TrainerID:  runner.TrainerID,
			OwnerID:    runner.OwnerID,
			SireID:     runner.SireID,
			DamID:      runner.DamID,
			DamsireID:  runner.DamsireID,
			Draw:       runner.Draw,
			WeightLbs:  runner.WeightLbs,
			WeightStLb: runner.WeightStLb,
			Position:   runner.Position,
			FinishPos:  runner.FinishPos,
			BeatenBy:   runner.BeatenBy,
			SPDecimal:  runner.SPDecimal,
			SPFraction: runner.SPFraction,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"runners": resp})
}
