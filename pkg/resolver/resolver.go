package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/sirupsen/logrus"
)

// EntityRef is one (role, id, name) triple extracted from a runner.
type EntityRef struct {
	Role racingapi.EntityRole
	ID   string
	Name string
}

// Repository is the subset of the store the resolver reads from.
type Repository interface {
	KnownEntityKeys(ctx context.Context) ([]store.EntityKey, error)
}

// ResolvedRace is the typed output for one bulk race payload: the
// mapped race and runner rows, the entities discovered for the first
// time this run, and the count of malformed runners skipped.
type ResolvedRace struct {
	Race       *store.Race
	Runners    []*store.Runner
	Discovered []EntityRef
	Skipped    int
}

// Resolver maps raw bulk payloads into typed rows and classifies every
// embedded entity reference as known or new.
type Resolver interface {
	// Seed loads the persisted entity keys into the known index.
	// Called once per run before the first chunk.
	Seed(ctx context.Context) error

	// Resolve maps one race payload. An error means the race itself
	// is unusable; per-runner problems only bump Skipped.
	Resolve(card *racingapi.RaceCard) (*ResolvedRace, error)

	// MarkPersisted records refs as known once their discovery rows
	// have been upserted.
	MarkPersisted(refs []EntityRef)
}

// Compile-time interface check.
var _ Resolver = (*resolver)(nil)

type resolver struct {
	log  logrus.FieldLogger
	repo Repository
	idx  *knownIndex
}

// NewResolver creates a resolver backed by the given repository.
func NewResolver(log logrus.FieldLogger, repo Repository) (Resolver, error) {
	idx, err := newKnownIndex(defaultIndexSize)
	if err != nil {
		return nil, fmt.Errorf("creating known-entity index: %w", err)
	}

	return &resolver{
		log:  log.WithField("component", "resolver"),
		repo: repo,
		idx:  idx,
	}, nil
}

// Seed loads every persisted (type, id) pair into the known index so
// resolution avoids a repository round-trip per reference.
func (r *resolver) Seed(ctx context.Context) error {
	keys, err := r.repo.KnownEntityKeys(ctx)
	if err != nil {
		return fmt.Errorf("seeding known-entity index: %w", err)
	}

	for _, key := range keys {
		r.idx.markKnown(indexKey{role: key.Type, id: key.EntityID})
	}

	r.log.WithField("entities", len(keys)).Info("Known-entity index seeded")

	return nil
}

// Resolve maps one race payload into typed rows.
func (r *resolver) Resolve(card *racingapi.RaceCard) (*ResolvedRace, error) {
	if card.RaceID == "" {
		return nil, fmt.Errorf("race payload missing race_id")
	}

	date, err := time.Parse(config.DateLayout, card.Date)
	if err != nil {
		return nil, fmt.Errorf("race %s has invalid date %q: %w",
			card.RaceID, card.Date, err)
	}

	status := store.RaceStatusScheduled
	if card.Resulted {
		status = store.RaceStatusResulted
	}

	resolved := &ResolvedRace{
		Race: &store.Race{
			RaceID:           card.RaceID,
			Date:             date,
			Course:           card.Course,
			OffTime:          card.OffTime,
			Class:            card.Class,
			DistanceFurlongs: card.DistanceFurlongs,
			Surface:          card.Surface,
			Going:            card.Going,
			Status:           status,
		},
	}

	for i := range card.Runners {
		runner := &card.Runners[i]

		if runner.HorseID == "" {
			r.log.WithFields(logrus.Fields{
				"race_id": card.RaceID,
				"runner":  i,
			}).Warn("Skipping runner without horse_id")

			resolved.Skipped++

			continue
		}

		resolved.Runners = append(resolved.Runners, &store.Runner{
			RaceID:     card.RaceID,
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
			BeatenBy:   runner.BeatenBy,
			SPDecimal:  runner.SPDecimal,
			SPFraction: runner.SPFraction,
		})

		for _, ref := range extractRefs(runner) {
			key := indexKey{role: string(ref.Role), id: ref.ID}
			if r.idx.checkAndMarkPending(key) {
				resolved.Discovered = append(resolved.Discovered, ref)
			}
		}
	}

	return resolved, nil
}

// MarkPersisted records refs as known so later references, in this
// chunk or any later one, short-circuit.
func (r *resolver) MarkPersisted(refs []EntityRef) {
	for _, ref := range refs {
		r.idx.markKnown(indexKey{role: string(ref.Role), id: ref.ID})
	}
}

// extractRefs pulls the up-to-seven entity references off a runner.
// References without an id are simply absent (common for pedigree
// roles in older payloads).
func extractRefs(runner *racingapi.RunnerCard) []EntityRef {
	candidates := []EntityRef{
		{Role: racingapi.RoleHorse, ID: runner.HorseID, Name: runner.Horse},
		{Role: racingapi.RoleJockey, ID: runner.JockeyID, Name: runner.Jockey},
		{Role: racingapi.RoleTrainer, ID: runner.TrainerID, Name: runner.Trainer},
		{Role: racingapi.RoleOwner, ID: runner.OwnerID, Name: runner.Owner},
		{Role: racingapi.RoleSire, ID: runner.SireID, Name: runner.Sire},
		{Role: racingapi.RoleDam, ID: runner.DamID, Name: runner.Dam},
		{Role: racingapi.RoleDamsire, ID: runner.DamsireID, Name: runner.Damsire},
	}

	refs := make([]EntityRef, 0, len(candidates))

	for _, ref := range candidates {
		if ref.ID == "" {
			continue
		}

		refs = append(refs, ref)
	}

	return refs
}
