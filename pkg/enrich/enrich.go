package enrich

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/resolver"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultWorkers is the enrichment pool size when none is configured.
const defaultWorkers = 2

// Enricher turns newly discovered entity references into entity rows,
// fetching extended attributes for the enrichable roles. Every fetch
// draws from the client's shared rate-limit budget, so the pool can
// never push the outbound rate past the configured cap.
type Enricher interface {
	// Enrich processes one batch of new references and returns the
	// entity rows to persist plus the number successfully enriched.
	// Per-entity failures are logged and produce a discovery-only
	// row; only fatal fetch errors abort.
	Enrich(ctx context.Context, refs []resolver.EntityRef) ([]*store.Entity, int64, error)
}

// Compile-time interface check.
var _ Enricher = (*enricher)(nil)

type enricher struct {
	log     logrus.FieldLogger
	client  racingapi.Client
	workers int
}

// NewEnricher creates an enricher with a bounded worker pool.
func NewEnricher(
	log logrus.FieldLogger,
	client racingapi.Client,
	workers int,
) Enricher {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &enricher{
		log:     log.WithField("component", "enricher"),
		client:  client,
		workers: workers,
	}
}

// Enrich processes refs with the worker pool. The returned slice has
// one entity per ref, in ref order.
func (e *enricher) Enrich(
	ctx context.Context, refs []resolver.EntityRef,
) ([]*store.Entity, int64, error) {
	if len(refs) == 0 {
		return nil, 0, nil
	}

	entities := make([]*store.Entity, len(refs))

	var enriched atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, ref := range refs {
		g.Go(func() error {
			entity, ok, err := e.enrichOne(gctx, ref)
			if err != nil {
				return err
			}

			entities[i] = entity

			if ok {
				enriched.Add(1)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	return entities, enriched.Load(), nil
}

// enrichOne builds the entity row for one reference, fetching extended
// attributes when the role supports it. The bool reports whether the
// enrichment fetch succeeded.
func (e *enricher) enrichOne(
	ctx context.Context, ref resolver.EntityRef,
) (*store.Entity, bool, error) {
	entity := &store.Entity{
		Type:     string(ref.Role),
		EntityID: ref.ID,
		Name:     ref.Name,
	}

	switch ref.Role {
	case racingapi.RoleHorse:
		detail, err := e.client.FetchHorse(ctx, ref.ID)
		if err != nil {
			return entity, false, e.classify(ref, err)
		}

		entity.Enriched = true
		entity.Name = pick(detail.Name, entity.Name)
		entity.DateOfBirth = detail.DateOfBirth
		entity.Sex = detail.Sex
		entity.Colour = detail.Colour
		entity.Region = detail.Region
		entity.Breeder = detail.Breeder
		entity.SireID = detail.SireID
		entity.DamID = detail.DamID
		entity.DamsireID = detail.DamsireID

	case racingapi.RoleJockey, racingapi.RoleTrainer, racingapi.RoleOwner:
		detail, err := e.client.FetchPerson(ctx, ref.Role, ref.ID)
		if err != nil {
			return entity, false, e.classify(ref, err)
		}

		entity.Enriched = true
		entity.Name = pick(detail.Name, entity.Name)
		entity.Location = detail.Location
		entity.Region = detail.Region

	default:
		// Pedigree roles are discovery-only: their extended data
		// arrives through horse enrichment payloads.
		return entity, false, nil
	}

	return entity, true, nil
}

// classify turns a per-entity fetch failure into either a fatal error
// or a logged skip (nil).
func (e *enricher) classify(ref resolver.EntityRef, err error) error {
	if racingapi.IsFatal(err) {
		return fmt.Errorf("enriching %s %s: %w", ref.Role, ref.ID, err)
	}

	e.log.WithError(err).WithFields(logrus.Fields{
		"role": string(ref.Role),
		"id":   ref.ID,
	}).Warn("Enrichment fetch failed, keeping discovery-only row")

	return nil
}

// pick prefers the first non-empty value.
func pick(a, b string) string {
	if a != "" {
		return a
	}

	return b
}
