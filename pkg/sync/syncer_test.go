package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
	"github.com/formguide/racesyncer/pkg/enrich"
	"github.com/formguide/racesyncer/pkg/racingapi"
	"github.com/formguide/racesyncer/pkg/resolver"
	"github.com/formguide/racesyncer/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient serves canned racecards keyed by date and records
// enrichment calls.
type fakeClient struct {
	mu          sync.Mutex
	cards       map[string][]racingapi.RaceCard
	horseCalls  map[string]int
	personCalls map[string]int
	fetchErr    error
}

var _ racingapi.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		cards:       make(map[string][]racingapi.RaceCard),
		horseCalls:  make(map[string]int),
		personCalls: make(map[string]int),
	}
}

func (f *fakeClient) FetchRacecards(
	_ context.Context, date time.Time,
) ([]racingapi.RaceCard, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	return f.cards[date.Format(config.DateLayout)], nil
}

func (f *fakeClient) FetchHorse(
	_ context.Context, id string,
) (*racingapi.HorseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.horseCalls[id]++

	return &racingapi.HorseDetail{
		ID:     id,
		Name:   "Horse " + id,
		Sex:    "C",
		SireID: "sir_x",
		Sire:   "Sire X",
	}, nil
}

func (f *fakeClient) FetchPerson(
	_ context.Context, _ racingapi.EntityRole, id string,
) (*racingapi.PersonDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.personCalls[id]++

	return &racingapi.PersonDetail{ID: id, Name: "Person " + id}, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st := store.NewStore(logrus.New(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, st.Stop())
	})

	return st
}

func testConfig(jobName, start, end string) *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			JobName:       jobName,
			StartDate:     start,
			EndDate:       end,
			ChunkMonths:   1,
			EnrichWorkers: 2,
		},
	}
}

func newTestSyncer(
	t *testing.T, cfg *config.Config, st store.Store, client *fakeClient,
) Syncer {
	t.Helper()

	log := logrus.New()

	res, err := resolver.NewResolver(log, st)
	require.NoError(t, err)

	enr := enrich.NewEnricher(log, client, cfg.Sync.EnrichWorkers)

	return NewSyncer(log, cfg, st, client, res, enr)
}

func card(raceID, date string, resulted bool, runners ...racingapi.RunnerCard) racingapi.RaceCard {
	return racingapi.RaceCard{
		RaceID:   raceID,
		Date:     date,
		Course:   "Ascot",
		Resulted: resulted,
		Runners:  runners,
	}
}

func runner(horseID, jockeyID string) racingapi.RunnerCard {
	return racingapi.RunnerCard{
		HorseID:  horseID,
		Horse:    "Horse " + horseID,
		JockeyID: jockeyID,
		Jockey:   "Jockey " + jockeyID,
	}
}

func TestRun_SyncsRangeAndCheckpoints(t *testing.T) {
	client := newFakeClient()
	client.cards["2024-01-05"] = []racingapi.RaceCard{
		card("rac_1", "2024-01-05", true,
			runner("hrs_1", "jky_1"),
			runner("hrs_2", "jky_1"),
		),
	}
	client.cards["2024-02-10"] = []racingapi.RaceCard{
		card("rac_2", "2024-02-10", false,
			runner("hrs_1", "jky_2"),
		),
	}

	st := newTestStore(t)
	cfg := testConfig("test-job", "2024-01-01", "2024-02-29")
	syncer := newTestSyncer(t, cfg, st, client)

	ctx := context.Background()

	summary, err := syncer.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Chunks)
	assert.Equal(t, int64(2), summary.Races)
	assert.Equal(t, int64(3), summary.Runners)

	// hrs_1, hrs_2, jky_1 and jky_2.
	assert.Equal(t, int64(4), summary.EntitiesDiscovered)

	// Each horse is enriched exactly once despite hrs_1 running in
	// both chunks.
	assert.Equal(t, 1, client.horseCalls["hrs_1"])
	assert.Equal(t, 1, client.horseCalls["hrs_2"])
	assert.Equal(t, 1, client.personCalls["jky_1"])

	// Checkpoint sits at the end of the last chunk.
	cp, err := st.GetCheckpoint(ctx, "test-job")
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.NotNil(t, cp.LastChunkEnd)
	assert.Equal(t, "2024-02-29", cp.LastChunkEnd.Format(config.DateLayout))
	assert.Equal(t, int64(2), cp.RacesSynced)
	assert.Equal(t, int64(3), cp.RunnersSynced)

	// Enriched entities carry their attributes.
	horse, err := st.GetEntity(ctx, "horse", "hrs_1")
	require.NoError(t, err)
	require.NotNil(t, horse)
	assert.True(t, horse.Enriched)
	assert.Equal(t, "C", horse.Sex)
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	client := newFakeClient()
	client.cards["2024-01-05"] = []racingapi.RaceCard{
		card("rac_1", "2024-01-05", true, runner("hrs_1", "jky_1")),
	}

	st := newTestStore(t)
	ctx := context.Background()

	first := newTestSyncer(t, testConfig("job-a", "2024-01-01", "2024-01-31"), st, client)
	_, err := first.Run(ctx)
	require.NoError(t, err)

	// A second full pass over the same range, as a separate job
	// against the same database, must not duplicate rows or re-enrich.
	second := newTestSyncer(t, testConfig("job-b", "2024-01-01", "2024-01-31"), st, client)
	summary, err := second.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Races)
	assert.Zero(t, summary.EntitiesDiscovered)
	assert.Equal(t, 1, client.horseCalls["hrs_1"])

	races, err := st.RacesOnDate(ctx, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, races, 1)

	runners, err := st.RunnersForRace(ctx, "rac_1")
	require.NoError(t, err)
	assert.Len(t, runners, 1)
}

func TestRun_ResumeSkipsCoveredChunks(t *testing.T) {
	client := newFakeClient()
	client.cards["2024-01-05"] = []racingapi.RaceCard{
		card("rac_1", "2024-01-05", true, runner("hrs_1", "jky_1")),
	}
	client.cards["2024-02-10"] = []racingapi.RaceCard{
		card("rac_2", "2024-02-10", true, runner("hrs_2", "jky_1")),
	}

	st := newTestStore(t)
	ctx := context.Background()

	// First run covers January only.
	first := newTestSyncer(t, testConfig("job", "2024-01-01", "2024-01-31"), st, client)
	_, err := first.Run(ctx)
	require.NoError(t, err)

	// Resumed run over the full range starts after the checkpoint.
	cfg := testConfig("job", "2024-01-01", "2024-02-29")
	cfg.Sync.Resume = true

	second := newTestSyncer(t, cfg, st, client)
	summary, err := second.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Chunks)
	assert.Equal(t, int64(1), summary.Races)

	cp, err := st.GetCheckpoint(ctx, "job")
	require.NoError(t, err)
	require.NotNil(t, cp.LastChunkEnd)
	assert.Equal(t, "2024-02-29", cp.LastChunkEnd.Format(config.DateLayout))
}

func TestRun_ResumeWithNothingLeft(t *testing.T) {
	client := newFakeClient()

	st := newTestStore(t)
	ctx := context.Background()

	first := newTestSyncer(t, testConfig("job", "2024-01-01", "2024-01-31"), st, client)
	_, err := first.Run(ctx)
	require.NoError(t, err)

	cfg := testConfig("job", "2024-01-01", "2024-01-31")
	cfg.Sync.Resume = true

	second := newTestSyncer(t, cfg, st, client)
	summary, err := second.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Chunks)
}

func TestRun_StopRequestInterrupts(t *testing.T) {
	client := newFakeClient()

	st := newTestStore(t)
	syncer := newTestSyncer(t, testConfig("job", "2024-01-01", "2024-03-31"), st, client)

	syncer.RequestStop()

	_, err := syncer.Run(context.Background())
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestRun_FatalFetchAborts(t *testing.T) {
	client := newFakeClient()
	client.fetchErr = &racingapi.FetchError{
		Kind:       racingapi.KindAuth,
		Endpoint:   "/v1/racecards",
		StatusCode: 401,
	}

	st := newTestStore(t)
	syncer := newTestSyncer(t, testConfig("job", "2024-01-01", "2024-01-31"), st, client)

	_, err := syncer.Run(context.Background())
	require.Error(t, err)
	assert.True(t, racingapi.IsFatal(err))

	// Nothing was checkpointed.
	cp, cpErr := st.GetCheckpoint(context.Background(), "job")
	require.NoError(t, cpErr)
	assert.Nil(t, cp)
}

func TestRun_TransientFetchSkipsDay(t *testing.T) {
	client := newFakeClient()
	client.fetchErr = &racingapi.FetchError{
		Kind:     racingapi.KindTransient,
		Endpoint: "/v1/racecards",
	}

	st := newTestStore(t)
	syncer := newTestSyncer(t, testConfig("job", "2024-01-01", "2024-01-31"), st, client)

	summary, err := syncer.Run(context.Background())
	require.NoError(t, err)

	// Every day failed but the chunk still completed and checkpointed.
	assert.Equal(t, 1, summary.Chunks)
	assert.Equal(t, int64(31), summary.ItemsSkipped)

	cp, err := st.GetCheckpoint(context.Background(), "job")
	require.NoError(t, err)
	require.NotNil(t, cp)
}
