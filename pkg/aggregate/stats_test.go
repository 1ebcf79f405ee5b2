package aggregate

import (
	"testing"
	"time"

	"github.com/formguide/racesyncer/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBaselines(t *testing.T) *BaselineTable {
	t.Helper()

	baselines, err := LoadBaselines()
	require.NoError(t, err)

	return baselines
}

func run(date time.Time, class string, furlongs float64, finishPos int) store.EntityRun {
	r := store.EntityRun{
		RaceDate:         date,
		Class:            class,
		DistanceFurlongs: furlongs,
	}

	if finishPos > 0 {
		r.FinishPos = &finishPos
	}

	return r
}

func TestComputeStats_Empty(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	stats := ComputeStats(nil, false, now, mustBaselines(t))

	assert.Zero(t, stats.TotalRuns)
	assert.Nil(t, stats.WinRate)
	assert.Nil(t, stats.PlaceRate)
	assert.Nil(t, stats.LastRunDate)
	assert.Nil(t, stats.AEIndex)
}

func TestComputeStats_Rates(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	t.Run("two from two", func(t *testing.T) {
		runs := []store.EntityRun{
			run(old, "4", 8, 1),
			run(old, "4", 8, 1),
		}

		stats := ComputeStats(runs, false, now, mustBaselines(t))
		require.NotNil(t, stats.WinRate)
		assert.InDelta(t, 100.0, *stats.WinRate, 0.001)
	})

	t.Run("seven from fifty-seven", func(t *testing.T) {
		runs := make([]store.EntityRun, 0, 57)
		for i := 0; i < 57; i++ {
			pos := 9
			if i < 7 {
				pos = 1
			}

			runs = append(runs, run(old, "4", 8, pos))
		}

		stats := ComputeStats(runs, false, now, mustBaselines(t))
		require.NotNil(t, stats.WinRate)
		assert.InDelta(t, 12.28, *stats.WinRate, 0.001)
	})

	t.Run("places include wins", func(t *testing.T) {
		runs := []store.EntityRun{
			run(old, "4", 8, 1),
			run(old, "4", 8, 3),
			run(old, "4", 8, 4),
			run(old, "4", 8, 0), // non-finisher
		}

		stats := ComputeStats(runs, false, now, mustBaselines(t))
		assert.Equal(t, 4, stats.TotalRuns)
		assert.Equal(t, 1, stats.TotalWins)
		assert.Equal(t, 2, stats.TotalPlaces)
	})
}

func TestComputeStats_RollingWindows(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	runs := []store.EntityRun{
		run(now.AddDate(0, 0, -7), "4", 8, 1),  // inside both windows
		run(now.AddDate(0, 0, -20), "4", 8, 2), // inside 30d only
		run(now.AddDate(0, 0, -40), "4", 8, 1), // outside both
	}

	stats := ComputeStats(runs, false, now, mustBaselines(t))

	assert.Equal(t, 1, stats.Runs14d)
	assert.Equal(t, 1, stats.Wins14d)
	assert.Equal(t, 2, stats.Runs30d)
	assert.Equal(t, 1, stats.Wins30d)

	require.NotNil(t, stats.LastRunDate)
	assert.Equal(t, now.AddDate(0, 0, -7), *stats.LastRunDate)
}

func TestComputeStats_AEIndex(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)
	baselines := mustBaselines(t)

	t.Run("above expectation", func(t *testing.T) {
		// 100 runs in class 4 at 0.102 expected each: 10.2 expected
		// wins. 15 actual wins is an AE of 147.059.
		runs := make([]store.EntityRun, 0, 100)
		for i := 0; i < 100; i++ {
			pos := 5
			if i < 15 {
				pos = 1
			}

			runs = append(runs, run(old, "4", 8, pos))
		}

		stats := ComputeStats(runs, true, now, baselines)
		require.NotNil(t, stats.AEIndex)
		assert.InDelta(t, 15.0/10.2*100, *stats.AEIndex, 0.001)
	})

	t.Run("nil without pedigree flag", func(t *testing.T) {
		stats := ComputeStats(
			[]store.EntityRun{run(old, "4", 8, 1)}, false, now, baselines,
		)
		assert.Nil(t, stats.AEIndex)
		assert.Nil(t, stats.QualityScore)
	})

	t.Run("nil with zero expected", func(t *testing.T) {
		stats := ComputeStats(nil, true, now, baselines)
		assert.Nil(t, stats.AEIndex)
	})
}

func TestComputeStats_Breakdowns(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	runs := []store.EntityRun{
		run(old, "Class 4", 8, 1),
		run(old, "Class 4", 8, 1),
		run(old, "Class 4", 8, 4),
		run(old, "Class 5", 10, 1),
		run(old, "Class 2", 12, 5),
		run(old, "", 0, 2), // unclassified class, unknown distance
	}

	stats := ComputeStats(runs, true, now, mustBaselines(t))

	// Class 4 has the most wins.
	assert.Equal(t, "4", stats.BestClass)
	require.NotNil(t, stats.BestClassAE)

	// 2 wins over 3 runs at 0.102 expected each.
	assert.InDelta(t, 2.0/0.306*100, *stats.BestClassAE, 0.001)

	assert.Equal(t, "7-8f", stats.BestDistance)

	// Unbucketable runs are excluded from breakdowns.
	assert.NotContains(t, stats.ClassBreakdownJSON, "unclassified")
	assert.NotContains(t, stats.DistanceBreakdownJSON, "unknown")
}

func TestComputeStats_Deterministic(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	runs := []store.EntityRun{
		run(old, "4", 8, 1),
		run(old, "5", 10, 2),
		run(old, "3", 6, 1),
		run(old, "4", 8, 7),
	}

	first := ComputeStats(runs, true, now, mustBaselines(t))
	second := ComputeStats(runs, true, now, mustBaselines(t))

	assert.Equal(t, first, second)
}

func TestBucketBreakdown_Ordering(t *testing.T) {
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, -6, 0)

	// Four classes: ties on wins break by runs, then by bucket name.
	runs := []store.EntityRun{
		run(old, "1", 8, 1),
		run(old, "2", 8, 1),
		run(old, "2", 8, 4),
		run(old, "3", 8, 5),
		run(old, "4", 8, 6),
	}

	breakdown := bucketBreakdown(runs,
		func(r *store.EntityRun) string { return ClassBucket(r.Class) },
		func(r *store.EntityRun) float64 { return 0.1 },
	)

	// Top three only, most wins first, more runs breaking the tie.
	require.Len(t, breakdown, 3)
	assert.Equal(t, "2", breakdown[0].Bucket)
	assert.Equal(t, "1", breakdown[1].Bucket)
	assert.Equal(t, "3", breakdown[2].Bucket)
}

func TestQualityScore_Bounds(t *testing.T) {
	ae := 110.0

	full := qualityScore(50, 3, 3, &ae, &ae, &ae)
	assert.InDelta(t, 1.0, full, 0.001)

	empty := qualityScore(0, 0, 0, nil, nil, nil)
	assert.Zero(t, empty)

	partial := qualityScore(5, 1, 2, &ae, &ae, nil)
	assert.InDelta(t, 0.5, partial, 0.001)
}

func TestClassBucket(t *testing.T) {
	assert.Equal(t, "4", ClassBucket("Class 4"))
	assert.Equal(t, "4", ClassBucket("4"))
	assert.Equal(t, "unclassified", ClassBucket(""))
	assert.Equal(t, "unclassified", ClassBucket("  "))
}

func TestDistanceBucket(t *testing.T) {
	tests := []struct {
		furlongs float64
		want     string
	}{
		{furlongs: 0, want: "unknown"},
		{furlongs: 5, want: "5-6f"},
		{furlongs: 6.5, want: "5-6f"},
		{furlongs: 8, want: "7-8f"},
		{furlongs: 10, want: "9-10f"},
		{furlongs: 12, want: "11-12f"},
		{furlongs: 16, want: "13-16f"},
		{furlongs: 20, want: "17f+"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DistanceBucket(tt.furlongs))
	}
}

func TestLoadBaselines(t *testing.T) {
	baselines := mustBaselines(t)

	assert.InDelta(t, 0.100, baselines.Default, 0.0001)
	assert.InDelta(t, 0.102, baselines.ClassRate("Class 4"), 0.0001)
	assert.InDelta(t, 0.100, baselines.ClassRate("unrated"), 0.0001)
	assert.InDelta(t, 0.101, baselines.DistanceRate("7-8f"), 0.0001)
	assert.InDelta(t, 0.100, baselines.DistanceRate("nope"), 0.0001)
}
