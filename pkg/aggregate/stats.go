package aggregate

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/formguide/racesyncer/pkg/store"
)

// Rolling form windows, in days.
const (
	shortWindowDays = 14
	longWindowDays  = 30
)

// topBuckets is how many breakdown buckets are kept per dimension.
const topBuckets = 3

// BucketStat is one class or distance bucket in a breakdown.
type BucketStat struct {
	Bucket string   `json:"bucket"`
	Runs   int      `json:"runs"`
	Wins   int      `json:"wins"`
	AE     *float64 `json:"ae,omitempty"`
}

// ComputeStats derives the full statistics block for an entity from
// its run history. The result depends only on runs, pedigree, now and
// the baseline table, so re-running over unchanged data reproduces the
// block exactly.
func ComputeStats(
	runs []store.EntityRun,
	pedigree bool,
	now time.Time,
	baselines *BaselineTable,
) *store.EntityStats {
	stats := &store.EntityStats{
		ComputedAt: &now,
		TotalRuns:  len(runs),
	}

	shortCutoff := now.AddDate(0, 0, -shortWindowDays)
	longCutoff := now.AddDate(0, 0, -longWindowDays)

	for _, run := range runs {
		if run.Won() {
			stats.TotalWins++
		}

		if run.Placed() {
			stats.TotalPlaces++
		}

		if !run.RaceDate.Before(shortCutoff) {
			stats.Runs14d++

			if run.Won() {
				stats.Wins14d++
			}
		}

		if !run.RaceDate.Before(longCutoff) {
			stats.Runs30d++

			if run.Won() {
				stats.Wins30d++
			}
		}

		if stats.LastRunDate == nil || run.RaceDate.After(*stats.LastRunDate) {
			date := run.RaceDate
			stats.LastRunDate = &date
		}
	}

	if stats.TotalRuns > 0 {
		winRate := round2(float64(stats.TotalWins) / float64(stats.TotalRuns) * 100)
		placeRate := round2(float64(stats.TotalPlaces) / float64(stats.TotalRuns) * 100)
		stats.WinRate = &winRate
		stats.PlaceRate = &placeRate
	}

	if pedigree {
		computePedigreeStats(stats, runs, baselines)
	}

	return stats
}

// computePedigreeStats fills the AE index, bucket breakdowns and the
// data-quality score.
func computePedigreeStats(
	stats *store.EntityStats,
	runs []store.EntityRun,
	baselines *BaselineTable,
) {
	// Overall AE over all progeny runs against class baselines.
	var expected float64
	for _, run := range runs {
		expected += baselines.ClassRate(run.Class)
	}

	stats.AEIndex = aeIndex(stats.TotalWins, expected)

	classBreakdown := bucketBreakdown(runs,
		func(run *store.EntityRun) string {
			return ClassBucket(run.Class)
		},
		func(run *store.EntityRun) float64 {
			return baselines.ClassRate(run.Class)
		},
	)

	distanceBreakdown := bucketBreakdown(runs,
		func(run *store.EntityRun) string {
			return DistanceBucket(run.DistanceFurlongs)
		},
		func(run *store.EntityRun) float64 {
			return baselines.DistanceRate(DistanceBucket(run.DistanceFurlongs))
		},
	)

	if len(classBreakdown) > 0 {
		stats.BestClass = classBreakdown[0].Bucket
		stats.BestClassAE = classBreakdown[0].AE
	}

	if len(distanceBreakdown) > 0 {
		stats.BestDistance = distanceBreakdown[0].Bucket
		stats.BestDistanceAE = distanceBreakdown[0].AE
	}

	stats.ClassBreakdownJSON = marshalBreakdown(classBreakdown)
	stats.DistanceBreakdownJSON = marshalBreakdown(distanceBreakdown)

	score := qualityScore(
		stats.TotalRuns, len(classBreakdown), len(distanceBreakdown),
		stats.AEIndex, stats.BestClassAE, stats.BestDistanceAE,
	)
	stats.QualityScore = &score
}

// bucketBreakdown groups runs into buckets and returns the top buckets
// ordered by wins descending, then runs descending, then bucket name.
// Runs whose bucket cannot be determined are excluded.
func bucketBreakdown(
	runs []store.EntityRun,
	bucketOf func(*store.EntityRun) string,
	rateOf func(*store.EntityRun) float64,
) []BucketStat {
	type acc struct {
		runs     int
		wins     int
		expected float64
	}

	buckets := make(map[string]*acc)

	for i := range runs {
		run := &runs[i]

		bucket := bucketOf(run)
		if bucket == "unclassified" || bucket == "unknown" {
			continue
		}

		a := buckets[bucket]
		if a == nil {
			a = &acc{}
			buckets[bucket] = a
		}

		a.runs++
		a.expected += rateOf(run)

		if run.Won() {
			a.wins++
		}
	}

	breakdown := make([]BucketStat, 0, len(buckets))

	for bucket, a := range buckets {
		breakdown = append(breakdown, BucketStat{
			Bucket: bucket,
			Runs:   a.runs,
			Wins:   a.wins,
			AE:     aeIndex(a.wins, a.expected),
		})
	}

	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Wins != breakdown[j].Wins {
			return breakdown[i].Wins > breakdown[j].Wins
		}

		if breakdown[i].Runs != breakdown[j].Runs {
			return breakdown[i].Runs > breakdown[j].Runs
		}

		return breakdown[i].Bucket < breakdown[j].Bucket
	})

	if len(breakdown) > topBuckets {
		breakdown = breakdown[:topBuckets]
	}

	return breakdown
}

// aeIndex returns round(actual/expected*100, 3), or nil when expected
// is zero so the index stays undefined instead of dividing by zero.
func aeIndex(actualWins int, expectedWins float64) *float64 {
	if expectedWins <= 0 {
		return nil
	}

	ae := round3(float64(actualWins) / expectedWins * 100)

	return &ae
}

// qualityScore computes the composite completeness score in [0, 1]:
// 0.2 for any run data, 0.1 per populated class bucket (max 3), 0.1
// per populated distance bucket (max 3), and 0.2 when the overall,
// best-class and best-distance AE are all computed.
func qualityScore(
	totalRuns, classBuckets, distanceBuckets int,
	overallAE, bestClassAE, bestDistanceAE *float64,
) float64 {
	var score float64

	if totalRuns > 0 {
		score += 0.2
	}

	score += 0.1 * float64(minInt(classBuckets, topBuckets))
	score += 0.1 * float64(minInt(distanceBuckets, topBuckets))

	if overallAE != nil && bestClassAE != nil && bestDistanceAE != nil {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}

	return round2(score)
}

// marshalBreakdown serializes a breakdown deterministically.
func marshalBreakdown(breakdown []BucketStat) string {
	if len(breakdown) == 0 {
		return ""
	}

	data, err := json.Marshal(breakdown)
	if err != nil {
		return ""
	}

	return string(data)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
