package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		position string
		want     int
		ok       bool
	}{
		{position: "1", want: 1, ok: true},
		{position: " 12 ", want: 12, ok: true},
		{position: "PU", ok: false},
		{position: "F", ok: false},
		{position: "UR", ok: false},
		{position: "0", ok: false},
		{position: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.position, func(t *testing.T) {
			got, ok := parsePosition(tt.position)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseStonesPounds(t *testing.T) {
	tests := []struct {
		weight string
		want   int
		ok     bool
	}{
		{weight: "9-7", want: 133, ok: true},
		{weight: "10-0", want: 140, ok: true},
		{weight: "8-13", want: 125, ok: true},
		{weight: "8-14", ok: false},
		{weight: "9", ok: false},
		{weight: "", ok: false},
		{weight: "abc-def", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.weight, func(t *testing.T) {
			got, ok := parseStonesPounds(tt.weight)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseFractionalOdds(t *testing.T) {
	tests := []struct {
		odds string
		want float64
		ok   bool
	}{
		{odds: "7/2", want: 4.5, ok: true},
		{odds: "2/1", want: 3.0, ok: true},
		{odds: "1/4", want: 1.25, ok: true},
		{odds: "Evs", want: 2.0, ok: true},
		{odds: "evens", want: 2.0, ok: true},
		{odds: "7/0", ok: false},
		{odds: "7", ok: false},
		{odds: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.odds, func(t *testing.T) {
			got, ok := parseFractionalOdds(tt.odds)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}

func TestMergeRace_PrefersIncomingNonEmpty(t *testing.T) {
	existing := &Race{
		RaceID: "rac_1",
		Course: "Ascot",
		Going:  "Good",
		Status: RaceStatusScheduled,
	}

	mergeRace(existing, &Race{
		RaceID: "rac_1",
		Going:  "Soft",
		Status: RaceStatusResulted,
	})

	assert.Equal(t, "Ascot", existing.Course)
	assert.Equal(t, "Soft", existing.Going)
	assert.Equal(t, RaceStatusResulted, existing.Status)
}

func TestMergeEntity_StatsUntouched(t *testing.T) {
	existing := &Entity{
		Type:     "horse",
		EntityID: "hrs_1",
		Enriched: true,
		Stats:    EntityStats{TotalRuns: 12, TotalWins: 3},
	}

	mergeEntity(existing, &Entity{
		Type:     "horse",
		EntityID: "hrs_1",
		Name:     "Frankel",
	})

	assert.True(t, existing.Enriched)
	assert.Equal(t, "Frankel", existing.Name)
	assert.Equal(t, 12, existing.Stats.TotalRuns)
	assert.Equal(t, 3, existing.Stats.TotalWins)
}
