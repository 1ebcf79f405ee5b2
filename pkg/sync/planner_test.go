package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPlan_SingleMonthChunks(t *testing.T) {
	p := NewPlanner(1)

	chunks := p.Plan(date(2024, 1, 1), date(2024, 3, 31))
	require.Len(t, chunks, 3)

	assert.Equal(t, Chunk{Start: date(2024, 1, 1), End: date(2024, 1, 31)}, chunks[0])
	assert.Equal(t, Chunk{Start: date(2024, 2, 1), End: date(2024, 2, 29)}, chunks[1])
	assert.Equal(t, Chunk{Start: date(2024, 3, 1), End: date(2024, 3, 31)}, chunks[2])
}

func TestPlan_PartialFirstAndLastChunks(t *testing.T) {
	p := NewPlanner(1)

	chunks := p.Plan(date(2024, 1, 15), date(2024, 3, 10))
	require.Len(t, chunks, 3)

	assert.Equal(t, date(2024, 1, 15), chunks[0].Start)
	assert.Equal(t, date(2024, 1, 31), chunks[0].End)
	assert.Equal(t, date(2024, 2, 1), chunks[1].Start)
	assert.Equal(t, date(2024, 2, 29), chunks[1].End)
	assert.Equal(t, date(2024, 3, 1), chunks[2].Start)
	assert.Equal(t, date(2024, 3, 10), chunks[2].End)
}

func TestPlan_MultiMonthChunks(t *testing.T) {
	p := NewPlanner(3)

	chunks := p.Plan(date(2024, 1, 1), date(2024, 6, 30))
	require.Len(t, chunks, 2)

	assert.Equal(t, Chunk{Start: date(2024, 1, 1), End: date(2024, 3, 31)}, chunks[0])
	assert.Equal(t, Chunk{Start: date(2024, 4, 1), End: date(2024, 6, 30)}, chunks[1])
}

func TestPlan_SingleDay(t *testing.T) {
	p := NewPlanner(1)

	chunks := p.Plan(date(2024, 6, 15), date(2024, 6, 15))
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Start: date(2024, 6, 15), End: date(2024, 6, 15)}, chunks[0])
	assert.Equal(t, 1, chunks[0].Days())
}

func TestPlan_EndBeforeStart(t *testing.T) {
	p := NewPlanner(1)

	assert.Nil(t, p.Plan(date(2024, 6, 15), date(2024, 6, 14)))
}

func TestPlan_CoversRangeWithoutGapsOrOverlap(t *testing.T) {
	p := NewPlanner(2)

	start, end := date(2023, 11, 20), date(2024, 4, 7)
	chunks := p.Plan(start, end)
	require.NotEmpty(t, chunks)

	assert.Equal(t, start, chunks[0].Start)
	assert.Equal(t, end, chunks[len(chunks)-1].End)

	for i := 1; i < len(chunks); i++ {
		assert.Equal(t,
			chunks[i-1].End.AddDate(0, 0, 1), chunks[i].Start,
			"chunk %d must start the day after chunk %d ends", i, i-1)
	}
}

func TestChunkLabel(t *testing.T) {
	c := Chunk{Start: date(2024, 1, 1), End: date(2024, 1, 31)}
	assert.Equal(t, "2024-01-01..2024-01-31", c.Label())
}
