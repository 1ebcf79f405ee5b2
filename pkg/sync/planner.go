package sync

import (
	"fmt"
	"time"

	"github.com/formguide/racesyncer/pkg/config"
)

// Chunk is one bounded, contiguous date sub-range, inclusive on both
// ends, processed as a single unit of work.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Label returns a human-readable chunk identifier for logging.
func (c Chunk) Label() string {
	return fmt.Sprintf("%s..%s",
		c.Start.Format(config.DateLayout),
		c.End.Format(config.DateLayout))
}

// Days returns the number of calendar days the chunk covers.
func (c Chunk) Days() int {
	return int(c.End.Sub(c.Start).Hours()/24) + 1
}

// Planner splits an overall date range into chronologically ordered,
// non-overlapping chunks aligned to calendar-month boundaries.
type Planner struct {
	months int
}

// NewPlanner creates a planner producing chunks of the given number of
// calendar months.
func NewPlanner(months int) *Planner {
	if months <= 0 {
		months = 1
	}

	return &Planner{months: months}
}

// Plan returns the ordered chunk sequence covering [start, end]. The
// first and last chunks may be partial months so the union covers the
// range exactly, with no gaps and no overlap.
func (p *Planner) Plan(start, end time.Time) []Chunk {
	start = midnightUTC(start)
	end = midnightUTC(end)

	if end.Before(start) {
		return nil
	}

	var chunks []Chunk

	cursor := start

	for !cursor.After(end) {
		periodStart := time.Date(
			cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC,
		)

		chunkEnd := periodStart.AddDate(0, p.months, -1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		chunks = append(chunks, Chunk{Start: cursor, End: chunkEnd})

		cursor = chunkEnd.AddDate(0, 0, 1)
	}

	return chunks
}

// midnightUTC truncates a time to its UTC calendar date.
func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
