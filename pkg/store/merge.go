package store

import (
	"strconv"
	"strings"
)

// Merge policy: incoming non-empty values win, existing values are
// kept otherwise, and previously persisted data is never nulled out.
// For fields that arrive in two encodings (decimal vs fractional
// odds, pounds vs stones-pounds weight) the canonical field is the
// numeric one and the textual form is used to backfill it.

// mergeRace folds an incoming race into the existing row. The
// scheduled -> resulted transition only runs forward.
func mergeRace(existing, incoming *Race) {
	if !incoming.Date.IsZero() {
		existing.Date = incoming.Date
	}

	existing.Course = pickString(existing.Course, incoming.Course)
	existing.OffTime = pickString(existing.OffTime, incoming.OffTime)
	existing.Class = pickString(existing.Class, incoming.Class)
	existing.Surface = pickString(existing.Surface, incoming.Surface)
	existing.Going = pickString(existing.Going, incoming.Going)

	if incoming.DistanceFurlongs > 0 {
		existing.DistanceFurlongs = incoming.DistanceFurlongs
	}

	if incoming.Status == RaceStatusResulted {
		existing.Status = RaceStatusResulted
	}

	if existing.Status == "" {
		existing.Status = RaceStatusScheduled
	}
}

// mergeRunner folds an incoming runner into the existing row.
func mergeRunner(existing, incoming *Runner) {
	normalizeRunner(incoming)

	existing.JockeyID = pickString(existing.JockeyID, incoming.JockeyID)
	existing.TrainerID = pickString(existing.TrainerID, incoming.TrainerID)
	existing.OwnerID = pickString(existing.OwnerID, incoming.OwnerID)
	existing.SireID = pickString(existing.SireID, incoming.SireID)
	existing.DamID = pickString(existing.DamID, incoming.DamID)
	existing.DamsireID = pickString(existing.DamsireID, incoming.DamsireID)

	if incoming.Draw != nil {
		existing.Draw = incoming.Draw
	}

	if incoming.WeightLbs != nil {
		existing.WeightLbs = incoming.WeightLbs
	}

	existing.WeightStLb = pickString(existing.WeightStLb, incoming.WeightStLb)

	existing.Position = pickString(existing.Position, incoming.Position)

	if incoming.FinishPos != nil {
		existing.FinishPos = incoming.FinishPos
	}

	if incoming.BeatenBy != nil {
		existing.BeatenBy = incoming.BeatenBy
	}

	if incoming.SPDecimal != nil {
		existing.SPDecimal = incoming.SPDecimal
	}

	existing.SPFraction = pickString(existing.SPFraction, incoming.SPFraction)

	// Backfill canonical fields from the alternate encoding when only
	// it survived the merge.
	if existing.WeightLbs == nil {
		if lbs, ok := parseStonesPounds(existing.WeightStLb); ok {
			existing.WeightLbs = &lbs
		}
	}

	if existing.SPDecimal == nil {
		if dec, ok := parseFractionalOdds(existing.SPFraction); ok {
			existing.SPDecimal = &dec
		}
	}

	if existing.FinishPos == nil {
		if pos, ok := parsePosition(existing.Position); ok {
			existing.FinishPos = &pos
		}
	}
}

// mergeEntity folds an incoming entity into the existing row. The
// enriched flag never reverts and the statistics block is untouched.
func mergeEntity(existing, incoming *Entity) {
	existing.Name = pickString(existing.Name, incoming.Name)

	if incoming.Enriched {
		existing.Enriched = true
	}

	existing.DateOfBirth = pickString(existing.DateOfBirth, incoming.DateOfBirth)
	existing.Sex = pickString(existing.Sex, incoming.Sex)
	existing.Colour = pickString(existing.Colour, incoming.Colour)
	existing.Region = pickString(existing.Region, incoming.Region)
	existing.Breeder = pickString(existing.Breeder, incoming.Breeder)
	existing.Location = pickString(existing.Location, incoming.Location)
	existing.SireID = pickString(existing.SireID, incoming.SireID)
	existing.DamID = pickString(existing.DamID, incoming.DamID)
	existing.DamsireID = pickString(existing.DamsireID, incoming.DamsireID)
}

// normalizeRunner backfills canonical numeric fields on a fresh row.
func normalizeRunner(r *Runner) {
	if r.WeightLbs == nil {
		if lbs, ok := parseStonesPounds(r.WeightStLb); ok {
			r.WeightLbs = &lbs
		}
	}

	if r.SPDecimal == nil {
		if dec, ok := parseFractionalOdds(r.SPFraction); ok {
			r.SPDecimal = &dec
		}
	}

	if r.FinishPos == nil {
		if pos, ok := parsePosition(r.Position); ok {
			r.FinishPos = &pos
		}
	}
}

// pickString prefers the incoming value when it is non-empty.
func pickString(existing, incoming string) string {
	if strings.TrimSpace(incoming) != "" {
		return incoming
	}

	return existing
}

// parsePosition converts a textual finishing position to its numeric
// form. Non-finisher codes ("PU", "F", "UR", ...) return false.
func parsePosition(position string) (int, bool) {
	pos, err := strconv.Atoi(strings.TrimSpace(position))
	if err != nil || pos < 1 {
		return 0, false
	}

	return pos, true
}

// parseStonesPounds converts "9-7" style weights to total pounds.
func parseStonesPounds(weight string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(weight), "-", 2)
	if len(parts) != 2 {
		return 0, false
	}

	stones, err := strconv.Atoi(parts[0])
	if err != nil || stones < 0 {
		return 0, false
	}

	pounds, err := strconv.Atoi(parts[1])
	if err != nil || pounds < 0 || pounds > 13 {
		return 0, false
	}

	return stones*14 + pounds, true
}

// parseFractionalOdds converts "7/2" style odds to decimal odds
// (stake included), so 7/2 becomes 4.5. "Evs" is 2.0.
func parseFractionalOdds(odds string) (float64, bool) {
	trimmed := strings.TrimSpace(odds)
	if trimmed == "" {
		return 0, false
	}

	lower := strings.ToLower(trimmed)
	if lower == "evs" || lower == "evens" {
		return 2.0, true
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}

	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || num < 0 {
		return 0, false
	}

	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den <= 0 {
		return 0, false
	}

	return num/den + 1, true
}
