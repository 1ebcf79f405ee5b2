package aggregate

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed baselines.yaml
var baselinesYAML []byte

// BaselineTable holds the fixed expected win rates per class and
// distance bucket used by AE index computation.
type BaselineTable struct {
	Default  float64            `yaml:"default"`
	Class    map[string]float64 `yaml:"class"`
	Distance map[string]float64 `yaml:"distance"`
}

// LoadBaselines parses the embedded baseline table.
func LoadBaselines() (*BaselineTable, error) {
	var table BaselineTable
	if err := yaml.Unmarshal(baselinesYAML, &table); err != nil {
		return nil, fmt.Errorf("parsing baseline table: %w", err)
	}

	if table.Default <= 0 {
		return nil, fmt.Errorf("baseline table default rate must be positive")
	}

	return &table, nil
}

// ClassRate returns the baseline win rate for a class bucket.
func (t *BaselineTable) ClassRate(class string) float64 {
	if rate, ok := t.Class[ClassBucket(class)]; ok {
		return rate
	}

	return t.Default
}

// DistanceRate returns the baseline win rate for a distance bucket.
func (t *BaselineTable) DistanceRate(bucket string) float64 {
	if rate, ok := t.Distance[bucket]; ok {
		return rate
	}

	return t.Default
}

// ClassBucket normalizes a raw race class ("Class 4", "4") to its
// bucket name. Unrecognized classes map to "unclassified".
func ClassBucket(class string) string {
	trimmed := strings.TrimSpace(class)
	trimmed = strings.TrimPrefix(trimmed, "Class ")
	trimmed = strings.TrimPrefix(trimmed, "class ")

	if trimmed == "" {
		return "unclassified"
	}

	return trimmed
}

// DistanceBucket maps a race distance in furlongs to its bucket name.
func DistanceBucket(furlongs float64) string {
	switch {
	case furlongs <= 0:
		return "unknown"
	case furlongs < 7:
		return "5-6f"
	case furlongs < 9:
		return "7-8f"
	case furlongs < 11:
		return "9-10f"
	case furlongs < 13:
		return "11-12f"
	case furlongs < 17:
		return "13-16f"
	default:
		return "17f+"
	}
}
