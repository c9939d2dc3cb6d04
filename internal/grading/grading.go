// Package grading computes marks, late penalties and letter grades.
package grading

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrScaleMissingFloor marks a grade scale that cannot classify every percentage.
	ErrScaleMissingFloor = errors.New("grade scale has no zero floor entry")
	// ErrInvalidMaxMarks is returned when the assignment's maximum marks are not positive.
	ErrInvalidMaxMarks = errors.New("max marks must be positive")
	// ErrNegativeMarks is returned for negative component marks.
	ErrNegativeMarks = errors.New("marks must not be negative")
)

// ScaleEntry maps a minimum percentage to a letter.
type ScaleEntry struct {
	MinPercent float64 `json:"min_percent"`
	Letter     string  `json:"letter"`
}

// Scale is a validated grade scale ordered by descending threshold.
type Scale struct {
	entries []ScaleEntry
}

// NewScale sorts entries descending and checks that some entry covers 0%.
func NewScale(entries []ScaleEntry) (Scale, error) {
	if len(entries) == 0 {
		return Scale{}, ErrScaleMissingFloor
	}

	sorted := make([]ScaleEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPercent > sorted[j].MinPercent
	})

	for _, entry := range sorted {
		if strings.TrimSpace(entry.Letter) == "" {
			return Scale{}, fmt.Errorf("grade scale entry at %.2f%% has no letter", entry.MinPercent)
		}
	}

	if sorted[len(sorted)-1].MinPercent > 0 {
		return Scale{}, ErrScaleMissingFloor
	}

	return Scale{entries: sorted}, nil
}

// ParseScale reads the compact "90:A+,80:A,0:F" form used in configuration.
func ParseScale(raw string) (Scale, error) {
	parts := strings.Split(raw, ",")
	entries := make([]ScaleEntry, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		threshold, letter, ok := strings.Cut(part, ":")
		if !ok {
			return Scale{}, fmt.Errorf("invalid grade scale entry %q", part)
		}
		minPercent, err := strconv.ParseFloat(strings.TrimSpace(threshold), 64)
		if err != nil {
			return Scale{}, fmt.Errorf("invalid grade scale threshold %q: %w", threshold, err)
		}
		entries = append(entries, ScaleEntry{MinPercent: minPercent, Letter: strings.TrimSpace(letter)})
	}
	return NewScale(entries)
}

// Entries returns a copy of the scale, highest threshold first.
func (s Scale) Entries() []ScaleEntry {
	out := make([]ScaleEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Letter returns the first letter whose threshold is at or below percentage.
func (s Scale) Letter(percentage float64) string {
	for _, entry := range s.entries {
		if entry.MinPercent <= percentage {
			return entry.Letter
		}
	}
	// Unreachable for scales built by NewScale unless percentage is negative.
	if len(s.entries) > 0 {
		return s.entries[len(s.entries)-1].Letter
	}
	return "F"
}

// Marks are the raw component marks awarded by an examiner.
type Marks struct {
	Practical float64 `json:"practical"`
	Output    float64 `json:"output"`
	Viva      float64 `json:"viva"`
}

// Total sums the components.
func (m Marks) Total() float64 {
	return m.Practical + m.Output + m.Viva
}

// Policy carries the assignment-side inputs of a grade computation.
type Policy struct {
	MaxMarks             float64
	LateDays             int
	PenaltyPercentPerDay float64
}

// Result is a computed grade.
type Result struct {
	Total          float64 `json:"total"`
	PenaltyPercent float64 `json:"penalty_percent"`
	PenaltyMarks   float64 `json:"penalty_marks"`
	Final          float64 `json:"final"`
	Percentage     float64 `json:"percentage"`
	Letter         string  `json:"letter"`
}

// Compute derives total, penalty, final marks, percentage and letter.
func Compute(marks Marks, policy Policy, scale Scale) (Result, error) {
	if marks.Practical < 0 || marks.Output < 0 || marks.Viva < 0 {
		return Result{}, ErrNegativeMarks
	}
	if policy.MaxMarks <= 0 {
		return Result{}, ErrInvalidMaxMarks
	}
	if len(scale.entries) == 0 {
		return Result{}, ErrScaleMissingFloor
	}

	total := marks.Total()
	penaltyPercent := PenaltyPercent(policy.LateDays, policy.PenaltyPercentPerDay)
	penaltyMarks := total * penaltyPercent / 100
	final := math.Max(0, total-penaltyMarks)
	percentage := final / policy.MaxMarks * 100

	result := Result{
		Total:          round2(total),
		PenaltyPercent: round2(penaltyPercent),
		PenaltyMarks:   round2(penaltyMarks),
		Final:          round2(final),
		Percentage:     round2(percentage),
		// Thresholds apply to the exact percentage; rounding is for storage only.
		Letter: scale.Letter(percentage),
	}
	return result, nil
}

// PenaltyPercent is perDay*lateDays capped to [0, 100].
func PenaltyPercent(lateDays int, perDay float64) float64 {
	if lateDays <= 0 || perDay <= 0 {
		return 0
	}
	return math.Min(perDay*float64(lateDays), 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
