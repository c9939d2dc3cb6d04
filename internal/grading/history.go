package grading

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrHistoryGap is returned by Replay when a change does not start from the state left by the
// previous one.
var ErrHistoryGap = errors.New("grade history is not contiguous")

// Snapshot is the full observable state of a grade at one point in time.
type Snapshot struct {
	Practical    float64 `json:"practical"`
	Output       float64 `json:"output"`
	Viva         float64 `json:"viva"`
	Total        float64 `json:"total"`
	PenaltyMarks float64 `json:"penalty_marks"`
	Final        float64 `json:"final"`
	Percentage   float64 `json:"percentage"`
	Letter       string  `json:"letter"`
}

// NewSnapshot combines raw marks with their computed result.
func NewSnapshot(marks Marks, result Result) Snapshot {
	return Snapshot{
		Practical:    marks.Practical,
		Output:       marks.Output,
		Viva:         marks.Viva,
		Total:        result.Total,
		PenaltyMarks: result.PenaltyMarks,
		Final:        result.Final,
		Percentage:   result.Percentage,
		Letter:       result.Letter,
	}
}

// Equal compares two snapshots with a tolerance suited to two-decimal marks.
func (s Snapshot) Equal(other Snapshot) bool {
	const eps = 1e-6
	return math.Abs(s.Practical-other.Practical) < eps &&
		math.Abs(s.Output-other.Output) < eps &&
		math.Abs(s.Viva-other.Viva) < eps &&
		math.Abs(s.Total-other.Total) < eps &&
		math.Abs(s.PenaltyMarks-other.PenaltyMarks) < eps &&
		math.Abs(s.Final-other.Final) < eps &&
		math.Abs(s.Percentage-other.Percentage) < eps &&
		s.Letter == other.Letter
}

// Change is one audit entry: a grade moved from Before to After.
type Change struct {
	Before    Snapshot
	After     Snapshot
	ChangedBy uint
	Reason    string
	ChangedAt time.Time
}

// Replay applies changes in order on top of the snapshot recorded at creation.
func Replay(initial Snapshot, changes []Change) (Snapshot, error) {
	current := initial
	for i, change := range changes {
		if !change.Before.Equal(current) {
			return Snapshot{}, fmt.Errorf("%w at entry %d", ErrHistoryGap, i)
		}
		current = change.After
	}
	return current, nil
}

// LateDays counts started days between due and submittedAt; zero when on time.
func LateDays(due, submittedAt time.Time) int {
	if !submittedAt.After(due) {
		return 0
	}
	return int(math.Ceil(submittedAt.Sub(due).Hours() / 24))
}
