package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/labrecord-api/internal/grading"
)

// Grade is the single evaluation of a submission.
type Grade struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SubmissionID     uint      `gorm:"not null;uniqueIndex" json:"submission_id"`
	PracticalMarks   float64   `gorm:"not null" json:"practical_marks"`
	OutputMarks      float64   `gorm:"not null" json:"output_marks"`
	VivaMarks        float64   `gorm:"not null" json:"viva_marks"`
	TotalMarks       float64   `gorm:"not null" json:"total_marks"`
	LatePenaltyMarks float64   `gorm:"not null;default:0" json:"late_penalty_marks"`
	FinalMarks       float64   `gorm:"not null" json:"final_marks"`
	Percentage       float64   `gorm:"not null" json:"percentage"`
	GradeLetter      string    `gorm:"size:8;not null" json:"grade_letter"`
	Remarks          string    `gorm:"type:text" json:"remarks"`
	GradedBy         uint      `gorm:"not null" json:"graded_by"`
	GradedAt         time.Time `gorm:"not null" json:"graded_at"`
	Version          int       `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Marks returns the raw component marks.
func (g Grade) Marks() grading.Marks {
	return grading.Marks{Practical: g.PracticalMarks, Output: g.OutputMarks, Viva: g.VivaMarks}
}

// Snapshot captures the audited fields of the grade.
func (g Grade) Snapshot() grading.Snapshot {
	return grading.Snapshot{
		Practical:    g.PracticalMarks,
		Output:       g.OutputMarks,
		Viva:         g.VivaMarks,
		Total:        g.TotalMarks,
		PenaltyMarks: g.LatePenaltyMarks,
		Final:        g.FinalMarks,
		Percentage:   g.Percentage,
		Letter:       g.GradeLetter,
	}
}

// Apply copies marks and their computed result onto the grade.
func (g *Grade) Apply(marks grading.Marks, result grading.Result) {
	g.PracticalMarks = marks.Practical
	g.OutputMarks = marks.Output
	g.VivaMarks = marks.Viva
	g.TotalMarks = result.Total
	g.LatePenaltyMarks = result.PenaltyMarks
	g.FinalMarks = result.Final
	g.Percentage = result.Percentage
	g.GradeLetter = result.Letter
}

// GradeHistory is an append-only audit entry for a grade mutation.
type GradeHistory struct {
	ID        uint                                `gorm:"primaryKey" json:"id"`
	GradeID   uint                                `gorm:"not null;index" json:"grade_id"`
	Before    datatypes.JSONType[grading.Snapshot] `json:"before"`
	After     datatypes.JSONType[grading.Snapshot] `json:"after"`
	ChangedBy uint                                `gorm:"not null" json:"changed_by"`
	Reason    string                              `gorm:"type:text" json:"reason"`
	CreatedAt time.Time                           `json:"created_at"`
}

// Change converts the row into the replayable form.
func (h GradeHistory) Change() grading.Change {
	return grading.Change{
		Before:    h.Before.Data(),
		After:     h.After.Data(),
		ChangedBy: h.ChangedBy,
		Reason:    h.Reason,
		ChangedAt: h.CreatedAt,
	}
}

// GradeScaleEntry is one threshold of a school's letter-grade scale.
type GradeScaleEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SchoolID   uint      `gorm:"not null;index" json:"school_id"`
	MinPercent float64   `gorm:"not null" json:"min_percent"`
	Letter     string    `gorm:"size:8;not null" json:"letter"`
	CreatedAt  time.Time `json:"created_at"`
}
