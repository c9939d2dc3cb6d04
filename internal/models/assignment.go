package models

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/targeting"
)

// Assignment lifecycle values.
const (
	AssignmentStatusDraft     = "draft"
	AssignmentStatusPublished = "published"
	AssignmentStatusArchived  = "archived"
)

// Assignment represents a lab assignment with its marks breakdown and late policy.
type Assignment struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	SchoolID              uint               `gorm:"not null;index" json:"school_id"`
	CreatedBy             uint               `gorm:"not null;index" json:"created_by"`
	Title                 string             `gorm:"size:255;not null" json:"title"`
	Description           string             `gorm:"type:text" json:"description"`
	MaxMarks              float64            `gorm:"not null" json:"max_marks"`
	PracticalMarks        float64            `gorm:"not null" json:"practical_marks"`
	OutputMarks           float64            `gorm:"not null" json:"output_marks"`
	VivaMarks             float64            `gorm:"not null" json:"viva_marks"`
	PassingMarks          float64            `gorm:"not null" json:"passing_marks"`
	Status                string             `gorm:"size:16;not null;default:draft;index" json:"status"`
	DueDate               time.Time          `gorm:"not null" json:"due_date"`
	LateSubmissionAllowed bool               `gorm:"not null;default:false" json:"late_submission_allowed"`
	LatePenaltyPercent    float64            `gorm:"not null;default:0" json:"late_penalty_percent"`
	PlaceholderStudentID  *uint              `gorm:"uniqueIndex" json:"placeholder_student_id,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
	Targets               []AssignmentTarget `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"targets,omitempty"`
}

// IsPublished reports whether students may submit.
func (a Assignment) IsPublished() bool {
	return a.Status == AssignmentStatusPublished
}

// IsPlaceholder reports whether the assignment was synthesised for standalone viva scheduling.
func (a Assignment) IsPlaceholder() bool {
	return a.PlaceholderStudentID != nil
}

// AssignmentTarget binds an assignment to exactly one class, group or student.
type AssignmentTarget struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	AssignmentID        uint       `gorm:"not null;index" json:"assignment_id"`
	TargetType          string     `gorm:"size:16;not null" json:"target_type"`
	ClassID             *uint      `gorm:"index" json:"class_id,omitempty"`
	GroupID             *uint      `gorm:"index" json:"group_id,omitempty"`
	StudentID           *uint      `gorm:"index" json:"student_id,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	SpecialInstructions string     `gorm:"type:text" json:"special_instructions"`
	IsLocked            bool       `gorm:"not null;default:false" json:"is_locked"`
	CreatedBy           uint       `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NewAssignmentTarget flattens a target into its storage row.
func NewAssignmentTarget(assignmentID uint, target targeting.Target) AssignmentTarget {
	classID, groupID, studentID := target.Columns()
	return AssignmentTarget{
		AssignmentID: assignmentID,
		TargetType:   string(target.Kind()),
		ClassID:      classID,
		GroupID:      groupID,
		StudentID:    studentID,
	}
}

// Target rebuilds the addressing sum type, failing on inconsistent rows.
func (t AssignmentTarget) Target() (targeting.Target, error) {
	return targeting.FromColumns(t.TargetType, t.ClassID, t.GroupID, t.StudentID)
}

// Addressed converts the row into the resolver's view including overrides.
func (t AssignmentTarget) Addressed() (targeting.Addressed, error) {
	target, err := t.Target()
	if err != nil {
		return targeting.Addressed{}, err
	}
	return targeting.Addressed{Target: target, DueDate: t.DueDate, Locked: t.IsLocked}, nil
}
