package models

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// Submission represents one numbered attempt of a student at an assignment.
type Submission struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	SchoolID         uint            `gorm:"not null;index" json:"school_id"`
	AssignmentID     uint            `gorm:"not null;uniqueIndex:idx_submission_attempt,priority:1" json:"assignment_id"`
	StudentID        uint            `gorm:"not null;uniqueIndex:idx_submission_attempt,priority:2;index" json:"student_id"`
	SubmissionNumber int             `gorm:"not null;uniqueIndex:idx_submission_attempt,priority:3" json:"submission_number"`
	Content          string          `gorm:"type:text" json:"content"`
	Code             string          `gorm:"type:text" json:"code"`
	Output           string          `gorm:"type:text" json:"output"`
	Status           workflow.Status `gorm:"size:32;not null;index" json:"status"`
	IsLate           bool            `gorm:"not null;default:false" json:"is_late"`
	LateDays         int             `gorm:"not null;default:0" json:"late_days"`
	SubmittedAt      time.Time       `gorm:"not null" json:"submitted_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Assignment       Assignment      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
	Student          Student         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
	Grade            *Grade          `json:"grade,omitempty"`
}

// IsGraded reports whether the submission reached a graded state.
func (s Submission) IsGraded() bool {
	return s.Status == workflow.StatusGraded || s.Status == workflow.StatusReturned
}

// SubmissionRevision keeps the content a submission had before an in-place edit.
type SubmissionRevision struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubmissionID   uint      `gorm:"not null;uniqueIndex:idx_submission_revision,priority:1" json:"submission_id"`
	RevisionNumber int       `gorm:"not null;uniqueIndex:idx_submission_revision,priority:2" json:"revision_number"`
	Content        string    `gorm:"type:text" json:"content"`
	Code           string    `gorm:"type:text" json:"code"`
	Output         string    `gorm:"type:text" json:"output"`
	EditedBy       uint      `gorm:"not null" json:"edited_by"`
	CreatedAt      time.Time `json:"created_at"`
}
