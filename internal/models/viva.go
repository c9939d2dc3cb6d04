package models

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// Viva modes.
const (
	VivaModeOnline  = "online"
	VivaModeOffline = "offline"
)

// VivaSession is a scheduled oral examination. The submission link is optional.
type VivaSession struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	SchoolID      uint                `gorm:"not null;index" json:"school_id"`
	SubmissionID  *uint               `gorm:"index" json:"submission_id,omitempty"`
	StudentID     uint                `gorm:"not null;index" json:"student_id"`
	ExaminerID    uint                `gorm:"not null;index" json:"examiner_id"`
	Status        workflow.VivaStatus `gorm:"size:16;not null;index" json:"status"`
	Mode          string              `gorm:"size:16;not null;default:online" json:"mode"`
	ScheduledAt   time.Time           `gorm:"not null" json:"scheduled_at"`
	MeetingLink   string              `gorm:"size:512" json:"meeting_link"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	MarksObtained *float64            `json:"marks_obtained,omitempty"`
	MaxMarks      *float64            `json:"max_marks,omitempty"`
	Rating        *int                `json:"rating,omitempty"`
	Remarks       string              `gorm:"type:text" json:"remarks"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
