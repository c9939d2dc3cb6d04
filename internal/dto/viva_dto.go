package dto

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/models"
)

// VivaScheduleRequest schedules a viva against a submission.
type VivaScheduleRequest struct {
	SubmissionID uint   `json:"submission_id" validate:"required,gt=0"`
	ScheduledAt  string `json:"scheduled_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Mode         string `json:"mode" validate:"omitempty,oneof=online offline"`
	MeetingLink  string `json:"meeting_link" validate:"omitempty,url,max=512"`
}

// VivaStandaloneRequest schedules a viva for a student without a submission.
type VivaStandaloneRequest struct {
	StudentID   uint   `json:"student_id" validate:"required,gt=0"`
	ScheduledAt string `json:"scheduled_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Mode        string `json:"mode" validate:"omitempty,oneof=online offline"`
	MeetingLink string `json:"meeting_link" validate:"omitempty,url,max=512"`
}

// VivaCompleteRequest records the outcome of a viva.
type VivaCompleteRequest struct {
	MarksObtained *float64 `json:"marks_obtained" validate:"required"`
	MaxMarks      *float64 `json:"max_marks" validate:"required"`
	Rating        *int     `json:"rating" validate:"omitempty,min=1,max=5"`
	Remarks       string   `json:"remarks" validate:"omitempty,max=5000"`
}

// VivaListQuery filters viva listings.
type VivaListQuery struct {
	Status    string `query:"status" validate:"omitempty,oneof=scheduled in_progress completed"`
	StudentID *uint  `query:"student_id"`
	Mine      bool   `query:"mine"`
}

// VivaResponse serializes a viva session.
type VivaResponse struct {
	ID            uint       `json:"id"`
	SubmissionID  *uint      `json:"submission_id,omitempty"`
	StudentID     uint       `json:"student_id"`
	ExaminerID    uint       `json:"examiner_id"`
	Status        string     `json:"status"`
	Mode          string     `json:"mode"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	MeetingLink   string     `json:"meeting_link,omitempty"`
	Room          string     `json:"room"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	MarksObtained *float64   `json:"marks_obtained,omitempty"`
	MaxMarks      *float64   `json:"max_marks,omitempty"`
	Rating        *int       `json:"rating,omitempty"`
	Remarks       string     `json:"remarks,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NewVivaResponse converts a viva session into a DTO. room is its signaling room.
func NewVivaResponse(model models.VivaSession, room string) VivaResponse {
	return VivaResponse{
		ID:            model.ID,
		SubmissionID:  model.SubmissionID,
		StudentID:     model.StudentID,
		ExaminerID:    model.ExaminerID,
		Status:        string(model.Status),
		Mode:          model.Mode,
		ScheduledAt:   model.ScheduledAt,
		MeetingLink:   model.MeetingLink,
		Room:          room,
		StartedAt:     model.StartedAt,
		CompletedAt:   model.CompletedAt,
		MarksObtained: model.MarksObtained,
		MaxMarks:      model.MaxMarks,
		Rating:        model.Rating,
		Remarks:       model.Remarks,
		CreatedAt:     model.CreatedAt,
	}
}
