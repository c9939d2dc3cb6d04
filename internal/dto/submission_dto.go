package dto

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/models"
)

// SubmissionCreateRequest opens a new numbered submission.
type SubmissionCreateRequest struct {
	AssignmentID uint   `json:"assignment_id" validate:"required,gt=0"`
	Content      string `json:"content" validate:"omitempty,max=100000"`
	Code         string `json:"code" validate:"omitempty,max=200000"`
	Output       string `json:"output" validate:"omitempty,max=100000"`
}

// SubmissionUpdateRequest edits the content of an open submission in place.
type SubmissionUpdateRequest struct {
	Content *string `json:"content" validate:"omitempty,max=100000"`
	Code    *string `json:"code" validate:"omitempty,max=200000"`
	Output  *string `json:"output" validate:"omitempty,max=100000"`
}

// SubmissionStatusRequest moves a submission to another status.
type SubmissionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=submitted under_review needs_revision viva_scheduled viva_completed graded returned"`
}

// SubmissionListQuery describes query string filters for listing submissions.
type SubmissionListQuery struct {
	AssignmentID *uint  `query:"assignment_id"`
	StudentID    *uint  `query:"student_id"`
	Status       string `query:"status" validate:"omitempty,oneof=submitted under_review needs_revision viva_scheduled viva_completed graded returned"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID               uint           `json:"id"`
	AssignmentID     uint           `json:"assignment_id"`
	StudentID        uint           `json:"student_id"`
	SubmissionNumber int            `json:"submission_number"`
	Content          string         `json:"content"`
	Code             string         `json:"code"`
	Output           string         `json:"output"`
	Status           string         `json:"status"`
	IsLate           bool           `json:"is_late"`
	LateDays         int            `json:"late_days"`
	SubmittedAt      time.Time      `json:"submitted_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Assignment       AssignmentLite `json:"assignment"`
	Student          StudentLite    `json:"student"`
	Grade            *GradeResponse `json:"grade,omitempty"`
}

// AssignmentLite summarizes an assignment in submission responses.
type AssignmentLite struct {
	ID       uint      `json:"id"`
	Title    string    `json:"title"`
	DueDate  time.Time `json:"due_date"`
	MaxMarks float64   `json:"max_marks"`
}

// StudentLite summarizes a student without exposing full profile data.
type StudentLite struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RevisionResponse serializes the content a submission had before an edit.
type RevisionResponse struct {
	ID             uint      `json:"id"`
	SubmissionID   uint      `json:"submission_id"`
	RevisionNumber int       `json:"revision_number"`
	Content        string    `json:"content"`
	Code           string    `json:"code"`
	Output         string    `json:"output"`
	EditedBy       uint      `json:"edited_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		StudentID:        model.StudentID,
		SubmissionNumber: model.SubmissionNumber,
		Content:          model.Content,
		Code:             model.Code,
		Output:           model.Output,
		Status:           string(model.Status),
		IsLate:           model.IsLate,
		LateDays:         model.LateDays,
		SubmittedAt:      model.SubmittedAt,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}

	if model.Assignment.ID != 0 {
		response.Assignment = AssignmentLite{
			ID:       model.Assignment.ID,
			Title:    model.Assignment.Title,
			DueDate:  model.Assignment.DueDate,
			MaxMarks: model.Assignment.MaxMarks,
		}
	}

	if model.Student.ID != 0 {
		response.Student = StudentLite{
			ID:    model.Student.ID,
			Name:  model.Student.Name,
			Email: model.Student.Email,
		}
	}

	if model.Grade != nil && model.Grade.ID != 0 {
		grade := NewGradeResponse(*model.Grade)
		response.Grade = &grade
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, submission := range items {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}

// NewRevisionResponseSlice converts revision rows into DTOs.
func NewRevisionResponseSlice(items []models.SubmissionRevision) []RevisionResponse {
	responses := make([]RevisionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, RevisionResponse{
			ID:             item.ID,
			SubmissionID:   item.SubmissionID,
			RevisionNumber: item.RevisionNumber,
			Content:        item.Content,
			Code:           item.Code,
			Output:         item.Output,
			EditedBy:       item.EditedBy,
			CreatedAt:      item.CreatedAt,
		})
	}
	return responses
}
