package dto

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/models"
)

const isoLayout = time.RFC3339

// ParseTimestamp parses the RFC3339 timestamps accepted by every request payload.
func ParseTimestamp(raw string) (time.Time, error) {
	return time.Parse(isoLayout, raw)
}

// AssignmentCreateRequest describes the payload for creating a new assignment.
type AssignmentCreateRequest struct {
	Title                 string          `json:"title" validate:"required,min=3,max=255"`
	Description           string          `json:"description" validate:"omitempty,max=20000"`
	DueDate               string          `json:"due_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	MaxMarks              float64         `json:"max_marks" validate:"gt=0"`
	PracticalMarks        float64         `json:"practical_marks" validate:"gte=0"`
	OutputMarks           float64         `json:"output_marks" validate:"gte=0"`
	VivaMarks             float64         `json:"viva_marks" validate:"gte=0"`
	PassingMarks          float64         `json:"passing_marks" validate:"gte=0"`
	LateSubmissionAllowed bool            `json:"late_submission_allowed"`
	LatePenaltyPercent    float64         `json:"late_penalty_percent" validate:"gte=0,lte=100"`
	Targets               []TargetRequest `json:"targets" validate:"omitempty,dive"`
}

// AssignmentUpdateRequest describes the payload for updating an assignment.
type AssignmentUpdateRequest struct {
	Title                 *string  `json:"title" validate:"omitempty,min=3,max=255"`
	Description           *string  `json:"description" validate:"omitempty,max=20000"`
	DueDate               *string  `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	MaxMarks              *float64 `json:"max_marks" validate:"omitempty,gt=0"`
	PracticalMarks        *float64 `json:"practical_marks" validate:"omitempty,gte=0"`
	OutputMarks           *float64 `json:"output_marks" validate:"omitempty,gte=0"`
	VivaMarks             *float64 `json:"viva_marks" validate:"omitempty,gte=0"`
	PassingMarks          *float64 `json:"passing_marks" validate:"omitempty,gte=0"`
	LateSubmissionAllowed *bool    `json:"late_submission_allowed"`
	LatePenaltyPercent    *float64 `json:"late_penalty_percent" validate:"omitempty,gte=0,lte=100"`
}

// AssignmentListQuery filters staff listings.
type AssignmentListQuery struct {
	Status string `query:"status" validate:"omitempty,oneof=draft published archived"`
	Search string `query:"search" validate:"omitempty,max=255"`
	Mine   bool   `query:"mine"`
}

// TargetRequest addresses an assignment at one class, group or student.
type TargetRequest struct {
	Type                string  `json:"type" validate:"required,oneof=class group student"`
	ID                  uint    `json:"id" validate:"required,gt=0"`
	DueDate             *string `json:"due_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	SpecialInstructions string  `json:"special_instructions" validate:"omitempty,max=5000"`
	IsLocked            bool    `json:"is_locked"`
}

// TargetResponse serializes an assignment target.
type TargetResponse struct {
	ID                  uint       `json:"id"`
	AssignmentID        uint       `json:"assignment_id"`
	Type                string     `json:"type"`
	ClassID             *uint      `json:"class_id,omitempty"`
	GroupID             *uint      `json:"group_id,omitempty"`
	StudentID           *uint      `json:"student_id,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	SpecialInstructions string     `json:"special_instructions,omitempty"`
	IsLocked            bool       `json:"is_locked"`
	CreatedAt           time.Time  `json:"created_at"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID                    uint             `json:"id"`
	SchoolID              uint             `json:"school_id"`
	CreatedBy             uint             `json:"created_by"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	Status                string           `json:"status"`
	DueDate               time.Time        `json:"due_date"`
	MaxMarks              float64          `json:"max_marks"`
	PracticalMarks        float64          `json:"practical_marks"`
	OutputMarks           float64          `json:"output_marks"`
	VivaMarks             float64          `json:"viva_marks"`
	PassingMarks          float64          `json:"passing_marks"`
	LateSubmissionAllowed bool             `json:"late_submission_allowed"`
	LatePenaltyPercent    float64          `json:"late_penalty_percent"`
	Targets               []TargetResponse `json:"targets"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// NewTargetResponse converts a target row into a DTO.
func NewTargetResponse(model models.AssignmentTarget) TargetResponse {
	return TargetResponse{
		ID:                  model.ID,
		AssignmentID:        model.AssignmentID,
		Type:                model.TargetType,
		ClassID:             model.ClassID,
		GroupID:             model.GroupID,
		StudentID:           model.StudentID,
		DueDate:             model.DueDate,
		SpecialInstructions: model.SpecialInstructions,
		IsLocked:            model.IsLocked,
		CreatedAt:           model.CreatedAt,
	}
}

// NewTargetResponseSlice converts target rows into DTOs.
func NewTargetResponseSlice(targets []models.AssignmentTarget) []TargetResponse {
	responses := make([]TargetResponse, 0, len(targets))
	for _, target := range targets {
		responses = append(responses, NewTargetResponse(target))
	}
	return responses
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:                    model.ID,
		SchoolID:              model.SchoolID,
		CreatedBy:             model.CreatedBy,
		Title:                 model.Title,
		Description:           model.Description,
		Status:                model.Status,
		DueDate:               model.DueDate,
		MaxMarks:              model.MaxMarks,
		PracticalMarks:        model.PracticalMarks,
		OutputMarks:           model.OutputMarks,
		VivaMarks:             model.VivaMarks,
		PassingMarks:          model.PassingMarks,
		LateSubmissionAllowed: model.LateSubmissionAllowed,
		LatePenaltyPercent:    model.LatePenaltyPercent,
		Targets:               NewTargetResponseSlice(model.Targets),
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}
