package dto

import (
	"time"

	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/models"
)

// GradeCreateRequest grades a submission for the first time.
type GradeCreateRequest struct {
	PracticalMarks float64 `json:"practical_marks" validate:"gte=0"`
	OutputMarks    float64 `json:"output_marks" validate:"gte=0"`
	VivaMarks      float64 `json:"viva_marks" validate:"gte=0"`
	Remarks        string  `json:"remarks" validate:"omitempty,max=5000"`
}

// GradeUpdateRequest revises an existing grade. Version, when sent, must match the stored one.
type GradeUpdateRequest struct {
	PracticalMarks float64 `json:"practical_marks" validate:"gte=0"`
	OutputMarks    float64 `json:"output_marks" validate:"gte=0"`
	VivaMarks      float64 `json:"viva_marks" validate:"gte=0"`
	Remarks        *string `json:"remarks" validate:"omitempty,max=5000"`
	Reason         string  `json:"reason" validate:"omitempty,max=1000"`
	Version        *int    `json:"version" validate:"omitempty,gt=0"`
}

// GradeResponse serializes a grade.
type GradeResponse struct {
	ID               uint      `json:"id"`
	SubmissionID     uint      `json:"submission_id"`
	PracticalMarks   float64   `json:"practical_marks"`
	OutputMarks      float64   `json:"output_marks"`
	VivaMarks        float64   `json:"viva_marks"`
	TotalMarks       float64   `json:"total_marks"`
	LatePenaltyMarks float64   `json:"late_penalty_marks"`
	FinalMarks       float64   `json:"final_marks"`
	Percentage       float64   `json:"percentage"`
	GradeLetter      string    `json:"grade_letter"`
	Remarks          string    `json:"remarks"`
	GradedBy         uint      `json:"graded_by"`
	GradedAt         time.Time `json:"graded_at"`
	Version          int       `json:"version"`
}

// GradeHistoryResponse serializes one audit entry.
type GradeHistoryResponse struct {
	ID        uint             `json:"id"`
	GradeID   uint             `json:"grade_id"`
	Before    grading.Snapshot `json:"before"`
	After     grading.Snapshot `json:"after"`
	ChangedBy uint             `json:"changed_by"`
	Reason    string           `json:"reason"`
	CreatedAt time.Time        `json:"created_at"`
}

// GradeScaleEntryRequest is one threshold of a submitted scale.
type GradeScaleEntryRequest struct {
	MinPercent float64 `json:"min_percent" validate:"gte=0,lte=100"`
	Letter     string  `json:"letter" validate:"required,max=8"`
}

// GradeScaleRequest replaces a school's scale.
type GradeScaleRequest struct {
	Entries []GradeScaleEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

// GradeScaleResponse returns the scale in effect for a school.
type GradeScaleResponse struct {
	SchoolID uint                 `json:"school_id"`
	Source   string               `json:"source"`
	Entries  []grading.ScaleEntry `json:"entries"`
}

// NewGradeResponse converts a grade model into a DTO.
func NewGradeResponse(model models.Grade) GradeResponse {
	return GradeResponse{
		ID:               model.ID,
		SubmissionID:     model.SubmissionID,
		PracticalMarks:   model.PracticalMarks,
		OutputMarks:      model.OutputMarks,
		VivaMarks:        model.VivaMarks,
		TotalMarks:       model.TotalMarks,
		LatePenaltyMarks: model.LatePenaltyMarks,
		FinalMarks:       model.FinalMarks,
		Percentage:       model.Percentage,
		GradeLetter:      model.GradeLetter,
		Remarks:          model.Remarks,
		GradedBy:         model.GradedBy,
		GradedAt:         model.GradedAt,
		Version:          model.Version,
	}
}

// NewGradeHistoryResponseSlice converts history rows into DTOs.
func NewGradeHistoryResponseSlice(items []models.GradeHistory) []GradeHistoryResponse {
	responses := make([]GradeHistoryResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, GradeHistoryResponse{
			ID:        item.ID,
			GradeID:   item.GradeID,
			Before:    item.Before.Data(),
			After:     item.After.Data(),
			ChangedBy: item.ChangedBy,
			Reason:    item.Reason,
			CreatedAt: item.CreatedAt,
		})
	}
	return responses
}
