package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
)

// GradeRepository persists grades and their append-only history.
type GradeRepository interface {
	Create(ctx context.Context, grade *models.Grade) error
	GetByID(ctx context.Context, id uint) (models.Grade, error)
	GetBySubmission(ctx context.Context, submissionID uint) (models.Grade, error)
	UpdateVersioned(ctx context.Context, grade *models.Grade, expectedVersion int) error
	CreateHistory(ctx context.Context, history *models.GradeHistory) error
	ListHistory(ctx context.Context, gradeID uint) ([]models.GradeHistory, error)
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository builds a grade repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

// Create relies on the unique index on submission_id to reject a second grade.
func (r *gradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	return translate(r.db.WithContext(ctx).Create(grade).Error)
}

func (r *gradeRepository) GetByID(ctx context.Context, id uint) (models.Grade, error) {
	var grade models.Grade
	if err := r.db.WithContext(ctx).First(&grade, id).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

func (r *gradeRepository) GetBySubmission(ctx context.Context, submissionID uint) (models.Grade, error) {
	var grade models.Grade
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&grade).Error; err != nil {
		return models.Grade{}, err
	}
	return grade, nil
}

// UpdateVersioned writes the grade only if its version is still expectedVersion and bumps it.
func (r *gradeRepository) UpdateVersioned(ctx context.Context, grade *models.Grade, expectedVersion int) error {
	next := expectedVersion + 1
	result := r.db.WithContext(ctx).Model(&models.Grade{}).
		Where("id = ? AND version = ?", grade.ID, expectedVersion).
		Updates(map[string]interface{}{
			"practical_marks":    grade.PracticalMarks,
			"output_marks":       grade.OutputMarks,
			"viva_marks":         grade.VivaMarks,
			"total_marks":        grade.TotalMarks,
			"late_penalty_marks": grade.LatePenaltyMarks,
			"final_marks":        grade.FinalMarks,
			"percentage":         grade.Percentage,
			"grade_letter":       grade.GradeLetter,
			"remarks":            grade.Remarks,
			"version":            next,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStale
	}
	grade.Version = next
	return nil
}

func (r *gradeRepository) CreateHistory(ctx context.Context, history *models.GradeHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

func (r *gradeRepository) ListHistory(ctx context.Context, gradeID uint) ([]models.GradeHistory, error) {
	var entries []models.GradeHistory
	if err := r.db.WithContext(ctx).
		Where("grade_id = ?", gradeID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
