package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
)

// GradeScaleRepository stores per-school letter-grade scales.
type GradeScaleRepository interface {
	ListBySchool(ctx context.Context, schoolID uint) ([]models.GradeScaleEntry, error)
	Replace(ctx context.Context, schoolID uint, entries []models.GradeScaleEntry) error
}

type gradeScaleRepository struct {
	db *gorm.DB
}

// NewGradeScaleRepository constructs the scale repository.
func NewGradeScaleRepository(db *gorm.DB) GradeScaleRepository {
	return &gradeScaleRepository{db: db}
}

func (r *gradeScaleRepository) ListBySchool(ctx context.Context, schoolID uint) ([]models.GradeScaleEntry, error) {
	var entries []models.GradeScaleEntry
	if err := r.db.WithContext(ctx).
		Where("school_id = ?", schoolID).
		Order("min_percent DESC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Replace swaps the whole scale of a school atomically.
func (r *gradeScaleRepository) Replace(ctx context.Context, schoolID uint, entries []models.GradeScaleEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("school_id = ?", schoolID).Delete(&models.GradeScaleEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for i := range entries {
			entries[i].ID = 0
			entries[i].SchoolID = schoolID
		}
		return tx.Create(&entries).Error
	})
}
