package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// VivaFilter narrows viva listings.
type VivaFilter struct {
	SchoolID   uint
	StudentID  *uint
	ExaminerID *uint
	Status     *workflow.VivaStatus
}

// VivaRepository persists viva sessions.
type VivaRepository interface {
	Create(ctx context.Context, session *models.VivaSession) error
	GetByID(ctx context.Context, id uint) (models.VivaSession, error)
	List(ctx context.Context, filter VivaFilter) ([]models.VivaSession, error)
	CompareAndUpdate(ctx context.Context, session *models.VivaSession, from workflow.VivaStatus) error
}

type vivaRepository struct {
	db *gorm.DB
}

// NewVivaRepository constructs the viva repository.
func NewVivaRepository(db *gorm.DB) VivaRepository {
	return &vivaRepository{db: db}
}

func (r *vivaRepository) Create(ctx context.Context, session *models.VivaSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *vivaRepository) GetByID(ctx context.Context, id uint) (models.VivaSession, error) {
	var session models.VivaSession
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return models.VivaSession{}, err
	}
	return session, nil
}

func (r *vivaRepository) List(ctx context.Context, filter VivaFilter) ([]models.VivaSession, error) {
	query := r.db.WithContext(ctx).Model(&models.VivaSession{}).Where("school_id = ?", filter.SchoolID)
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.ExaminerID != nil {
		query = query.Where("examiner_id = ?", *filter.ExaminerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var sessions []models.VivaSession
	if err := query.Order("scheduled_at ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// CompareAndUpdate saves the session only if it is still in status from.
func (r *vivaRepository) CompareAndUpdate(ctx context.Context, session *models.VivaSession, from workflow.VivaStatus) error {
	result := r.db.WithContext(ctx).Model(&models.VivaSession{}).
		Where("id = ? AND status = ?", session.ID, from).
		Updates(map[string]interface{}{
			"status":         session.Status,
			"started_at":     session.StartedAt,
			"completed_at":   session.CompletedAt,
			"marks_obtained": session.MarksObtained,
			"max_marks":      session.MaxMarks,
			"rating":         session.Rating,
			"remarks":        session.Remarks,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}
