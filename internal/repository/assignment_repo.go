package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

// AssignmentFilter describes listing options for staff.
type AssignmentFilter struct {
	SchoolID  uint
	Status    string
	CreatedBy *uint
	Search    string
}

// AssignmentRepository defines persistence operations for assignments and their targets.
type AssignmentRepository interface {
	List(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error)
	ListVisible(ctx context.Context, schoolID, studentID uint, scope targeting.Scope) ([]models.Assignment, error)
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id uint) error
	ListTargets(ctx context.Context, assignmentID uint) ([]models.AssignmentTarget, error)
	CreateTarget(ctx context.Context, target *models.AssignmentTarget) error
	DeleteTarget(ctx context.Context, assignmentID, targetID uint) error
	FindPlaceholder(ctx context.Context, studentID uint) (models.Assignment, error)
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates a GORM-backed repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) List(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error) {
	query := r.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("school_id = ?", filter.SchoolID).
		Where("placeholder_student_id IS NULL")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CreatedBy != nil {
		query = query.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var assignments []models.Assignment
	if err := query.Order("due_date ASC").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

// ListVisible returns published assignments addressed to the student, each once.
// Class and group predicates are only added for non-empty sets so that an empty scope can never
// widen the match.
func (r *assignmentRepository) ListVisible(ctx context.Context, schoolID, studentID uint, scope targeting.Scope) ([]models.Assignment, error) {
	predicate := r.db.Where("assignment_targets.target_type = ? AND assignment_targets.student_id = ?", string(targeting.KindStudent), studentID)
	if classIDs := scope.ClassIDList(); len(classIDs) > 0 {
		predicate = predicate.Or("assignment_targets.target_type = ? AND assignment_targets.class_id IN ?", string(targeting.KindClass), classIDs)
	}
	if groupIDs := scope.GroupIDList(); len(groupIDs) > 0 {
		predicate = predicate.Or("assignment_targets.target_type = ? AND assignment_targets.group_id IN ?", string(targeting.KindGroup), groupIDs)
	}

	// A doubly targeted assignment yields repeated ids here; the IN lookup below collapses them.
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.AssignmentTarget{}).
		Joins("JOIN assignments ON assignments.id = assignment_targets.assignment_id").
		Where("assignments.school_id = ? AND assignments.status = ?", schoolID, models.AssignmentStatusPublished).
		Where(predicate).
		Pluck("assignment_targets.assignment_id", &ids).Error; err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []models.Assignment{}, nil
	}

	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).
		Preload("Targets").
		Where("id IN ?", ids).
		Order("due_date ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).Preload("Targets").First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return translate(r.db.WithContext(ctx).Omit("Targets").Create(assignment).Error)
}

func (r *assignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Omit("Targets").Save(assignment).Error
}

func (r *assignmentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("assignment_id = ?", id).Delete(&models.AssignmentTarget{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Assignment{}, id).Error
	})
}

func (r *assignmentRepository) ListTargets(ctx context.Context, assignmentID uint) ([]models.AssignmentTarget, error) {
	var targets []models.AssignmentTarget
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("id ASC").
		Find(&targets).Error; err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *assignmentRepository) CreateTarget(ctx context.Context, target *models.AssignmentTarget) error {
	return translate(r.db.WithContext(ctx).Create(target).Error)
}

func (r *assignmentRepository) DeleteTarget(ctx context.Context, assignmentID, targetID uint) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND assignment_id = ?", targetID, assignmentID).
		Delete(&models.AssignmentTarget{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *assignmentRepository) FindPlaceholder(ctx context.Context, studentID uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).
		Where("placeholder_student_id = ?", studentID).
		First(&assignment).Error; err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}
