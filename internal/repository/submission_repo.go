package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	SchoolID     uint
	AssignmentID *uint
	StudentID    *uint
	Status       *workflow.Status
}

// SubmissionContent holds the editable free-text fields.
type SubmissionContent struct {
	Content string
	Code    string
	Output  string
}

// SubmissionRepository defines data operations for submissions and their revisions.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetForUpdate(ctx context.Context, id uint) (models.Submission, error)
	Latest(ctx context.Context, assignmentID, studentID uint) (models.Submission, error)
	LatestOpen(ctx context.Context, assignmentID, studentID uint, status workflow.Status) (models.Submission, error)
	MaxSubmissionNumber(ctx context.Context, assignmentID, studentID uint) (int, error)
	CountByAssignment(ctx context.Context, assignmentID uint) (int64, error)
	Create(ctx context.Context, submission *models.Submission) error
	UpdateContent(ctx context.Context, id uint, from, to workflow.Status, content SubmissionContent) error
	CompareAndSetStatus(ctx context.Context, id uint, from, to workflow.Status) error
	CreateRevision(ctx context.Context, revision *models.SubmissionRevision) error
	NextRevisionNumber(ctx context.Context, submissionID uint) (int, error)
	ListRevisions(ctx context.Context, submissionID uint) ([]models.SubmissionRevision, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("Assignment").
		Preload("Student").
		Preload("Grade")
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.baseQuery(ctx)

	if filter.SchoolID != 0 {
		query = query.Where("school_id = ?", filter.SchoolID)
	}
	if filter.AssignmentID != nil {
		query = query.Where("assignment_id = ?", *filter.AssignmentID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("created_at DESC").Order("id DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Latest(ctx context.Context, assignmentID, studentID uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Order("submission_number DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) LatestOpen(ctx context.Context, assignmentID, studentID uint, status workflow.Status) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ? AND student_id = ? AND status = ?", assignmentID, studentID, status).
		Order("submission_number DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) MaxSubmissionNumber(ctx context.Context, assignmentID, studentID uint) (int, error) {
	var max int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Select("COALESCE(MAX(submission_number), 0)").
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Row().Scan(&max); err != nil {
		return 0, err
	}
	return int(max), nil
}

func (r *submissionRepository) CountByAssignment(ctx context.Context, assignmentID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("assignment_id = ?", assignmentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return translate(r.db.WithContext(ctx).Omit("Assignment", "Student", "Grade").Create(submission).Error)
}

// GetForUpdate reads the bare row under a row lock. Call it inside a transaction.
func (r *submissionRepository) GetForUpdate(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// UpdateContent rewrites the content and moves from -> to in one conditional statement.
func (r *submissionRepository) UpdateContent(ctx context.Context, id uint, from, to workflow.Status, content SubmissionContent) error {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"content": content.Content,
			"code":    content.Code,
			"output":  content.Output,
			"status":  to,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// CompareAndSetStatus moves the submission only if it is still in from.
func (r *submissionRepository) CompareAndSetStatus(ctx context.Context, id uint, from, to workflow.Status) error {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

func (r *submissionRepository) CreateRevision(ctx context.Context, revision *models.SubmissionRevision) error {
	return translate(r.db.WithContext(ctx).Create(revision).Error)
}

func (r *submissionRepository) NextRevisionNumber(ctx context.Context, submissionID uint) (int, error) {
	var max int64
	if err := r.db.WithContext(ctx).Model(&models.SubmissionRevision{}).
		Select("COALESCE(MAX(revision_number), 0)").
		Where("submission_id = ?", submissionID).
		Row().Scan(&max); err != nil {
		return 0, err
	}
	return int(max) + 1, nil
}

func (r *submissionRepository) ListRevisions(ctx context.Context, submissionID uint) ([]models.SubmissionRevision, error) {
	var revisions []models.SubmissionRevision
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("revision_number ASC").
		Find(&revisions).Error; err != nil {
		return nil, err
	}
	return revisions, nil
}
