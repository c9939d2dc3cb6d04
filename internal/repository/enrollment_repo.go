package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

// EnrollmentRepository reads the class and group memberships that make up a student's scope.
type EnrollmentRepository interface {
	Enrollments(ctx context.Context, studentID uint) ([]targeting.Enrollment, error)
	GroupIDs(ctx context.Context, studentID uint) ([]uint, error)
	GetStudent(ctx context.Context, id uint) (models.Student, error)
	ClassSchool(ctx context.Context, classID uint) (uint, error)
	GroupSchool(ctx context.Context, groupID uint) (uint, error)
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository constructs the roster repository.
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) Enrollments(ctx context.Context, studentID uint) ([]targeting.Enrollment, error) {
	var rows []models.ClassEnrollment
	if err := r.db.WithContext(ctx).Where("student_id = ?", studentID).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]targeting.Enrollment, 0, len(rows))
	for _, row := range rows {
		out = append(out, targeting.Enrollment{
			ClassID: row.ClassID,
			Active:  row.Status == models.EnrollmentStatusActive,
		})
	}
	return out, nil
}

func (r *enrollmentRepository) GroupIDs(ctx context.Context, studentID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.GroupMembership{}).
		Where("student_id = ?", studentID).
		Pluck("group_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *enrollmentRepository) GetStudent(ctx context.Context, id uint) (models.Student, error) {
	var student models.Student
	if err := r.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return models.Student{}, err
	}
	return student, nil
}

func (r *enrollmentRepository) ClassSchool(ctx context.Context, classID uint) (uint, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).Select("id", "school_id").First(&class, classID).Error; err != nil {
		return 0, err
	}
	return class.SchoolID, nil
}

func (r *enrollmentRepository) GroupSchool(ctx context.Context, groupID uint) (uint, error) {
	var group models.StudentGroup
	if err := r.db.WithContext(ctx).Select("id", "school_id").First(&group, groupID).Error; err != nil {
		return 0, err
	}
	return group.SchoolID, nil
}
