package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale reports a compare-and-swap update that matched no row.
	ErrStale = errors.New("record changed concurrently")
)

// Repositories groups the repositories bound to one database handle, usually a transaction.
type Repositories struct {
	Assignments   AssignmentRepository
	Enrollments   EnrollmentRepository
	Submissions   SubmissionRepository
	Grades        GradeRepository
	GradeScales   GradeScaleRepository
	Vivas         VivaRepository
	Notifications NotificationRepository
	Activity      ActivityLogRepository
}

// NewRepositories builds every repository on top of db.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Assignments:   NewAssignmentRepository(db),
		Enrollments:   NewEnrollmentRepository(db),
		Submissions:   NewSubmissionRepository(db),
		Grades:        NewGradeRepository(db),
		GradeScales:   NewGradeScaleRepository(db),
		Vivas:         NewVivaRepository(db),
		Notifications: NewNotificationRepository(db),
		Activity:      NewActivityLogRepository(db),
	}
}

// Transactor runs a unit of work so that every write inside fn commits or none does.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor returns a GORM-backed unit of work.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewRepositories(tx))
	})
}

// translate maps driver-specific unique violations onto ErrDuplicate.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// Postgres reports SQLSTATE 23505; SQLite reports "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
