package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/realtime/realtimetest"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

const testSchool uint = 1

type fixture struct {
	db       *gorm.DB
	repos    repository.Repositories
	tx       repository.Transactor
	recorder *realtimetest.Recorder
	validate *validator.Validate

	teacher Principal
	admin   Principal
	class   models.Class
	student models.Student
	pupil   Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	fx := &fixture{
		db:       db,
		repos:    repository.NewRepositories(db),
		tx:       repository.NewTransactor(db),
		recorder: &realtimetest.Recorder{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		teacher:  Principal{UserID: 100, Role: RoleTeacher, SchoolID: testSchool},
		admin:    Principal{UserID: 101, Role: RoleAdmin, SchoolID: testSchool},
	}

	fx.class = models.Class{SchoolID: testSchool, Name: "CS-A"}
	require.NoError(t, db.Create(&fx.class).Error)
	fx.student = fx.newStudent(t, "ana", fx.class.ID)
	fx.pupil = Principal{UserID: fx.student.ID, Role: RoleStudent, SchoolID: testSchool}
	return fx
}

// newStudent enrolls a student actively in classID when it is non-zero.
func (fx *fixture) newStudent(t *testing.T, name string, classID uint) models.Student {
	t.Helper()
	student := models.Student{SchoolID: testSchool, Name: name, Email: name + "@school.test"}
	require.NoError(t, fx.db.Create(&student).Error)
	if classID != 0 {
		require.NoError(t, fx.db.Create(&models.ClassEnrollment{
			ClassID:   classID,
			StudentID: student.ID,
			Status:    models.EnrollmentStatusActive,
		}).Error)
	}
	return student
}

// publishedAssignment stores a published 50/30/20 assignment created by the fixture teacher.
func (fx *fixture) publishedAssignment(t *testing.T, due time.Time, mutate func(*models.Assignment), targets ...targeting.Target) models.Assignment {
	t.Helper()
	assignment := models.Assignment{
		SchoolID:       testSchool,
		CreatedBy:      fx.teacher.UserID,
		Title:          "Linked lists",
		MaxMarks:       100,
		PracticalMarks: 50,
		OutputMarks:    30,
		VivaMarks:      20,
		PassingMarks:   40,
		Status:         models.AssignmentStatusPublished,
		DueDate:        due.UTC(),
	}
	if mutate != nil {
		mutate(&assignment)
	}
	require.NoError(t, fx.repos.Assignments.Create(context.Background(), &assignment))
	for _, target := range targets {
		row := models.NewAssignmentTarget(assignment.ID, target)
		row.CreatedBy = fx.teacher.UserID
		require.NoError(t, fx.repos.Assignments.CreateTarget(context.Background(), &row))
	}
	return assignment
}

func (fx *fixture) activity() ActivityService {
	return NewActivityService(fx.repos.Activity, fx.validate, testLogger())
}

func (fx *fixture) notifications() NotificationService {
	return NewNotificationService(fx.repos.Notifications, fx.recorder, 50, testLogger())
}

func (fx *fixture) assignments() AssignmentService {
	return NewAssignmentService(fx.repos, fx.tx, fx.recorder, fx.activity(), fx.validate, testLogger())
}

func (fx *fixture) submissions(now time.Time) SubmissionService {
	svc := NewSubmissionService(fx.repos, fx.tx, fx.recorder, fx.notifications(), fx.activity(), fx.validate, 3, testLogger())
	svc.(*submissionService).now = func() time.Time { return now }
	return svc
}

func (fx *fixture) grader(t *testing.T, settings ScaleSettings) GradingService {
	t.Helper()
	if len(settings.Default.Entries()) == 0 {
		settings.Default = testScale(t)
	}
	return NewGradingService(fx.repos, fx.tx, nil, settings, fx.recorder, fx.notifications(), fx.activity(), fx.validate, testLogger())
}

func (fx *fixture) vivas(placeholders bool) VivaService {
	return NewVivaService(fx.repos, fx.tx, fx.recorder, fx.notifications(), fx.activity(), fx.validate, placeholders, testLogger())
}

func testScale(t *testing.T) grading.Scale {
	t.Helper()
	scale, err := grading.ParseScale("90:A+,80:A,70:B,60:C,50:D,0:F")
	require.NoError(t, err)
	return scale
}

func activityFilterForSchool() repository.ActivityLogFilter {
	return repository.ActivityLogFilter{Page: 1, PageSize: 50, SchoolID: testSchool}
}

func repositoryVivaFilter() repository.VivaFilter {
	return repository.VivaFilter{SchoolID: testSchool}
}
