package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/targeting"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// lateSubmission creates a submission three started days past due on a 10%/day assignment.
func lateSubmission(t *testing.T, fx *fixture) dto.SubmissionResponse {
	t.Helper()
	due := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	assignment := fx.publishedAssignment(t, due, func(a *models.Assignment) {
		a.LateSubmissionAllowed = true
		a.LatePenaltyPercent = 10
	}, targeting.ClassTarget(fx.class.ID))

	submittedAt := due.Add(2*24*time.Hour + time.Hour)
	submission, err := fx.submissions(submittedAt).Create(context.Background(), fx.pupil, dto.SubmissionCreateRequest{AssignmentID: assignment.ID, Content: "late"})
	require.NoError(t, err)
	require.Equal(t, 3, submission.LateDays)
	return submission
}

func TestGradingServiceAppliesFrozenLatePenalty(t *testing.T) {
	fx := newFixture(t)
	submission := lateSubmission(t, fx)
	svc := fx.grader(t, ScaleSettings{})

	grade, err := svc.Create(context.Background(), fx.teacher, submission.ID, dto.GradeCreateRequest{
		PracticalMarks: 40,
		OutputMarks:    25,
		VivaMarks:      18,
		Remarks:        "<em>solid</em>",
	})
	require.NoError(t, err)
	require.InDelta(t, 83, grade.TotalMarks, 1e-9)
	require.InDelta(t, 24.9, grade.LatePenaltyMarks, 1e-9)
	require.InDelta(t, 58.1, grade.FinalMarks, 1e-9)
	require.InDelta(t, 58.1, grade.Percentage, 1e-9)
	require.Equal(t, "D", grade.GradeLetter)
	require.Equal(t, "solid", grade.Remarks)
	require.Equal(t, 1, grade.Version)

	stored, err := fx.repos.Submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusGraded, stored.Status)

	require.Len(t, fx.recorder.Find(realtime.UserRoom(fx.student.ID), realtime.EventGradePublished), 1)

	fetched, err := svc.GetBySubmission(context.Background(), fx.pupil, submission.ID)
	require.NoError(t, err)
	require.Equal(t, grade.ID, fetched.ID)
}

func TestGradingServiceRejectsSecondGrade(t *testing.T) {
	fx := newFixture(t)
	submission := lateSubmission(t, fx)
	svc := fx.grader(t, ScaleSettings{})

	payload := dto.GradeCreateRequest{PracticalMarks: 10, OutputMarks: 10, VivaMarks: 10}
	_, err := svc.Create(context.Background(), fx.teacher, submission.ID, payload)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), fx.admin, submission.ID, payload)
	require.ErrorIs(t, err, ErrConflict)
	require.ErrorIs(t, err, ErrAlreadyGraded)
}

func TestGradingServiceConcurrentGradesYieldOneWinner(t *testing.T) {
	fx := newFixture(t)
	submission := lateSubmission(t, fx)
	svc := fx.grader(t, ScaleSettings{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), fx.teacher, submission.ID, dto.GradeCreateRequest{PracticalMarks: 10})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, ErrConflict), "unexpected error %v", err)
	}
	require.Equal(t, 1, succeeded)
}

func TestGradingServiceRejectsMarksAboveBreakdown(t *testing.T) {
	fx := newFixture(t)
	submission := lateSubmission(t, fx)
	svc := fx.grader(t, ScaleSettings{})

	_, err := svc.Create(context.Background(), fx.teacher, submission.ID, dto.GradeCreateRequest{PracticalMarks: 51})
	requireReason(t, err, ReasonMarksExceedBreakdown)

	_, err = svc.Create(context.Background(), fx.pupil, submission.ID, dto.GradeCreateRequest{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestGradingServiceHistoryReplaysToCurrentGrade(t *testing.T) {
	fx := newFixture(t)
	submission := lateSubmission(t, fx)
	svc := fx.grader(t, ScaleSettings{})

	grade, err := svc.Create(context.Background(), fx.teacher, submission.ID, dto.GradeCreateRequest{PracticalMarks: 40, OutputMarks: 25, VivaMarks: 18})
	require.NoError(t, err)

	updates := []dto.GradeUpdateRequest{
		{PracticalMarks: 45, OutputMarks: 25, VivaMarks: 18, Reason: "recount"},
		{PracticalMarks: 50, OutputMarks: 30, VivaMarks: 20, Reason: "appeal"},
	}
	var current dto.GradeResponse
	for i, update := range updates {
		version := grade.Version + i
		update.Version = &version
		current, err = svc.Update(context.Background(), fx.teacher, grade.ID, update)
		require.NoError(t, err)
	}
	require.Equal(t, 3, current.Version)
	require.InDelta(t, 70, current.FinalMarks, 1e-9)

	history, err := svc.History(context.Background(), fx.teacher, grade.ID)
	require.NoError(t, err)
	require.Len(t, history, len(updates))
	require.Equal(t, "recount", history[0].Reason)

	changes := make([]grading.Change, 0, len(history))
	for _, entry := range history {
		changes = append(changes, grading.Change{Before: entry.Before, After: entry.After})
	}
	replayed, err := grading.Replay(history[0].Before, changes)
	require.NoError(t, err)

	stored, err := fx.repos.Grades.GetByID(context.Background(), grade.ID)
	require.NoError(t, err)
	require.True(t, replayed.Equal(stored.Snapshot()))

	stale := 1
	_, err = svc.Update(context.Background(), fx.teacher, grade.ID, dto.GradeUpdateRequest{PracticalMarks: 1, Version: &stale})
	require.ErrorIs(t, err, ErrConflict)

	history, err = svc.History(context.Background(), fx.teacher, grade.ID)
	require.NoError(t, err)
	require.Len(t, history, len(updates), "a rejected update leaves no history row")

	_, err = svc.History(context.Background(), fx.pupil, grade.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestGradingServiceSchoolScaleIsCachedAndInvalidated(t *testing.T) {
	fx := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := NewGradingService(fx.repos, fx.tx, client, ScaleSettings{
		Default:     testScale(t),
		CacheTTL:    time.Minute,
		CachePrefix: "test",
	}, fx.recorder, fx.notifications(), fx.activity(), fx.validate, testLogger())

	scale, err := svc.GetScale(context.Background(), fx.pupil)
	require.NoError(t, err)
	require.Equal(t, ScaleSourceDefault, scale.Source)
	require.True(t, mr.Exists("test:grade-scale:1"))

	_, err = svc.PutScale(context.Background(), fx.teacher, dto.GradeScaleRequest{})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.PutScale(context.Background(), fx.admin, dto.GradeScaleRequest{Entries: []dto.GradeScaleEntryRequest{{MinPercent: 50, Letter: "P"}}})
	requireReason(t, err, ReasonInvalidGradeScale)

	replaced, err := svc.PutScale(context.Background(), fx.admin, dto.GradeScaleRequest{Entries: []dto.GradeScaleEntryRequest{
		{MinPercent: 0, Letter: "Fail"},
		{MinPercent: 50, Letter: "Pass"},
	}})
	require.NoError(t, err)
	require.Equal(t, "Pass", replaced.Entries[0].Letter)
	require.False(t, mr.Exists("test:grade-scale:1"))

	scale, err = svc.GetScale(context.Background(), fx.teacher)
	require.NoError(t, err)
	require.Equal(t, ScaleSourceSchool, scale.Source)
	require.Len(t, scale.Entries, 2)

	submission := lateSubmission(t, fx)
	grade, err := svc.Create(context.Background(), fx.teacher, submission.ID, dto.GradeCreateRequest{PracticalMarks: 40, OutputMarks: 25, VivaMarks: 18})
	require.NoError(t, err)
	require.Equal(t, "Pass", grade.GradeLetter)
}

func TestGradingServiceInvalidStoredScaleIsAnIntegrityError(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.db.Create(&models.GradeScaleEntry{SchoolID: testSchool, MinPercent: 40, Letter: "P"}).Error)
	svc := fx.grader(t, ScaleSettings{})

	_, err := svc.GetScale(context.Background(), fx.teacher)
	require.ErrorIs(t, err, grading.ErrScaleMissingFloor)
}
