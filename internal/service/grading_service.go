package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

// Scale sources reported by GetScale.
const (
	ScaleSourceDefault = "default"
	ScaleSourceSchool  = "school"
)

// ScaleSettings configures grade scale lookup.
type ScaleSettings struct {
	Default     grading.Scale
	CacheTTL    time.Duration
	CachePrefix string
}

// GradingService grades submissions and keeps the audit trail of every revision.
type GradingService interface {
	Create(ctx context.Context, principal Principal, submissionID uint, payload dto.GradeCreateRequest) (dto.GradeResponse, error)
	Update(ctx context.Context, principal Principal, gradeID uint, payload dto.GradeUpdateRequest) (dto.GradeResponse, error)
	GetBySubmission(ctx context.Context, principal Principal, submissionID uint) (dto.GradeResponse, error)
	History(ctx context.Context, principal Principal, gradeID uint) ([]dto.GradeHistoryResponse, error)
	GetScale(ctx context.Context, principal Principal) (dto.GradeScaleResponse, error)
	PutScale(ctx context.Context, principal Principal, payload dto.GradeScaleRequest) (dto.GradeScaleResponse, error)
}

type gradingService struct {
	repos       repository.Repositories
	tx          repository.Transactor
	cache       *redis.Client
	scales      ScaleSettings
	broadcaster realtime.Broadcaster
	notifier    Notifier
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type cachedScale struct {
	Source  string               `json:"source"`
	Entries []grading.ScaleEntry `json:"entries"`
}

// NewGradingService constructs the grading service. cache may be nil.
func NewGradingService(repos repository.Repositories, tx repository.Transactor, cache *redis.Client, scales ScaleSettings, broadcaster realtime.Broadcaster, notifier Notifier, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) GradingService {
	if scales.CachePrefix == "" {
		scales.CachePrefix = "lab"
	}
	return &gradingService{
		repos:       repos,
		tx:          tx,
		cache:       cache,
		scales:      scales,
		broadcaster: broadcaster,
		notifier:    notifier,
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/labrecord-api/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) Create(ctx context.Context, principal Principal, submissionID uint, payload dto.GradeCreateRequest) (dto.GradeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grades.create", trace.WithAttributes(
		attribute.Int64("grade.submission_id", int64(submissionID)),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.GradeResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeResponse{}, err
	}

	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, submissionID)
	if err != nil {
		return dto.GradeResponse{}, err
	}

	marks := grading.Marks{Practical: payload.PracticalMarks, Output: payload.OutputMarks, Viva: payload.VivaMarks}
	result, err := s.compute(ctx, principal.SchoolID, submission, marks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_compute_failed")
		return dto.GradeResponse{}, err
	}

	grade := models.Grade{
		SubmissionID: submission.ID,
		Remarks:      s.sanitizer.Sanitize(payload.Remarks),
		GradedBy:     principal.UserID,
		GradedAt:     s.now().UTC(),
		Version:      1,
	}
	grade.Apply(marks, result)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Grades.GetBySubmission(ctx, submission.ID); err == nil {
			return ErrAlreadyGraded
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		next, err := workflow.Transition(submission.Status, workflow.EventGrade)
		if err != nil {
			return precondition(ReasonInvalidTransition, err.Error())
		}

		if err := repos.Grades.Create(ctx, &grade); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyGraded
			}
			return err
		}
		return conflict(repos.Submissions.CompareAndSetStatus(ctx, submission.ID, submission.Status, next))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_create_failed")
		return dto.GradeResponse{}, err
	}

	response := dto.NewGradeResponse(grade)
	observability.Grades().WithLabelValues("create").Inc()
	observability.StatusTransitions().WithLabelValues("submission", string(workflow.EventGrade)).Inc()
	s.logger.Info().
		Uint("grade_id", grade.ID).
		Uint("submission_id", submission.ID).
		Float64("final_marks", grade.FinalMarks).
		Str("letter", grade.GradeLetter).
		Msg("submission graded")

	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(submission.StudentID), realtime.EventGradePublished, response)
	notifyQuietly(ctx, s.notifier, s.logger, submission.StudentID, NotificationGradePublished,
		fmt.Sprintf("Your submission for %s was graded %s", submission.Assignment.Title, grade.GradeLetter))
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionGradeCreated,
		EntityType: "grade",
		EntityID:   uintPtr(grade.ID),
		Metadata: map[string]interface{}{
			"submission_id": submission.ID,
			"final_marks":   grade.FinalMarks,
			"letter":        grade.GradeLetter,
		},
	})

	return response, nil
}

// Update revises the marks under a version check and appends exactly one history row.
func (s *gradingService) Update(ctx context.Context, principal Principal, gradeID uint, payload dto.GradeUpdateRequest) (dto.GradeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grades.update", trace.WithAttributes(
		attribute.Int64("grade.id", int64(gradeID)),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.GradeResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeResponse{}, err
	}

	grade, submission, err := s.loadGrade(ctx, principal, gradeID)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	if payload.Version != nil && *payload.Version != grade.Version {
		return dto.GradeResponse{}, fmt.Errorf("%w: grade is at version %d", ErrConflict, grade.Version)
	}

	marks := grading.Marks{Practical: payload.PracticalMarks, Output: payload.OutputMarks, Viva: payload.VivaMarks}
	result, err := s.compute(ctx, principal.SchoolID, submission, marks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_compute_failed")
		return dto.GradeResponse{}, err
	}

	before := grade.Snapshot()
	expected := grade.Version
	grade.Apply(marks, result)
	if payload.Remarks != nil {
		grade.Remarks = s.sanitizer.Sanitize(*payload.Remarks)
	}
	after := grade.Snapshot()

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Grades.UpdateVersioned(ctx, &grade, expected); err != nil {
			return conflict(err)
		}
		return repos.Grades.CreateHistory(ctx, &models.GradeHistory{
			GradeID:   grade.ID,
			Before:    datatypes.NewJSONType(before),
			After:     datatypes.NewJSONType(after),
			ChangedBy: principal.UserID,
			Reason:    strings.TrimSpace(s.sanitizer.Sanitize(payload.Reason)),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grade_update_failed")
		return dto.GradeResponse{}, err
	}

	response := dto.NewGradeResponse(grade)
	observability.Grades().WithLabelValues("update").Inc()
	s.logger.Info().
		Uint("grade_id", grade.ID).
		Int("version", grade.Version).
		Msg("grade updated")

	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(submission.StudentID), realtime.EventGradeUpdated, response)
	notifyQuietly(ctx, s.notifier, s.logger, submission.StudentID, NotificationGradeUpdated,
		fmt.Sprintf("Your grade for %s was updated to %s", submission.Assignment.Title, grade.GradeLetter))
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionGradeUpdated,
		EntityType: "grade",
		EntityID:   uintPtr(grade.ID),
		Metadata: map[string]interface{}{
			"before": before.Final,
			"after":  after.Final,
			"reason": payload.Reason,
		},
	})

	return response, nil
}

func (s *gradingService) GetBySubmission(ctx context.Context, principal Principal, submissionID uint) (dto.GradeResponse, error) {
	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, submissionID)
	if err != nil {
		return dto.GradeResponse{}, err
	}
	if !principal.IsStaff() && !(principal.IsStudent() && submission.StudentID == principal.UserID) {
		return dto.GradeResponse{}, ErrForbidden
	}

	grade, err := s.repos.Grades.GetBySubmission(ctx, submission.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradeResponse{}, ErrGradeNotFound
		}
		return dto.GradeResponse{}, err
	}
	return dto.NewGradeResponse(grade), nil
}

func (s *gradingService) History(ctx context.Context, principal Principal, gradeID uint) ([]dto.GradeHistoryResponse, error) {
	if !principal.IsStaff() {
		return nil, ErrForbidden
	}
	grade, _, err := s.loadGrade(ctx, principal, gradeID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repos.Grades.ListHistory(ctx, grade.ID)
	if err != nil {
		return nil, err
	}
	return dto.NewGradeHistoryResponseSlice(entries), nil
}

func (s *gradingService) GetScale(ctx context.Context, principal Principal) (dto.GradeScaleResponse, error) {
	scale, source, err := s.scaleFor(ctx, principal.SchoolID)
	if err != nil {
		return dto.GradeScaleResponse{}, err
	}
	return dto.GradeScaleResponse{SchoolID: principal.SchoolID, Source: source, Entries: scale.Entries()}, nil
}

func (s *gradingService) PutScale(ctx context.Context, principal Principal, payload dto.GradeScaleRequest) (dto.GradeScaleResponse, error) {
	if !principal.IsAdmin() {
		return dto.GradeScaleResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.GradeScaleResponse{}, err
	}

	entries := make([]grading.ScaleEntry, 0, len(payload.Entries))
	for _, entry := range payload.Entries {
		entries = append(entries, grading.ScaleEntry{MinPercent: entry.MinPercent, Letter: strings.TrimSpace(entry.Letter)})
	}
	scale, err := grading.NewScale(entries)
	if err != nil {
		return dto.GradeScaleResponse{}, precondition(ReasonInvalidGradeScale, err.Error())
	}

	rows := make([]models.GradeScaleEntry, 0, len(entries))
	for _, entry := range scale.Entries() {
		rows = append(rows, models.GradeScaleEntry{SchoolID: principal.SchoolID, MinPercent: entry.MinPercent, Letter: entry.Letter})
	}
	if err := s.repos.GradeScales.Replace(ctx, principal.SchoolID, rows); err != nil {
		return dto.GradeScaleResponse{}, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, s.scaleKey(principal.SchoolID)).Err(); err != nil {
			s.logger.Warn().Err(err).Uint("school_id", principal.SchoolID).Msg("failed to invalidate grade scale cache")
		}
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionGradeScaleReplaced,
		EntityType: "grade_scale",
		Metadata:   map[string]interface{}{"entries": len(rows)},
	})

	return dto.GradeScaleResponse{SchoolID: principal.SchoolID, Source: ScaleSourceSchool, Entries: scale.Entries()}, nil
}

// compute bounds each component by the assignment breakdown and applies the frozen late days.
func (s *gradingService) compute(ctx context.Context, schoolID uint, submission models.Submission, marks grading.Marks) (grading.Result, error) {
	assignment := submission.Assignment
	switch {
	case marks.Practical > assignment.PracticalMarks+marksEpsilon:
		return grading.Result{}, precondition(ReasonMarksExceedBreakdown, fmt.Sprintf("practical marks exceed %.2f", assignment.PracticalMarks))
	case marks.Output > assignment.OutputMarks+marksEpsilon:
		return grading.Result{}, precondition(ReasonMarksExceedBreakdown, fmt.Sprintf("output marks exceed %.2f", assignment.OutputMarks))
	case marks.Viva > assignment.VivaMarks+marksEpsilon:
		return grading.Result{}, precondition(ReasonMarksExceedBreakdown, fmt.Sprintf("viva marks exceed %.2f", assignment.VivaMarks))
	}

	scale, _, err := s.scaleFor(ctx, schoolID)
	if err != nil {
		return grading.Result{}, err
	}

	return grading.Compute(marks, grading.Policy{
		MaxMarks:             assignment.MaxMarks,
		LateDays:             submission.LateDays,
		PenaltyPercentPerDay: assignment.LatePenaltyPercent,
	}, scale)
}

func (s *gradingService) loadGrade(ctx context.Context, principal Principal, gradeID uint) (models.Grade, models.Submission, error) {
	grade, err := s.repos.Grades.GetByID(ctx, gradeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Grade{}, models.Submission{}, ErrGradeNotFound
		}
		return models.Grade{}, models.Submission{}, err
	}
	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, grade.SubmissionID)
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return models.Grade{}, models.Submission{}, ErrGradeNotFound
		}
		return models.Grade{}, models.Submission{}, err
	}
	return grade, submission, nil
}

func (s *gradingService) scaleKey(schoolID uint) string {
	return fmt.Sprintf("%s:grade-scale:%d", s.scales.CachePrefix, schoolID)
}

// scaleFor returns the school's scale, falling back to the configured default. A stored scale that
// fails validation is an integrity error.
func (s *gradingService) scaleFor(ctx context.Context, schoolID uint) (grading.Scale, string, error) {
	key := s.scaleKey(schoolID)
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			var cached cachedScale
			if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
				if scale, scaleErr := grading.NewScale(cached.Entries); scaleErr == nil {
					return scale, cached.Source, nil
				}
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read grade scale cache")
		}
	}

	rows, err := s.repos.GradeScales.ListBySchool(ctx, schoolID)
	if err != nil {
		return grading.Scale{}, "", err
	}

	scale := s.scales.Default
	source := ScaleSourceDefault
	if len(rows) > 0 {
		entries := make([]grading.ScaleEntry, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, grading.ScaleEntry{MinPercent: row.MinPercent, Letter: row.Letter})
		}
		if scale, err = grading.NewScale(entries); err != nil {
			s.logger.Error().Err(err).Uint("school_id", schoolID).Msg("stored grade scale is invalid")
			return grading.Scale{}, "", fmt.Errorf("grade scale of school %d: %w", schoolID, err)
		}
		source = ScaleSourceSchool
	}
	if len(scale.Entries()) == 0 {
		return grading.Scale{}, "", fmt.Errorf("no default grade scale configured: %w", grading.ErrScaleMissingFloor)
	}

	if s.cache != nil && s.scales.CacheTTL > 0 {
		payload, err := json.Marshal(cachedScale{Source: source, Entries: scale.Entries()})
		if err == nil {
			if err := s.cache.Set(ctx, key, payload, s.scales.CacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store grade scale cache")
			}
		}
	}

	return scale, source, nil
}
