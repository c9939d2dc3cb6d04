package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/dto"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/targeting"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

const placeholderTitle = "Viva examination"

// VivaService schedules and runs oral examinations.
type VivaService interface {
	Schedule(ctx context.Context, principal Principal, payload dto.VivaScheduleRequest) (dto.VivaResponse, error)
	ScheduleStandalone(ctx context.Context, principal Principal, payload dto.VivaStandaloneRequest) (dto.VivaResponse, error)
	Start(ctx context.Context, principal Principal, id uint) (dto.VivaResponse, error)
	Complete(ctx context.Context, principal Principal, id uint, payload dto.VivaCompleteRequest) (dto.VivaResponse, error)
	List(ctx context.Context, principal Principal, query dto.VivaListQuery) ([]dto.VivaResponse, error)
	Get(ctx context.Context, principal Principal, id uint) (dto.VivaResponse, error)
}

type vivaService struct {
	repos        repository.Repositories
	tx           repository.Transactor
	broadcaster  realtime.Broadcaster
	notifier     Notifier
	activity     ActivityRecorder
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	placeholders bool
	retries      int
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewVivaService constructs the viva service. With placeholders enabled a standalone viva is
// attached to a synthesised per-student assignment and submission.
func NewVivaService(repos repository.Repositories, tx repository.Transactor, broadcaster realtime.Broadcaster, notifier Notifier, activity ActivityRecorder, validate *validator.Validate, placeholders bool, logger zerolog.Logger) VivaService {
	return &vivaService{
		repos:        repos,
		tx:           tx,
		broadcaster:  broadcaster,
		notifier:     notifier,
		activity:     activity,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		placeholders: placeholders,
		retries:      defaultSubmissionRetries,
		logger:       logger.With().Str("component", "viva_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/labrecord-api/internal/service/viva"),
		now:          time.Now,
	}
}

type vivaSlot struct {
	scheduledAt time.Time
	mode        string
	meetingLink string
}

func newVivaSlot(scheduledAt, mode, meetingLink string) (vivaSlot, error) {
	at, err := dto.ParseTimestamp(scheduledAt)
	if err != nil {
		return vivaSlot{}, fmt.Errorf("invalid scheduled_at: %w", err)
	}
	if mode == "" {
		mode = models.VivaModeOnline
	}
	return vivaSlot{scheduledAt: at.UTC(), mode: mode, meetingLink: strings.TrimSpace(meetingLink)}, nil
}

func (s *vivaService) Schedule(ctx context.Context, principal Principal, payload dto.VivaScheduleRequest) (dto.VivaResponse, error) {
	ctx, span := s.tracer.Start(ctx, "vivas.schedule", trace.WithAttributes(
		attribute.Int64("viva.submission_id", int64(payload.SubmissionID)),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.VivaResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.VivaResponse{}, err
	}
	slot, err := newVivaSlot(payload.ScheduledAt, payload.Mode, payload.MeetingLink)
	if err != nil {
		return dto.VivaResponse{}, err
	}

	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, payload.SubmissionID)
	if err != nil {
		return dto.VivaResponse{}, err
	}

	var session models.VivaSession
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		next, err := workflow.Transition(submission.Status, workflow.EventScheduleViva)
		if err != nil {
			return precondition(ReasonInvalidTransition, err.Error())
		}
		if err := conflict(repos.Submissions.CompareAndSetStatus(ctx, submission.ID, submission.Status, next)); err != nil {
			return err
		}
		session = s.newSession(principal, submission.StudentID, &submission.ID, slot)
		return repos.Vivas.Create(ctx, &session)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "viva_schedule_failed")
		return dto.VivaResponse{}, err
	}

	observability.StatusTransitions().WithLabelValues("submission", string(workflow.EventScheduleViva)).Inc()
	s.announceScheduled(ctx, principal, session)
	return dto.NewVivaResponse(session, realtime.VivaRoom(session.ID)), nil
}

// ScheduleStandalone schedules a viva that does not start from an existing submission.
func (s *vivaService) ScheduleStandalone(ctx context.Context, principal Principal, payload dto.VivaStandaloneRequest) (dto.VivaResponse, error) {
	ctx, span := s.tracer.Start(ctx, "vivas.schedule_standalone", trace.WithAttributes(
		attribute.Int64("viva.student_id", int64(payload.StudentID)),
		attribute.Bool("viva.placeholders", s.placeholders),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.VivaResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.VivaResponse{}, err
	}
	slot, err := newVivaSlot(payload.ScheduledAt, payload.Mode, payload.MeetingLink)
	if err != nil {
		return dto.VivaResponse{}, err
	}

	student, err := s.repos.Enrollments.GetStudent(ctx, payload.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.VivaResponse{}, ErrStudentNotFound
		}
		return dto.VivaResponse{}, err
	}
	if student.SchoolID != principal.SchoolID {
		return dto.VivaResponse{}, ErrStudentNotFound
	}

	var session models.VivaSession
	if !s.placeholders {
		session = s.newSession(principal, student.ID, nil, slot)
		if err := s.repos.Vivas.Create(ctx, &session); err != nil {
			return dto.VivaResponse{}, err
		}
	} else {
		// A concurrent call may create the same placeholder first; the unique index makes the
		// loser retry and find it.
		for attempt := 1; attempt <= s.retries; attempt++ {
			err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
				submission, err := s.placeholderSubmission(ctx, repos, principal, student)
				if err != nil {
					return err
				}
				session = s.newSession(principal, student.ID, &submission.ID, slot)
				return repos.Vivas.Create(ctx, &session)
			})
			if !errors.Is(err, repository.ErrDuplicate) {
				break
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "viva_schedule_failed")
			return dto.VivaResponse{}, conflict(err)
		}
	}

	s.announceScheduled(ctx, principal, session)
	return dto.NewVivaResponse(session, realtime.VivaRoom(session.ID)), nil
}

// placeholderSubmission returns the student's open placeholder submission, creating the
// placeholder assignment and submission on first use.
func (s *vivaService) placeholderSubmission(ctx context.Context, repos repository.Repositories, principal Principal, student models.Student) (models.Submission, error) {
	assignment, err := repos.Assignments.FindPlaceholder(ctx, student.ID)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := s.now().UTC()
		assignment = models.Assignment{
			SchoolID:             student.SchoolID,
			CreatedBy:            principal.UserID,
			Title:                placeholderTitle,
			MaxMarks:             100,
			VivaMarks:            100,
			Status:               models.AssignmentStatusArchived,
			DueDate:              now,
			PlaceholderStudentID: &student.ID,
		}
		if err := repos.Assignments.Create(ctx, &assignment); err != nil {
			return models.Submission{}, err
		}
		target := models.NewAssignmentTarget(assignment.ID, targeting.StudentTarget(student.ID))
		target.CreatedBy = principal.UserID
		if err := repos.Assignments.CreateTarget(ctx, &target); err != nil {
			return models.Submission{}, err
		}
	default:
		return models.Submission{}, err
	}

	open, err := repos.Submissions.LatestOpen(ctx, assignment.ID, student.ID, workflow.StatusVivaScheduled)
	if err == nil {
		return open, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Submission{}, err
	}

	status, err := workflow.Transition(workflow.StatusSubmitted, workflow.EventScheduleViva)
	if err != nil {
		return models.Submission{}, err
	}
	highest, err := repos.Submissions.MaxSubmissionNumber(ctx, assignment.ID, student.ID)
	if err != nil {
		return models.Submission{}, err
	}
	submission := models.Submission{
		SchoolID:         student.SchoolID,
		AssignmentID:     assignment.ID,
		StudentID:        student.ID,
		SubmissionNumber: highest + 1,
		Status:           status,
		SubmittedAt:      s.now().UTC(),
	}
	if err := repos.Submissions.Create(ctx, &submission); err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// Start is reserved to the examiner the session was scheduled with.
func (s *vivaService) Start(ctx context.Context, principal Principal, id uint) (dto.VivaResponse, error) {
	ctx, span := s.tracer.Start(ctx, "vivas.start", trace.WithAttributes(attribute.Int64("viva.id", int64(id))))
	defer span.End()

	if !principal.IsStaff() {
		return dto.VivaResponse{}, ErrForbidden
	}
	session, err := s.load(ctx, principal, id)
	if err != nil {
		return dto.VivaResponse{}, err
	}
	if session.ExaminerID != principal.UserID {
		return dto.VivaResponse{}, ErrForbidden
	}

	from := session.Status
	next, err := workflow.VivaTransition(from, workflow.VivaEventStart)
	if err != nil {
		return dto.VivaResponse{}, precondition(ReasonInvalidTransition, err.Error())
	}
	startedAt := s.now().UTC()
	session.Status = next
	session.StartedAt = &startedAt

	if err := s.repos.Vivas.CompareAndUpdate(ctx, &session, from); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "viva_start_failed")
		return dto.VivaResponse{}, conflict(err)
	}

	room := realtime.VivaRoom(session.ID)
	response := dto.NewVivaResponse(session, room)
	observability.StatusTransitions().WithLabelValues("viva", string(workflow.VivaEventStart)).Inc()

	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(session.StudentID), realtime.EventVivaStarted, map[string]interface{}{
		"viva_id":      session.ID,
		"room":         room,
		"meeting_link": session.MeetingLink,
		"examiner_id":  session.ExaminerID,
	})
	notifyQuietly(ctx, s.notifier, s.logger, session.StudentID, NotificationVivaStarted, "Your viva has started")
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionVivaStarted,
		EntityType: "viva",
		EntityID:   uintPtr(session.ID),
	})

	return response, nil
}

// Complete records the outcome and, for a linked submission, applies complete_viva in the same
// transaction.
func (s *vivaService) Complete(ctx context.Context, principal Principal, id uint, payload dto.VivaCompleteRequest) (dto.VivaResponse, error) {
	ctx, span := s.tracer.Start(ctx, "vivas.complete", trace.WithAttributes(attribute.Int64("viva.id", int64(id))))
	defer span.End()

	if !principal.IsStaff() {
		return dto.VivaResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.VivaResponse{}, err
	}
	obtained, maxMarks := *payload.MarksObtained, *payload.MaxMarks
	if obtained < 0 || maxMarks < 0 || obtained > maxMarks {
		return dto.VivaResponse{}, precondition(ReasonInvalidVivaMarks, "viva marks must be non-negative and not exceed the maximum")
	}

	session, err := s.load(ctx, principal, id)
	if err != nil {
		return dto.VivaResponse{}, err
	}
	if session.ExaminerID != principal.UserID && !principal.IsAdmin() {
		return dto.VivaResponse{}, ErrForbidden
	}

	from := session.Status
	next, err := workflow.VivaTransition(from, workflow.VivaEventComplete)
	if err != nil {
		return dto.VivaResponse{}, precondition(ReasonInvalidTransition, err.Error())
	}
	completedAt := s.now().UTC()
	session.Status = next
	session.CompletedAt = &completedAt
	session.MarksObtained = &obtained
	session.MaxMarks = &maxMarks
	session.Rating = payload.Rating
	session.Remarks = s.sanitizer.Sanitize(payload.Remarks)

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := conflict(repos.Vivas.CompareAndUpdate(ctx, &session, from)); err != nil {
			return err
		}
		if session.SubmissionID == nil {
			return nil
		}
		submission, err := repos.Submissions.GetByID(ctx, *session.SubmissionID)
		if err != nil {
			return err
		}
		// Several standalone vivas share one placeholder submission; only the first completion moves it.
		if submission.Assignment.IsPlaceholder() && submission.Status != workflow.StatusVivaScheduled {
			return nil
		}
		target, err := workflow.Transition(submission.Status, workflow.EventCompleteViva)
		if err != nil {
			return precondition(ReasonInvalidTransition, err.Error())
		}
		return conflict(repos.Submissions.CompareAndSetStatus(ctx, submission.ID, submission.Status, target))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "viva_complete_failed")
		return dto.VivaResponse{}, err
	}

	response := dto.NewVivaResponse(session, realtime.VivaRoom(session.ID))
	observability.StatusTransitions().WithLabelValues("viva", string(workflow.VivaEventComplete)).Inc()
	s.logger.Info().Uint("viva_id", session.ID).Float64("marks", obtained).Msg("viva completed")

	emitQuietly(ctx, s.broadcaster, s.logger, realtime.VivaRoom(session.ID), realtime.EventVivaCompleted, response)
	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(session.StudentID), realtime.EventVivaCompleted, response)
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionVivaCompleted,
		EntityType: "viva",
		EntityID:   uintPtr(session.ID),
		Metadata:   map[string]interface{}{"marks_obtained": obtained, "max_marks": maxMarks},
	})

	return response, nil
}

func (s *vivaService) List(ctx context.Context, principal Principal, query dto.VivaListQuery) ([]dto.VivaResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	filter := repository.VivaFilter{SchoolID: principal.SchoolID, StudentID: query.StudentID}
	if query.Status != "" {
		status := workflow.VivaStatus(query.Status)
		filter.Status = &status
	}
	switch {
	case principal.IsStudent():
		filter.StudentID = &principal.UserID
	case principal.IsStaff():
		if query.Mine {
			filter.ExaminerID = &principal.UserID
		}
	default:
		return nil, ErrForbidden
	}

	sessions, err := s.repos.Vivas.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	responses := make([]dto.VivaResponse, 0, len(sessions))
	for _, session := range sessions {
		responses = append(responses, dto.NewVivaResponse(session, realtime.VivaRoom(session.ID)))
	}
	return responses, nil
}

func (s *vivaService) Get(ctx context.Context, principal Principal, id uint) (dto.VivaResponse, error) {
	session, err := s.load(ctx, principal, id)
	if err != nil {
		return dto.VivaResponse{}, err
	}
	return dto.NewVivaResponse(session, realtime.VivaRoom(session.ID)), nil
}

// load returns a session visible to the principal: its student or staff of the same school.
func (s *vivaService) load(ctx context.Context, principal Principal, id uint) (models.VivaSession, error) {
	session, err := s.repos.Vivas.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.VivaSession{}, ErrVivaNotFound
		}
		return models.VivaSession{}, err
	}
	if session.SchoolID != principal.SchoolID {
		return models.VivaSession{}, ErrVivaNotFound
	}
	switch {
	case principal.IsStaff():
	case principal.IsStudent() && session.StudentID == principal.UserID:
	default:
		return models.VivaSession{}, ErrForbidden
	}
	return session, nil
}

func (s *vivaService) newSession(principal Principal, studentID uint, submissionID *uint, slot vivaSlot) models.VivaSession {
	return models.VivaSession{
		SchoolID:     principal.SchoolID,
		SubmissionID: submissionID,
		StudentID:    studentID,
		ExaminerID:   principal.UserID,
		Status:       workflow.VivaScheduled,
		Mode:         slot.mode,
		ScheduledAt:  slot.scheduledAt,
		MeetingLink:  slot.meetingLink,
	}
}

func (s *vivaService) announceScheduled(ctx context.Context, principal Principal, session models.VivaSession) {
	s.logger.Info().
		Uint("viva_id", session.ID).
		Uint("student_id", session.StudentID).
		Time("scheduled_at", session.ScheduledAt).
		Msg("viva scheduled")

	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(session.StudentID), realtime.EventVivaScheduled,
		dto.NewVivaResponse(session, realtime.VivaRoom(session.ID)))
	notifyQuietly(ctx, s.notifier, s.logger, session.StudentID, NotificationVivaScheduled,
		fmt.Sprintf("A viva is scheduled for %s", session.ScheduledAt.Format(time.RFC1123)))
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionVivaScheduled,
		EntityType: "viva",
		EntityID:   uintPtr(session.ID),
		Metadata:   map[string]interface{}{"student_id": session.StudentID, "mode": session.Mode},
	})
}
