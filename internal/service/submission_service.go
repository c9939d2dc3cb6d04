package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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
	"github.com/noah-isme/labrecord-api/internal/grading"
	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/targeting"
	"github.com/noah-isme/labrecord-api/internal/workflow"
)

const defaultSubmissionRetries = 3

// SubmissionService orchestrates submission workflows.
type SubmissionService interface {
	List(ctx context.Context, principal Principal, query dto.SubmissionListQuery) ([]dto.SubmissionResponse, error)
	Get(ctx context.Context, principal Principal, id uint) (dto.SubmissionResponse, error)
	Create(ctx context.Context, principal Principal, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	Update(ctx context.Context, principal Principal, id uint, payload dto.SubmissionUpdateRequest) (dto.SubmissionResponse, error)
	Transition(ctx context.Context, principal Principal, id uint, payload dto.SubmissionStatusRequest) (dto.SubmissionResponse, error)
	Revisions(ctx context.Context, principal Principal, id uint) ([]dto.RevisionResponse, error)
}

type submissionService struct {
	repos       repository.Repositories
	tx          repository.Transactor
	broadcaster realtime.Broadcaster
	notifier    Notifier
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	retries     int
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. retries bounds how often a
// submission number collision is retried before the create fails with a conflict.
func NewSubmissionService(repos repository.Repositories, tx repository.Transactor, broadcaster realtime.Broadcaster, notifier Notifier, activity ActivityRecorder, validate *validator.Validate, retries int, logger zerolog.Logger) SubmissionService {
	if retries <= 0 {
		retries = defaultSubmissionRetries
	}
	return &submissionService{
		repos:       repos,
		tx:          tx,
		broadcaster: broadcaster,
		notifier:    notifier,
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		retries:     retries,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/labrecord-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) List(ctx context.Context, principal Principal, query dto.SubmissionListQuery) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	filter := repository.SubmissionFilter{
		SchoolID:     principal.SchoolID,
		AssignmentID: query.AssignmentID,
		StudentID:    query.StudentID,
	}
	if query.Status != "" {
		status, err := workflow.ParseStatus(query.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = &status
	}

	switch {
	case principal.IsStudent():
		filter.StudentID = &principal.UserID
	case !principal.IsStaff():
		return nil, ErrForbidden
	}

	submissions, err := s.repos.Submissions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) Get(ctx context.Context, principal Principal, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.visible(ctx, principal, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Revisions(ctx context.Context, principal Principal, id uint) ([]dto.RevisionResponse, error) {
	submission, err := s.visible(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	revisions, err := s.repos.Submissions.ListRevisions(ctx, submission.ID)
	if err != nil {
		return nil, err
	}
	return dto.NewRevisionResponseSlice(revisions), nil
}

// Create checks, in order: the assignment exists, is published, targets the student, is not
// locked for them, and accepts a late submission if the effective due date has passed.
func (s *submissionService) Create(ctx context.Context, principal Principal, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.create", trace.WithAttributes(
		attribute.Int64("submission.assignment_id", int64(payload.AssignmentID)),
		attribute.Int64("submission.student_id", int64(principal.UserID)),
	))
	defer span.End()

	if !principal.IsStudent() {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	assignment, err := loadAssignment(ctx, s.repos.Assignments, principal.SchoolID, payload.AssignmentID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !assignment.IsPublished() {
		return dto.SubmissionResponse{}, precondition(ReasonAssignmentNotPublished, "assignment is not open for submissions")
	}

	_, matching, err := resolveAccess(ctx, s.repos.Enrollments, assignment, principal.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "target_resolution_failed")
		return dto.SubmissionResponse{}, err
	}
	if len(matching) == 0 {
		return dto.SubmissionResponse{}, ErrNotTargeted
	}
	if targeting.AllLocked(matching) {
		return dto.SubmissionResponse{}, precondition(ReasonTargetLocked, "assignment is locked for this student")
	}

	now := s.now().UTC()
	due := targeting.EffectiveDueDate(assignment.DueDate, matching)
	lateDays := grading.LateDays(due, now)
	if lateDays > 0 && !assignment.LateSubmissionAllowed {
		return dto.SubmissionResponse{}, precondition(ReasonLateNotAllowed, "assignment no longer accepts submissions")
	}

	submission := models.Submission{
		SchoolID:     principal.SchoolID,
		AssignmentID: assignment.ID,
		StudentID:    principal.UserID,
		Content:      s.sanitizer.Sanitize(payload.Content),
		Code:         payload.Code,
		Output:       payload.Output,
		Status:       workflow.StatusSubmitted,
		IsLate:       lateDays > 0,
		LateDays:     lateDays,
		SubmittedAt:  now,
	}

	if err := s.insertNumbered(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_create_failed")
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(attribute.Int("submission.number", submission.SubmissionNumber), attribute.Int("submission.late_days", lateDays))
	observability.Submissions().WithLabelValues(strconv.FormatBool(submission.IsLate)).Inc()
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("submission_number", submission.SubmissionNumber).
		Int("late_days", lateDays).
		Msg("submission created")

	notifyQuietly(ctx, s.notifier, s.logger, assignment.CreatedBy, NotificationSubmissionReceived,
		fmt.Sprintf("New submission #%d for %s", submission.SubmissionNumber, assignment.Title))

	return s.reload(ctx, submission)
}

// insertNumbered assigns max+1 inside a transaction. Two concurrent creates can still read the same
// max; the unique index rejects the loser, which is retried a bounded number of times.
func (s *submissionService) insertNumbered(ctx context.Context, submission *models.Submission) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
			latest, err := repos.Submissions.Latest(ctx, submission.AssignmentID, submission.StudentID)
			switch {
			case err == nil:
				if !workflow.AcceptsNewSubmission(latest.Status) {
					return precondition(ReasonSubmissionInProgress,
						fmt.Sprintf("submission #%d is still %s", latest.SubmissionNumber, latest.Status))
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
			default:
				return err
			}

			highest, err := repos.Submissions.MaxSubmissionNumber(ctx, submission.AssignmentID, submission.StudentID)
			if err != nil {
				return err
			}
			submission.ID = 0
			submission.SubmissionNumber = highest + 1
			return repos.Submissions.Create(ctx, submission)
		})
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		s.logger.Debug().Int("attempt", attempt).Msg("submission number collision, retrying")
	}
	return conflict(err)
}

// Update edits content in place and snapshots the previous content. Editing a submission that
// needs revision resubmits it.
func (s *submissionService) Update(ctx context.Context, principal Principal, id uint, payload dto.SubmissionUpdateRequest) (dto.SubmissionResponse, error) {
	if !principal.IsStudent() {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.StudentID != principal.UserID {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	if !workflow.Editable(submission.Status) {
		return dto.SubmissionResponse{}, precondition(ReasonSubmissionNotEditable,
			fmt.Sprintf("submission is %s and can no longer be edited", submission.Status))
	}

	var from, to workflow.Status
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		// Snapshot the row as it stands under the lock so concurrent edits each keep their predecessor.
		current, err := repos.Submissions.GetForUpdate(ctx, submission.ID)
		if err != nil {
			return err
		}
		if !workflow.Editable(current.Status) {
			return precondition(ReasonSubmissionNotEditable,
				fmt.Sprintf("submission is %s and can no longer be edited", current.Status))
		}
		from, to = current.Status, current.Status
		if from == workflow.StatusNeedsRevision {
			if to, err = workflow.Transition(from, workflow.EventResubmit); err != nil {
				return precondition(ReasonInvalidTransition, err.Error())
			}
		}

		content := repository.SubmissionContent{Content: current.Content, Code: current.Code, Output: current.Output}
		if payload.Content != nil {
			content.Content = s.sanitizer.Sanitize(*payload.Content)
		}
		if payload.Code != nil {
			content.Code = *payload.Code
		}
		if payload.Output != nil {
			content.Output = *payload.Output
		}

		number, err := repos.Submissions.NextRevisionNumber(ctx, current.ID)
		if err != nil {
			return err
		}
		revision := models.SubmissionRevision{
			SubmissionID:   current.ID,
			RevisionNumber: number,
			Content:        current.Content,
			Code:           current.Code,
			Output:         current.Output,
			EditedBy:       principal.UserID,
		}
		if err := repos.Submissions.CreateRevision(ctx, &revision); err != nil {
			return err
		}
		return repos.Submissions.UpdateContent(ctx, current.ID, from, to, content)
	})
	if err != nil {
		return dto.SubmissionResponse{}, conflict(err)
	}

	if to != from {
		observability.StatusTransitions().WithLabelValues("submission", string(workflow.EventResubmit)).Inc()
		notifyQuietly(ctx, s.notifier, s.logger, submission.Assignment.CreatedBy, NotificationSubmissionReceived,
			fmt.Sprintf("Submission #%d for %s was resubmitted", submission.SubmissionNumber, submission.Assignment.Title))
	}

	return s.reload(ctx, submission)
}

// Transition applies staff driven review moves. Grading and viva moves go through their own
// services so that their records are written in the same transaction.
func (s *submissionService) Transition(ctx context.Context, principal Principal, id uint, payload dto.SubmissionStatusRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.transition", trace.WithAttributes(
		attribute.Int64("submission.id", int64(id)),
		attribute.String("submission.target_status", payload.Status),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	target, err := workflow.ParseStatus(payload.Status)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	event, err := workflow.EventFor(submission.Status, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.SubmissionResponse{}, precondition(ReasonInvalidTransition, err.Error())
	}
	switch event {
	case workflow.EventReview, workflow.EventRequestRevision, workflow.EventReturn:
	default:
		return dto.SubmissionResponse{}, precondition(ReasonTransitionNeedsWorkflow,
			fmt.Sprintf("%s must be performed through its dedicated endpoint", event))
	}

	from := submission.Status
	if err := s.repos.Submissions.CompareAndSetStatus(ctx, submission.ID, from, target); err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, conflict(err)
	}

	observability.StatusTransitions().WithLabelValues("submission", string(event)).Inc()
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("submission status changed")

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionSubmissionStatus,
		EntityType: "submission",
		EntityID:   uintPtr(submission.ID),
		Metadata:   map[string]interface{}{"from": string(from), "to": string(target)},
	})
	emitQuietly(ctx, s.broadcaster, s.logger, realtime.UserRoom(submission.StudentID), realtime.EventSubmissionStatus, map[string]interface{}{
		"submission_id": submission.ID,
		"assignment_id": submission.AssignmentID,
		"from":          from,
		"to":            target,
	})
	notifyQuietly(ctx, s.notifier, s.logger, submission.StudentID, NotificationSubmissionStatus,
		fmt.Sprintf("Your submission for %s is now %s", submission.Assignment.Title, target))

	return s.reload(ctx, submission)
}

// visible loads a submission the principal may read: the owning student or staff of the school.
func (s *submissionService) visible(ctx context.Context, principal Principal, id uint) (models.Submission, error) {
	submission, err := loadSubmission(ctx, s.repos.Submissions, principal.SchoolID, id)
	if err != nil {
		return models.Submission{}, err
	}
	switch {
	case principal.IsStaff():
	case principal.IsStudent() && submission.StudentID == principal.UserID:
	default:
		return models.Submission{}, ErrForbidden
	}
	return submission, nil
}

func (s *submissionService) reload(ctx context.Context, submission models.Submission) (dto.SubmissionResponse, error) {
	fresh, err := s.repos.Submissions.GetByID(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(fresh), nil
}

// loadSubmission hides submissions of other schools behind ErrSubmissionNotFound.
func loadSubmission(ctx context.Context, repo repository.SubmissionRepository, schoolID, id uint) (models.Submission, error) {
	submission, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	if submission.SchoolID != schoolID {
		return models.Submission{}, ErrSubmissionNotFound
	}
	return submission, nil
}
