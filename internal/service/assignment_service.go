package service

import (
	"context"
	"errors"
	"fmt"
	"math"
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
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/repository"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

const marksEpsilon = 1e-6

// AssignmentService exposes assignment authoring and the student-facing view of targeted work.
type AssignmentService interface {
	List(ctx context.Context, principal Principal, query dto.AssignmentListQuery) ([]dto.AssignmentResponse, error)
	Get(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error)
	Create(ctx context.Context, principal Principal, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Update(ctx context.Context, principal Principal, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error)
	Publish(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error)
	Archive(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, principal Principal, id uint) error
	ListTargets(ctx context.Context, principal Principal, id uint) ([]dto.TargetResponse, error)
	AddTarget(ctx context.Context, principal Principal, id uint, payload dto.TargetRequest) (dto.TargetResponse, error)
	RemoveTarget(ctx context.Context, principal Principal, id, targetID uint) error
	IsTargeted(ctx context.Context, assignmentID, studentID uint) (bool, error)
}

type assignmentService struct {
	repos       repository.Repositories
	tx          repository.Transactor
	broadcaster realtime.Broadcaster
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(repos repository.Repositories, tx repository.Transactor, broadcaster realtime.Broadcaster, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repos:       repos,
		tx:          tx,
		broadcaster: broadcaster,
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/labrecord-api/internal/service/assignment"),
		now:         time.Now,
	}
}

func (s *assignmentService) List(ctx context.Context, principal Principal, query dto.AssignmentListQuery) ([]dto.AssignmentResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if principal.IsStudent() {
		scope, err := loadScope(ctx, s.repos.Enrollments, principal.UserID)
		if err != nil {
			return nil, err
		}
		assignments, err := s.repos.Assignments.ListVisible(ctx, principal.SchoolID, principal.UserID, scope)
		if err != nil {
			return nil, err
		}
		responses := make([]dto.AssignmentResponse, 0, len(assignments))
		for _, assignment := range assignments {
			responses = append(responses, studentView(assignment, principal.UserID, scope))
		}
		return responses, nil
	}

	if !principal.IsStaff() {
		return nil, ErrForbidden
	}

	filter := repository.AssignmentFilter{
		SchoolID: principal.SchoolID,
		Status:   query.Status,
		Search:   query.Search,
	}
	if query.Mine {
		filter.CreatedBy = &principal.UserID
	}

	assignments, err := s.repos.Assignments.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return dto.NewAssignmentResponseSlice(assignments), nil
}

func (s *assignmentService) Get(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error) {
	assignment, err := loadAssignment(ctx, s.repos.Assignments, principal.SchoolID, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	if principal.IsStaff() {
		return dto.NewAssignmentResponse(assignment), nil
	}
	if !principal.IsStudent() {
		return dto.AssignmentResponse{}, ErrForbidden
	}

	if !assignment.IsPublished() {
		return dto.AssignmentResponse{}, ErrNotTargeted
	}
	scope, matching, err := resolveAccess(ctx, s.repos.Enrollments, assignment, principal.UserID)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if len(matching) == 0 {
		return dto.AssignmentResponse{}, ErrNotTargeted
	}
	return studentView(assignment, principal.UserID, scope), nil
}

func (s *assignmentService) Create(ctx context.Context, principal Principal, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assignments.create", trace.WithAttributes(
		attribute.Int64("assignment.school_id", int64(principal.SchoolID)),
	))
	defer span.End()

	if !principal.IsStaff() {
		return dto.AssignmentResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssignmentResponse{}, err
	}

	dueDate, err := dto.ParseTimestamp(payload.DueDate)
	if err != nil {
		return dto.AssignmentResponse{}, fmt.Errorf("invalid due date: %w", err)
	}

	assignment := models.Assignment{
		SchoolID:              principal.SchoolID,
		CreatedBy:             principal.UserID,
		Title:                 strings.TrimSpace(payload.Title),
		Description:           s.sanitizer.Sanitize(payload.Description),
		MaxMarks:              payload.MaxMarks,
		PracticalMarks:        payload.PracticalMarks,
		OutputMarks:           payload.OutputMarks,
		VivaMarks:             payload.VivaMarks,
		PassingMarks:          payload.PassingMarks,
		Status:                models.AssignmentStatusDraft,
		DueDate:               dueDate.UTC(),
		LateSubmissionAllowed: payload.LateSubmissionAllowed,
		LatePenaltyPercent:    payload.LatePenaltyPercent,
	}
	if err := validateBreakdown(assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	targets := make([]models.AssignmentTarget, 0, len(payload.Targets))
	for _, request := range payload.Targets {
		target, err := s.buildTarget(ctx, principal, request)
		if err != nil {
			return dto.AssignmentResponse{}, err
		}
		targets = append(targets, target)
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Assignments.Create(ctx, &assignment); err != nil {
			return err
		}
		for i := range targets {
			targets[i].AssignmentID = assignment.ID
			if err := repos.Assignments.CreateTarget(ctx, &targets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_create_failed")
		return dto.AssignmentResponse{}, err
	}
	assignment.Targets = targets

	s.logger.Info().Uint("assignment_id", assignment.ID).Int("targets", len(targets)).Msg("assignment created")
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionAssignmentCreated,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
		Metadata:   map[string]interface{}{"title": assignment.Title, "targets": len(targets)},
	})

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Update(ctx context.Context, principal Principal, id uint, payload dto.AssignmentUpdateRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment, err := s.editable(ctx, principal, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}

	if payload.Title != nil {
		assignment.Title = strings.TrimSpace(*payload.Title)
	}
	if payload.Description != nil {
		assignment.Description = s.sanitizer.Sanitize(*payload.Description)
	}
	if payload.DueDate != nil {
		dueDate, err := dto.ParseTimestamp(*payload.DueDate)
		if err != nil {
			return dto.AssignmentResponse{}, fmt.Errorf("invalid due date: %w", err)
		}
		assignment.DueDate = dueDate.UTC()
	}
	if payload.MaxMarks != nil {
		assignment.MaxMarks = *payload.MaxMarks
	}
	if payload.PracticalMarks != nil {
		assignment.PracticalMarks = *payload.PracticalMarks
	}
	if payload.OutputMarks != nil {
		assignment.OutputMarks = *payload.OutputMarks
	}
	if payload.VivaMarks != nil {
		assignment.VivaMarks = *payload.VivaMarks
	}
	if payload.PassingMarks != nil {
		assignment.PassingMarks = *payload.PassingMarks
	}
	if payload.LateSubmissionAllowed != nil {
		assignment.LateSubmissionAllowed = *payload.LateSubmissionAllowed
	}
	if payload.LatePenaltyPercent != nil {
		assignment.LatePenaltyPercent = *payload.LatePenaltyPercent
	}
	if err := validateBreakdown(assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	if err := s.repos.Assignments.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionAssignmentUpdated,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
	})

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Publish(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.editable(ctx, principal, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.IsPublished() {
		return dto.NewAssignmentResponse(assignment), nil
	}

	assignment.Status = models.AssignmentStatusPublished
	if err := s.repos.Assignments.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	response := dto.NewAssignmentResponse(assignment)
	for _, row := range assignment.Targets {
		room, ok := targetRoom(row)
		if !ok {
			continue
		}
		emitQuietly(ctx, s.broadcaster, s.logger, room, realtime.EventAssignmentPublished, map[string]interface{}{
			"assignment_id": assignment.ID,
			"title":         assignment.Title,
			"due_date":      assignment.DueDate,
		})
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionAssignmentPublished,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
	})

	return response, nil
}

func (s *assignmentService) Archive(ctx context.Context, principal Principal, id uint) (dto.AssignmentResponse, error) {
	assignment, err := s.owned(ctx, principal, id)
	if err != nil {
		return dto.AssignmentResponse{}, err
	}
	if assignment.Status == models.AssignmentStatusArchived {
		return dto.NewAssignmentResponse(assignment), nil
	}

	assignment.Status = models.AssignmentStatusArchived
	if err := s.repos.Assignments.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionAssignmentArchived,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
	})

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Delete(ctx context.Context, principal Principal, id uint) error {
	assignment, err := s.owned(ctx, principal, id)
	if err != nil {
		return err
	}

	count, err := s.repos.Submissions.CountByAssignment(ctx, assignment.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return precondition(ReasonAssignmentHasSubmissions, "assignment has submissions; archive it instead")
	}

	if err := s.repos.Assignments.Delete(ctx, assignment.ID); err != nil {
		return err
	}

	s.logger.Info().Uint("assignment_id", assignment.ID).Msg("assignment deleted")
	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionAssignmentDeleted,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
		Metadata:   map[string]interface{}{"title": assignment.Title},
	})
	return nil
}

func (s *assignmentService) ListTargets(ctx context.Context, principal Principal, id uint) ([]dto.TargetResponse, error) {
	if !principal.IsStaff() {
		return nil, ErrForbidden
	}
	assignment, err := loadAssignment(ctx, s.repos.Assignments, principal.SchoolID, id)
	if err != nil {
		return nil, err
	}
	return dto.NewTargetResponseSlice(assignment.Targets), nil
}

func (s *assignmentService) AddTarget(ctx context.Context, principal Principal, id uint, payload dto.TargetRequest) (dto.TargetResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TargetResponse{}, err
	}

	assignment, err := s.editable(ctx, principal, id)
	if err != nil {
		return dto.TargetResponse{}, err
	}

	target, err := s.buildTarget(ctx, principal, payload)
	if err != nil {
		return dto.TargetResponse{}, err
	}
	target.AssignmentID = assignment.ID

	if err := s.repos.Assignments.CreateTarget(ctx, &target); err != nil {
		return dto.TargetResponse{}, err
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionTargetAdded,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
		Metadata:   map[string]interface{}{"type": target.TargetType, "target_id": target.ID},
	})

	return dto.NewTargetResponse(target), nil
}

func (s *assignmentService) RemoveTarget(ctx context.Context, principal Principal, id, targetID uint) error {
	assignment, err := s.owned(ctx, principal, id)
	if err != nil {
		return err
	}

	if err := s.repos.Assignments.DeleteTarget(ctx, assignment.ID, targetID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}

	recordQuietly(ctx, s.activity, s.logger, ActivityEntry{
		SchoolID:   principal.SchoolID,
		ActorID:    principal.UserID,
		ActorRole:  principal.Role,
		Action:     ActionTargetRemoved,
		EntityType: "assignment",
		EntityID:   uintPtr(assignment.ID),
		Metadata:   map[string]interface{}{"target_id": targetID},
	})
	return nil
}

// IsTargeted evaluates the current rows and memberships; nothing is cached between calls.
func (s *assignmentService) IsTargeted(ctx context.Context, assignmentID, studentID uint) (bool, error) {
	assignment, err := s.repos.Assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrAssignmentNotFound
		}
		return false, err
	}
	_, matching, err := resolveAccess(ctx, s.repos.Enrollments, assignment, studentID)
	if err != nil {
		return false, err
	}
	return len(matching) > 0, nil
}

func (s *assignmentService) buildTarget(ctx context.Context, principal Principal, payload dto.TargetRequest) (models.AssignmentTarget, error) {
	var target targeting.Target
	switch targeting.Kind(payload.Type) {
	case targeting.KindClass:
		target = targeting.ClassTarget(payload.ID)
	case targeting.KindGroup:
		target = targeting.GroupTarget(payload.ID)
	case targeting.KindStudent:
		target = targeting.StudentTarget(payload.ID)
	}
	if !target.Valid() {
		return models.AssignmentTarget{}, precondition(ReasonUnknownTarget, fmt.Sprintf("invalid target %s:%d", payload.Type, payload.ID))
	}
	if err := s.targetInSchool(ctx, principal.SchoolID, target); err != nil {
		return models.AssignmentTarget{}, err
	}

	row := models.NewAssignmentTarget(0, target)
	row.SpecialInstructions = s.sanitizer.Sanitize(payload.SpecialInstructions)
	row.IsLocked = payload.IsLocked
	row.CreatedBy = principal.UserID
	if payload.DueDate != nil {
		due, err := dto.ParseTimestamp(*payload.DueDate)
		if err != nil {
			return models.AssignmentTarget{}, fmt.Errorf("invalid target due date: %w", err)
		}
		due = due.UTC()
		row.DueDate = &due
	}
	return row, nil
}

// targetInSchool rejects classes, groups and students that do not exist in schoolID.
func (s *assignmentService) targetInSchool(ctx context.Context, schoolID uint, target targeting.Target) error {
	var (
		owner uint
		err   error
	)
	switch target.Kind() {
	case targeting.KindClass:
		owner, err = s.repos.Enrollments.ClassSchool(ctx, target.ID())
	case targeting.KindGroup:
		owner, err = s.repos.Enrollments.GroupSchool(ctx, target.ID())
	case targeting.KindStudent:
		var student models.Student
		student, err = s.repos.Enrollments.GetStudent(ctx, target.ID())
		owner = student.SchoolID
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err != nil || owner != schoolID {
		return precondition(ReasonUnknownTarget, fmt.Sprintf("%s is not part of this school", target))
	}
	return nil
}

// owned loads an assignment the principal may manage: its creator or a school admin.
func (s *assignmentService) owned(ctx context.Context, principal Principal, id uint) (models.Assignment, error) {
	if !principal.IsStaff() {
		return models.Assignment{}, ErrForbidden
	}
	assignment, err := loadAssignment(ctx, s.repos.Assignments, principal.SchoolID, id)
	if err != nil {
		return models.Assignment{}, err
	}
	if assignment.CreatedBy != principal.UserID && !principal.IsAdmin() {
		return models.Assignment{}, ErrForbidden
	}
	return assignment, nil
}

func (s *assignmentService) editable(ctx context.Context, principal Principal, id uint) (models.Assignment, error) {
	assignment, err := s.owned(ctx, principal, id)
	if err != nil {
		return models.Assignment{}, err
	}
	if assignment.Status == models.AssignmentStatusArchived {
		return models.Assignment{}, precondition(ReasonAssignmentArchived, "assignment is archived")
	}
	return assignment, nil
}

func validateBreakdown(assignment models.Assignment) error {
	sum := assignment.PracticalMarks + assignment.OutputMarks + assignment.VivaMarks
	if math.Abs(sum-assignment.MaxMarks) > marksEpsilon {
		return precondition(ReasonInvalidMarksBreakdown,
			fmt.Sprintf("practical, output and viva marks must add up to %.2f", assignment.MaxMarks))
	}
	if assignment.PassingMarks > assignment.MaxMarks+marksEpsilon {
		return precondition(ReasonInvalidMarksBreakdown, "passing marks exceed max marks")
	}
	return nil
}

// loadAssignment hides assignments of other schools behind ErrAssignmentNotFound.
func loadAssignment(ctx context.Context, repo repository.AssignmentRepository, schoolID, id uint) (models.Assignment, error) {
	assignment, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}
	if assignment.SchoolID != schoolID {
		return models.Assignment{}, ErrAssignmentNotFound
	}
	return assignment, nil
}

func loadScope(ctx context.Context, enrollments repository.EnrollmentRepository, studentID uint) (targeting.Scope, error) {
	rows, err := enrollments.Enrollments(ctx, studentID)
	if err != nil {
		return targeting.Scope{}, err
	}
	groupIDs, err := enrollments.GroupIDs(ctx, studentID)
	if err != nil {
		return targeting.Scope{}, err
	}
	return targeting.ResolveScope(rows, groupIDs), nil
}

// resolveAccess returns the student's scope and the targets of assignment that reach them.
func resolveAccess(ctx context.Context, enrollments repository.EnrollmentRepository, assignment models.Assignment, studentID uint) (targeting.Scope, []targeting.Addressed, error) {
	scope, err := loadScope(ctx, enrollments, studentID)
	if err != nil {
		return targeting.Scope{}, nil, err
	}

	addressed := make([]targeting.Addressed, 0, len(assignment.Targets))
	for _, row := range assignment.Targets {
		a, err := row.Addressed()
		if err != nil {
			return targeting.Scope{}, nil, fmt.Errorf("assignment %d target %d: %w", assignment.ID, row.ID, err)
		}
		addressed = append(addressed, a)
	}
	return scope, targeting.Matching(addressed, studentID, scope), nil
}

// studentView hides targets that do not reach the student.
func studentView(assignment models.Assignment, studentID uint, scope targeting.Scope) dto.AssignmentResponse {
	visible := make([]models.AssignmentTarget, 0, len(assignment.Targets))
	for _, row := range assignment.Targets {
		target, err := row.Target()
		if err != nil {
			continue
		}
		if scope.Matches(target, studentID) {
			visible = append(visible, row)
		}
	}
	assignment.Targets = visible
	return dto.NewAssignmentResponse(assignment)
}

func targetRoom(row models.AssignmentTarget) (string, bool) {
	target, err := row.Target()
	if err != nil {
		return "", false
	}
	switch target.Kind() {
	case targeting.KindClass:
		return realtime.ClassRoom(target.ID()), true
	case targeting.KindGroup:
		return realtime.GroupRoom(target.ID()), true
	case targeting.KindStudent:
		return realtime.UserRoom(target.ID()), true
	}
	return "", false
}
