package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/labrecord-api/internal/repository"
)

// Authorisation failures.
var (
	ErrForbidden   = errors.New("operation not permitted")
	ErrNotTargeted = errors.New("assignment is not assigned to this student")
)

// Missing records. Records of another school are reported as missing too.
var (
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrTargetNotFound       = errors.New("assignment target not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrGradeNotFound        = errors.New("grade not found")
	ErrVivaNotFound         = errors.New("viva session not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrStudentNotFound      = errors.New("student not found")
)

// ErrConflict is wrapped by every lost race and duplicate write.
var ErrConflict = errors.New("conflicting update")

// ErrAlreadyGraded rejects a second grade for the same submission.
var ErrAlreadyGraded = fmt.Errorf("%w: submission already graded", ErrConflict)

// Precondition reason codes returned to clients.
const (
	ReasonAssignmentNotPublished   = "assignment_not_published"
	ReasonLateNotAllowed           = "late_submission_not_allowed"
	ReasonTargetLocked             = "target_locked"
	ReasonSubmissionInProgress     = "submission_in_progress"
	ReasonSubmissionNotEditable    = "submission_not_editable"
	ReasonInvalidTransition        = "invalid_transition"
	ReasonTransitionNeedsWorkflow  = "transition_requires_workflow"
	ReasonMarksExceedBreakdown     = "marks_exceed_breakdown"
	ReasonInvalidMarksBreakdown    = "invalid_marks_breakdown"
	ReasonAssignmentHasSubmissions = "assignment_has_submissions"
	ReasonAssignmentArchived       = "assignment_archived"
	ReasonInvalidVivaMarks         = "invalid_viva_marks"
	ReasonInvalidGradeScale        = "invalid_grade_scale"
	ReasonUnknownTarget            = "unknown_target"
)

// PreconditionError rejects a request that is well formed but not allowed in the current state.
type PreconditionError struct {
	Reason  string
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

func precondition(reason, message string) error {
	return &PreconditionError{Reason: reason, Message: message}
}

// AsPrecondition extracts a precondition failure from err.
func AsPrecondition(err error) (*PreconditionError, bool) {
	var target *PreconditionError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// conflict folds storage level races into ErrConflict and passes everything else through.
func conflict(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrDuplicate) || errors.Is(err, repository.ErrStale) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
