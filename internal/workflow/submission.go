// Package workflow holds the explicit transition tables for submissions and viva sessions.
package workflow

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusSubmitted     Status = "submitted"
	StatusUnderReview   Status = "under_review"
	StatusNeedsRevision Status = "needs_revision"
	StatusVivaScheduled Status = "viva_scheduled"
	StatusVivaCompleted Status = "viva_completed"
	StatusGraded        Status = "graded"
	StatusReturned      Status = "returned"
)

// Event drives a submission from one status to the next.
type Event string

const (
	EventReview          Event = "review"
	EventRequestRevision Event = "request_revision"
	EventScheduleViva    Event = "schedule_viva"
	EventCompleteViva    Event = "complete_viva"
	EventGrade           Event = "grade"
	EventResubmit        Event = "resubmit"
	EventReturn          Event = "return"
)

// ErrInvalidTransition is wrapped by every rejected transition.
var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	From  string
	Event string
	To    string
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("event %s not allowed in status %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// returned has no outgoing edges; a new numbered submission reopens the cycle.
var submissionTable = map[Status]map[Event]Status{
	StatusSubmitted: {
		EventReview:          StatusUnderReview,
		EventRequestRevision: StatusNeedsRevision,
		EventScheduleViva:    StatusVivaScheduled,
		EventGrade:           StatusGraded,
	},
	StatusNeedsRevision: {
		EventResubmit: StatusSubmitted,
	},
	StatusVivaScheduled: {
		EventCompleteViva: StatusVivaCompleted,
	},
	StatusVivaCompleted: {
		EventGrade: StatusGraded,
	},
	StatusUnderReview: {
		EventGrade: StatusGraded,
	},
	StatusGraded: {
		EventReturn: StatusReturned,
	},
	StatusReturned: {},
}

// Statuses lists every submission status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusSubmitted,
		StatusUnderReview,
		StatusNeedsRevision,
		StatusVivaScheduled,
		StatusVivaCompleted,
		StatusGraded,
		StatusReturned,
	}
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	if _, ok := submissionTable[status]; !ok {
		return "", fmt.Errorf("unknown submission status %q", raw)
	}
	return status, nil
}

// Transition applies event to current and returns the next status.
func Transition(current Status, event Event) (Status, error) {
	edges, ok := submissionTable[current]
	if !ok {
		return "", &TransitionError{From: string(current), Event: string(event)}
	}
	next, ok := edges[event]
	if !ok {
		return "", &TransitionError{From: string(current), Event: string(event)}
	}
	return next, nil
}

// EventFor finds the event that moves current to target.
func EventFor(current, target Status) (Event, error) {
	for event, next := range submissionTable[current] {
		if next == target {
			return event, nil
		}
	}
	return "", &TransitionError{From: string(current), To: string(target)}
}

// Terminal reports whether no event leaves the status.
func Terminal(status Status) bool {
	edges, ok := submissionTable[status]
	return ok && len(edges) == 0
}

// AcceptsNewSubmission reports whether a student whose latest submission is in status may open a
// new numbered submission for the same assignment.
func AcceptsNewSubmission(latest Status) bool {
	return latest == StatusNeedsRevision || latest == StatusReturned
}

// Editable reports whether the owner may still change the content in place.
func Editable(status Status) bool {
	return status == StatusSubmitted || status == StatusNeedsRevision
}
