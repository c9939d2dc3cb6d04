package workflow

// VivaStatus is the lifecycle state of a viva session.
type VivaStatus string

const (
	VivaScheduled  VivaStatus = "scheduled"
	VivaInProgress VivaStatus = "in_progress"
	VivaCompleted  VivaStatus = "completed"
)

// VivaEvent drives a viva session.
type VivaEvent string

const (
	VivaEventStart    VivaEvent = "start"
	VivaEventComplete VivaEvent = "complete"
)

// Completing straight from scheduled is allowed for offline vivas that are never "started".
var vivaTable = map[VivaStatus]map[VivaEvent]VivaStatus{
	VivaScheduled: {
		VivaEventStart:    VivaInProgress,
		VivaEventComplete: VivaCompleted,
	},
	VivaInProgress: {
		VivaEventComplete: VivaCompleted,
	},
	VivaCompleted: {},
}

// VivaTransition applies event to current.
func VivaTransition(current VivaStatus, event VivaEvent) (VivaStatus, error) {
	next, ok := vivaTable[current][event]
	if !ok {
		return "", &TransitionError{From: string(current), Event: string(event)}
	}
	return next, nil
}
