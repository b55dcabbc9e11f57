package attempt

import (
	"fmt"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Phase is the lifecycle position of one attempt.
type Phase string

const (
	PhaseNotStarted Phase = "NOT_STARTED"
	PhaseActive     Phase = "ACTIVE"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseCompleted  Phase = "COMPLETED"
	PhaseDismissed  Phase = "DISMISSED"
)

// Event drives a phase transition.
type Event string

const (
	EventStart           Event = "start"
	EventSubmit          Event = "submit"
	EventSubmitFailed    Event = "submit_failed"
	EventSubmitSucceeded Event = "submit_succeeded"
	EventDismiss         Event = "dismiss"
)

var transitions = map[Phase]map[Event]Phase{
	PhaseNotStarted: {EventStart: PhaseActive},
	PhaseActive:     {EventSubmit: PhaseSubmitting},
	PhaseSubmitting: {EventSubmitFailed: PhaseActive, EventSubmitSucceeded: PhaseCompleted},
	PhaseCompleted:  {EventDismiss: PhaseDismissed},
}

// Transition is the pure state function of an attempt. Timer expiry is
// not a separate edge: it enters Submitting through EventSubmit without
// the confirmation step.
func Transition(from Phase, ev Event) (Phase, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// Running reports whether the countdown should tick in this phase.
func (p Phase) Running() bool {
	return p == PhaseActive || p == PhaseSubmitting
}

// Finished reports whether the attempt can no longer change answers.
func (p Phase) Finished() bool {
	return p == PhaseCompleted || p == PhaseDismissed
}

// PhaseOf derives the phase of a persisted attempt. The exam-level status
// wins over the per-category state so a finished exam never reopens
// under another category.
func PhaseOf(state *model.AttemptState, global model.GlobalStatus) Phase {
	switch {
	case global.Dismissed || (state != nil && state.Dismissed):
		return PhaseDismissed
	case global.Completed || (state != nil && state.Completed):
		return PhaseCompleted
	case state != nil && state.Started:
		return PhaseActive
	default:
		return PhaseNotStarted
	}
}
