package orchestrator

import (
	"errors"
	"fmt"

	"github.com/pablasso/taskpilot/internal/task"
)

var (
	// ErrGateViolation matches *GateViolation.
	ErrGateViolation = errors.New("plan not approved")
	// ErrIllegalTransition matches *TransitionError.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrSessionActive is returned when a finished session's result is
	// requested while it is still running.
	ErrSessionActive = errors.New("session still running")
)

// GateViolation rejects execution of a plan-first task whose plan has not
// been approved. No state changes.
type GateViolation struct {
	TaskID string
}

func (e *GateViolation) Error() string {
	return fmt.Sprintf("task %s: plan not approved", e.TaskID)
}

func (e *GateViolation) Is(target error) bool { return target == ErrGateViolation }

// TransitionError rejects an event that is not legal in the task's current
// state. Requests racing on the same task observe this rather than merging.
type TransitionError struct {
	TaskID string
	From   task.ExecutionStatus
	Event  Event
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("task %s: cannot %s while %s", e.TaskID, e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }
