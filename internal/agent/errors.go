package agent

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when killing or querying an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// SpawnError reports that an agent process could not be started. The task
// stays in its prior state.
type SpawnError struct {
	TaskID string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn agent for task %s: %v", e.TaskID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that a session exceeded its wall-clock budget and was
// killed.
type TimeoutError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// ExecutionError reports a session that ended without success: a nonzero
// exit without a completion marker, or an explicit STEP_ERROR.
type ExecutionError struct {
	SessionID string
	ExitCode  int
	Message   string
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("agent exited with code %d", e.ExitCode)
}
