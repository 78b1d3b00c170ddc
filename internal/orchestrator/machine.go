package orchestrator

import "github.com/pablasso/taskpilot/internal/task"

// Event is an input to the task state machine.
type Event string

const (
	EventRequestPlanning   Event = "requestPlanning"
	EventRequestExecution  Event = "requestExecution"
	EventPlanComplete      Event = "planComplete"
	EventPlanFailed        Event = "planFailed"
	EventApprove           Event = "approve"
	EventRegeneratePlan    Event = "regeneratePlan"
	EventExecutionComplete Event = "executionComplete"
	EventExecutionFailed   Event = "executionFailed"
	EventKill              Event = "kill"
)

type edge struct {
	from  task.ExecutionStatus
	event Event
}

// transitions lists every legal (state, event) pair. Anything absent is
// rejected with *TransitionError.
var transitions = map[edge]task.ExecutionStatus{
	{task.StatusDraft, EventRequestPlanning}:  task.StatusPlanning,
	{task.StatusDraft, EventRequestExecution}: task.StatusExecuting,

	{task.StatusPlanning, EventPlanComplete}: task.StatusPlanReady,
	{task.StatusPlanning, EventPlanFailed}:   task.StatusError,
	{task.StatusPlanning, EventKill}:         task.StatusError,

	{task.StatusPlanReady, EventApprove}:        task.StatusPlanPending,
	{task.StatusPlanReady, EventRegeneratePlan}: task.StatusPlanning,

	{task.StatusPlanPending, EventRequestExecution}: task.StatusExecuting,

	{task.StatusExecuting, EventExecutionComplete}: task.StatusComplete,
	{task.StatusExecuting, EventExecutionFailed}:   task.StatusError,
	{task.StatusExecuting, EventKill}:              task.StatusError,

	// Manual retry.
	{task.StatusError, EventRequestPlanning}:  task.StatusPlanning,
	{task.StatusError, EventRequestExecution}: task.StatusExecuting,
}

// Next returns the state t moves to on ev, or the reason it cannot. plan is
// the task's current plan, nil when it has none.
//
// The plan gate lives here and nowhere else: execution of a plan-first task
// is refused with *GateViolation until its plan is approved.
func Next(t *task.Task, plan *task.Plan, ev Event) (task.ExecutionStatus, error) {
	if ev == EventRequestExecution && t.PlanFirst && !plan.Approved() {
		return "", &GateViolation{TaskID: t.ID}
	}

	to, ok := transitions[edge{t.ExecutionStatus, ev}]
	if !ok {
		return "", &TransitionError{TaskID: t.ID, From: t.ExecutionStatus, Event: ev}
	}
	if ev == EventRequestPlanning && !t.PlanFirst {
		return "", &TransitionError{TaskID: t.ID, From: t.ExecutionStatus, Event: ev, Reason: "task is not plan-first"}
	}
	return to, nil
}
