package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/taskpilot/internal/task"
)

func TestNext(t *testing.T) {
	approved := &task.Plan{Metadata: task.PlanMetadata{Status: task.PlanApproved}}
	draft := &task.Plan{Metadata: task.PlanMetadata{Status: task.PlanDraft}}

	tests := []struct {
		name      string
		from      task.ExecutionStatus
		planFirst bool
		plan      *task.Plan
		event     Event
		want      task.ExecutionStatus
	}{
		{"plan a plan-first draft", task.StatusDraft, true, nil, EventRequestPlanning, task.StatusPlanning},
		{"execute a direct draft", task.StatusDraft, false, nil, EventRequestExecution, task.StatusExecuting},
		{"planning succeeds", task.StatusPlanning, true, nil, EventPlanComplete, task.StatusPlanReady},
		{"planning fails", task.StatusPlanning, true, nil, EventPlanFailed, task.StatusError},
		{"planning killed", task.StatusPlanning, true, nil, EventKill, task.StatusError},
		{"approve", task.StatusPlanReady, true, draft, EventApprove, task.StatusPlanPending},
		{"regenerate", task.StatusPlanReady, true, draft, EventRegeneratePlan, task.StatusPlanning},
		{"execute approved plan", task.StatusPlanPending, true, approved, EventRequestExecution, task.StatusExecuting},
		{"execution succeeds", task.StatusExecuting, false, nil, EventExecutionComplete, task.StatusComplete},
		{"execution fails", task.StatusExecuting, false, nil, EventExecutionFailed, task.StatusError},
		{"execution killed", task.StatusExecuting, false, nil, EventKill, task.StatusError},
		{"retry planning", task.StatusError, true, nil, EventRequestPlanning, task.StatusPlanning},
		{"retry execution", task.StatusError, false, nil, EventRequestExecution, task.StatusExecuting},
		{"retry approved execution", task.StatusError, true, approved, EventRequestExecution, task.StatusExecuting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := &task.Task{ID: "t-1", ExecutionStatus: tt.from, PlanFirst: tt.planFirst}
			got, err := Next(tk, tt.plan, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Gate(t *testing.T) {
	draft := &task.Plan{Metadata: task.PlanMetadata{Status: task.PlanDraft}}

	for _, from := range []task.ExecutionStatus{
		task.StatusDraft, task.StatusPlanReady, task.StatusPlanPending, task.StatusError, task.StatusComplete,
	} {
		for _, plan := range []*task.Plan{nil, draft} {
			tk := &task.Task{ID: "t-1", ExecutionStatus: from, PlanFirst: true}
			_, err := Next(tk, plan, EventRequestExecution)

			var gate *GateViolation
			require.ErrorAs(t, err, &gate, "from %s", from)
			assert.ErrorIs(t, err, ErrGateViolation)
			assert.Equal(t, "task t-1: plan not approved", err.Error())
		}
	}
}

func TestNext_Illegal(t *testing.T) {
	tests := []struct {
		name      string
		from      task.ExecutionStatus
		planFirst bool
		event     Event
		reason    string
	}{
		{"plan a direct task", task.StatusDraft, false, EventRequestPlanning, "task is not plan-first"},
		{"approve a draft", task.StatusDraft, true, EventApprove, ""},
		{"plan twice", task.StatusPlanning, true, EventRequestPlanning, ""},
		{"execute twice", task.StatusExecuting, false, EventRequestExecution, ""},
		{"rerun complete task", task.StatusComplete, false, EventRequestExecution, ""},
		{"approve twice", task.StatusPlanPending, true, EventApprove, ""},
		{"regenerate after approval", task.StatusPlanPending, true, EventRegeneratePlan, ""},
		{"kill idle task", task.StatusDraft, false, EventKill, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := &task.Task{ID: "t-1", ExecutionStatus: tt.from, PlanFirst: tt.planFirst}
			_, err := Next(tk, nil, tt.event)

			var terr *TransitionError
			require.ErrorAs(t, err, &terr)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.False(t, errors.Is(err, ErrGateViolation))
			assert.Equal(t, tt.from, terr.From)
			assert.Equal(t, tt.reason, terr.Reason)
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")

	// Other keys are independent.
	unlockB := k.lock("b")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		k.lock("a")()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key did not block")
	default:
	}
	unlockA()
	<-acquired
}
