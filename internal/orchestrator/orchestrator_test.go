package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/taskpilot/internal/agent"
	"github.com/pablasso/taskpilot/internal/config"
	"github.com/pablasso/taskpilot/internal/events"
	"github.com/pablasso/taskpilot/internal/logging"
	"github.com/pablasso/taskpilot/internal/report"
	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	store    *task.MemoryStore
	registry *session.Registry
	launcher *testutil.FakeLauncher
	events   *recorder
}

func newHarness(t *testing.T, scripts ...testutil.Script) *harness {
	t.Helper()
	rec := &recorder{}
	store := task.NewMemoryStore()
	reg := session.NewRegistry(rec, session.WithLogger(logging.Discard()))
	launcher := testutil.NewFakeLauncher(scripts...)
	sup := agent.NewSupervisor(agent.SupervisorConfig{
		Launcher: launcher,
		Registry: reg,
		Logger:   logging.Discard(),
	})
	orch := New(Config{
		Store:      store,
		Registry:   reg,
		Supervisor: sup,
		Publisher:  rec,
		Profiles: ProfileFunc(func(agentType string) (config.Profile, error) {
			if agentType == "unknown" {
				return config.Profile{}, errors.New("unknown agent profile")
			}
			return config.Profile{Model: "sonnet", SystemPrompt: "profile:" + agentType}, nil
		}),
		Logger:  logging.Discard(),
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() {
		orch.Wait()
		sup.Wait()
	})
	return &harness{orch: orch, store: store, registry: reg, launcher: launcher, events: rec}
}

func (h *harness) create(t *testing.T, planFirst bool) *task.Task {
	t.Helper()
	tk, err := h.orch.CreateTask(NewTask{Title: "Write the weekly report", Description: "Summarize merged PRs.", PlanFirst: planFirst})
	require.NoError(t, err)
	return tk
}

func (h *harness) settle(t *testing.T, sessionID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.WaitSession(ctx, sessionID))
}

func (h *harness) task(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := h.store.GetTask(id)
	require.NoError(t, err)
	return tk
}

var planOutput = testutil.Script{Stdout: []string{
	"## Plan",
	"1. Collect merged PRs",
	"2. Write summary",
	"STEP_COMPLETE",
	"Result: plan drafted",
	"Files Created: none",
}}

func executionOutput(file string) testutil.Script {
	return testutil.Script{Stdout: []string{
		"Working.",
		"STEP_COMPLETE",
		"Result: report written",
		"Files Created:",
		"- " + file,
		"- /nonexistent/claimed.md",
		"URLs: none",
	}}
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t)

	tk := h.create(t, true)
	assert.Regexp(t, `^t-[a-z0-9]{6}$`, tk.ID)
	assert.Equal(t, task.StatusDraft, tk.ExecutionStatus)
	assert.Equal(t, task.BoardBacklog, tk.Status)
	assert.Equal(t, task.P2, tk.Priority)
	assert.Equal(t, []events.Type{events.TaskCreated}, h.events.types())

	_, err := h.orch.CreateTask(NewTask{Title: "  "})
	assert.Error(t, err)
	_, err = h.orch.CreateTask(NewTask{Title: "x", Priority: "P9"})
	assert.Error(t, err)
}

func TestEndToEnd_PlanFirst(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(out, []byte("# Report"), 0644))
	h := newHarness(t, planOutput, executionOutput(out))
	ctx := context.Background()

	tk := h.create(t, true)

	_, err := h.orch.RequestExecution(ctx, tk.ID)
	require.ErrorIs(t, err, ErrGateViolation)
	assert.Empty(t, h.launcher.Launches(), "gate violation spawns nothing")
	assert.Empty(t, h.registry.Active())
	assert.Equal(t, task.StatusDraft, h.task(t, tk.ID).ExecutionStatus)

	planning, err := h.orch.RequestPlanning(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindPlanning, planning.Kind)
	h.settle(t, planning.ID)

	assert.Equal(t, task.StatusPlanReady, h.task(t, tk.ID).ExecutionStatus)
	plan, err := h.orch.GetPlan(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.PlanDraft, plan.Metadata.Status)
	assert.Equal(t, planning.ID, plan.Metadata.SessionID)
	assert.Equal(t, "## Plan\n1. Collect merged PRs\n2. Write summary", plan.Content)

	_, err = h.orch.RequestExecution(ctx, tk.ID)
	require.ErrorIs(t, err, ErrGateViolation, "draft plan still gates execution")

	approved, err := h.orch.ApprovePlan(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.PlanApproved, approved.Metadata.Status)
	assert.Equal(t, task.StatusPlanPending, h.task(t, tk.ID).ExecutionStatus)

	executing, err := h.orch.RequestExecution(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, session.KindExecuting, executing.Kind)
	h.settle(t, executing.ID)

	done := h.task(t, tk.ID)
	assert.Equal(t, task.StatusComplete, done.ExecutionStatus)
	assert.Equal(t, task.BoardDone, done.Status)
	require.NotNil(t, done.CompletionSummary)
	assert.Equal(t, report.StatusComplete, done.CompletionSummary.Status)
	assert.Equal(t, "report written", done.CompletionSummary.Result)
	assert.Equal(t, []string{out}, done.Files)
	assert.Empty(t, done.Note)

	_, err = h.orch.GetPlan(tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound, "plan is consumed by execution")

	launches := h.launcher.Launches()
	require.Len(t, launches, 2)
	assert.Contains(t, launches[1].Prompt, "## Approved Plan")
	assert.Contains(t, launches[1].Prompt, "1. Collect merged PRs")
	assert.Equal(t, "profile:", launches[1].Profile.SystemPrompt)

	types := h.events.types()
	for _, want := range []events.Type{
		events.TaskCreated, events.SessionStarted, events.PlanReady, events.PlanApproved,
		events.SessionCompleted, events.TaskCompleted,
	} {
		assert.Contains(t, types, want)
	}

	result, err := h.orch.SessionResult(executing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{out}, result.Files)
}

func TestRequestExecution_Direct(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, testutil.Script{Stdout: []string{"no footer at all"}})

	tk, err := h.orch.CreateTask(NewTask{Title: "Direct", OutputFolder: dir, ExpectedOutput: "out.txt", AgentType: "writer"})
	require.NoError(t, err)

	s, err := h.orch.RequestExecution(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusExecuting, h.task(t, tk.ID).ExecutionStatus)
	h.settle(t, s.ID)

	assert.Equal(t, task.StatusComplete, h.task(t, tk.ID).ExecutionStatus, "clean exit counts as success")

	spec := h.launcher.Launches()[0]
	assert.Equal(t, dir, spec.OutputPath)
	assert.Equal(t, "profile:writer", spec.Profile.SystemPrompt)
	assert.Contains(t, spec.Prompt, "expected: out.txt")
}

func TestRequestExecution_FailureThenRetry(t *testing.T) {
	h := newHarness(t,
		testutil.Script{Stdout: []string{"STEP_ERROR", "Result: tried", "Error: API quota exhausted"}, ExitCode: 1},
		testutil.Script{Stdout: []string{"STEP_COMPLETE", "Result: ok"}},
	)
	tk := h.create(t, false)

	s, err := h.orch.RequestExecution(context.Background(), tk.ID)
	require.NoError(t, err)
	h.settle(t, s.ID)

	failed := h.task(t, tk.ID)
	assert.Equal(t, task.StatusError, failed.ExecutionStatus)
	assert.Equal(t, "API quota exhausted", failed.Note)
	assert.Nil(t, failed.CompletionSummary)
	assert.Contains(t, h.events.types(), events.SessionFailed)

	s, err = h.orch.RequestExecution(context.Background(), tk.ID)
	require.NoError(t, err, "manual retry from error")
	h.settle(t, s.ID)
	assert.Equal(t, task.StatusComplete, h.task(t, tk.ID).ExecutionStatus)
}

func TestPlanningFailure(t *testing.T) {
	h := newHarness(t, testutil.Script{Stdout: []string{"crash"}, ExitCode: 2})
	tk := h.create(t, true)

	s, err := h.orch.RequestPlanning(context.Background(), tk.ID)
	require.NoError(t, err)
	h.settle(t, s.ID)

	got := h.task(t, tk.ID)
	assert.Equal(t, task.StatusError, got.ExecutionStatus)
	assert.Equal(t, "agent exited with code 2", got.Note)
	_, err = h.orch.GetPlan(tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestKillSession(t *testing.T) {
	h := newHarness(t, testutil.Script{Stdout: []string{"starting"}, Hang: true})
	tk := h.create(t, false)
	ctx := context.Background()

	s, err := h.orch.RequestExecution(ctx, tk.ID)
	require.NoError(t, err)

	res, err := h.orch.SessionResult(s.ID)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Error(t, h.orch.ArchiveTask(tk.ID), "running task cannot be archived")

	require.NoError(t, h.orch.KillSession(ctx, s.ID))

	got := h.task(t, tk.ID)
	assert.Equal(t, task.StatusError, got.ExecutionStatus)
	assert.Equal(t, "killed by user", got.Note)

	sess, err := h.orch.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusKilled, sess.Status)

	assert.NoError(t, h.orch.KillSession(ctx, s.ID), "second kill is a no-op")
	assert.ErrorIs(t, h.orch.KillSession(ctx, "missing"), agent.ErrSessionNotFound)
}

func TestSpawnFailureKeepsState(t *testing.T) {
	h := newHarness(t, testutil.Script{StartErr: errors.New("no such binary")})
	tk := h.create(t, false)

	_, err := h.orch.RequestExecution(context.Background(), tk.ID)
	var spawnErr *agent.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, task.StatusDraft, h.task(t, tk.ID).ExecutionStatus)
	assert.Empty(t, h.registry.Active())
}

func TestUnknownProfileSpawnsNothing(t *testing.T) {
	h := newHarness(t, testutil.Script{})
	tk, err := h.orch.CreateTask(NewTask{Title: "x", AgentType: "unknown"})
	require.NoError(t, err)

	_, err = h.orch.RequestExecution(context.Background(), tk.ID)
	require.Error(t, err)
	assert.Empty(t, h.launcher.Launches())
	assert.Equal(t, task.StatusDraft, h.task(t, tk.ID).ExecutionStatus)
}

func TestConcurrentRequests_OneSession(t *testing.T) {
	h := newHarness(t, testutil.Script{Hang: true})
	tk := h.create(t, false)

	const attempts = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sessions []*session.Session
		rejected int
	)
	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := h.orch.RequestExecution(context.Background(), tk.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, ErrIllegalTransition) || errors.Is(err, session.ErrConcurrencyViolation) {
					rejected++
				}
				return
			}
			sessions = append(sessions, s)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, sessions, 1)
	assert.Equal(t, attempts-1, rejected)
	assert.Len(t, h.launcher.Launches(), 1)
	assert.Len(t, h.registry.Active(), 1)

	require.NoError(t, h.orch.KillSession(context.Background(), sessions[0].ID))
}

func TestApprovePlan_Errors(t *testing.T) {
	h := newHarness(t)
	tk := h.create(t, true)

	_, err := h.orch.ApprovePlan(tk.ID)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "no plan", terr.Reason)

	_, err = h.orch.ApprovePlan("t-missing")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestRegeneratePlan(t *testing.T) {
	release := make(chan struct{})
	second := testutil.Script{
		Stdout:  []string{"## Better plan", "STEP_COMPLETE", "Result: replanned"},
		Release: release,
	}
	h := newHarness(t, planOutput, second)
	ctx := context.Background()
	tk := h.create(t, true)

	s, err := h.orch.RequestPlanning(ctx, tk.ID)
	require.NoError(t, err)
	h.settle(t, s.ID)

	s, err = h.orch.RegeneratePlan(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPlanning, h.task(t, tk.ID).ExecutionStatus)
	_, err = h.orch.GetPlan(tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound, "previous plan discarded")

	close(release)
	h.settle(t, s.ID)

	plan, err := h.orch.GetPlan(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "## Better plan", plan.Content)
	assert.Equal(t, task.PlanDraft, plan.Metadata.Status)
}

func TestMoveAndArchive(t *testing.T) {
	h := newHarness(t)
	tk := h.create(t, false)

	moved, err := h.orch.MoveTask(tk.ID, task.BoardToday)
	require.NoError(t, err)
	assert.Equal(t, task.BoardToday, moved.Status)
	assert.Equal(t, task.StatusDraft, moved.ExecutionStatus)

	_, err = h.orch.MoveTask(tk.ID, "someday")
	assert.Error(t, err)

	require.NoError(t, h.orch.ArchiveTask(tk.ID))
	list, err := h.orch.ListTasks()
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []events.Type{events.TaskCreated, events.TaskMoved, events.TaskArchived}, h.events.types())
}

func TestThoughtsAfter(t *testing.T) {
	h := newHarness(t, testutil.Script{Stdout: []string{
		testutil.StreamText("one"),
		testutil.StreamText("two"),
		testutil.StreamText("three"),
		testutil.StreamResult("STEP_COMPLETE\nResult: ok", 10, 5, "0.001"),
	}})
	tk := h.create(t, false)

	s, err := h.orch.RequestExecution(context.Background(), tk.ID)
	require.NoError(t, err)
	h.settle(t, s.ID)

	first, cursor, err := h.orch.ThoughtsAfter(s.ID, 0)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 3, cursor)

	rest, next, err := h.orch.ThoughtsAfter(s.ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "two", rest[0].Content)
	assert.Equal(t, 3, next)

	hist := h.orch.SessionHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, 15, hist[0].TokensUsed)
}
