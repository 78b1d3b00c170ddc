// Package orchestrator owns the task execution lifecycle: it applies state
// machine transitions, enforces the plan gate and turns finished sessions into
// task and plan updates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pablasso/taskpilot/internal/agent"
	"github.com/pablasso/taskpilot/internal/config"
	"github.com/pablasso/taskpilot/internal/events"
	"github.com/pablasso/taskpilot/internal/report"
	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/util"
)

// ProfileResolver maps a task's agent type to the launch profile passed to
// the agent unmodified.
type ProfileResolver interface {
	Resolve(agentType string) (config.Profile, error)
}

// ProfileFunc adapts a function to ProfileResolver.
type ProfileFunc func(agentType string) (config.Profile, error)

func (f ProfileFunc) Resolve(agentType string) (config.Profile, error) { return f(agentType) }

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Store      task.Store
	Registry   *session.Registry
	Supervisor *agent.Supervisor
	Publisher  events.Publisher
	Profiles   ProfileResolver
	Logger     *log.Logger
	// WorkDir is the agent's working directory.
	WorkDir string
	// Timeout bounds each session; zero uses agent.DefaultTimeout.
	Timeout time.Duration
}

// Orchestrator serializes commands per task and reacts to session outcomes.
type Orchestrator struct {
	store      task.Store
	registry   *session.Registry
	supervisor *agent.Supervisor
	pub        events.Publisher
	profiles   ProfileResolver
	logger     *log.Logger
	workDir    string
	timeout    time.Duration

	locks *keyedMutex

	mu      sync.Mutex
	settled map[string]chan struct{}
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop
	}
	if cfg.Profiles == nil {
		cfg.Profiles = ProfileFunc(func(string) (config.Profile, error) { return config.Profile{}, nil })
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Orchestrator{
		store:      cfg.Store,
		registry:   cfg.Registry,
		supervisor: cfg.Supervisor,
		pub:        cfg.Publisher,
		profiles:   cfg.Profiles,
		logger:     cfg.Logger,
		workDir:    cfg.WorkDir,
		timeout:    cfg.Timeout,
		locks:      newKeyedMutex(),
		settled:    make(map[string]chan struct{}),
	}
}

// NewTask holds the user-supplied fields of a task.
type NewTask struct {
	Title          string
	Description    string
	Status         task.BoardStatus
	Priority       task.Priority
	PlanFirst      bool
	OutputFolder   string
	ExpectedOutput string
	AgentType      string
}

// CreateTask stores a new draft task. Board status defaults to backlog and
// priority to P2.
func (o *Orchestrator) CreateTask(in NewTask) (*task.Task, error) {
	id, err := util.GenerateTaskID()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:              id,
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Status:          in.Status,
		Priority:        in.Priority,
		ExecutionStatus: task.StatusDraft,
		PlanFirst:       in.PlanFirst,
		OutputFolder:    in.OutputFolder,
		ExpectedOutput:  in.ExpectedOutput,
		AgentType:       in.AgentType,
		CreatedAt:       now,
	}
	if t.Status == "" {
		t.Status = task.BoardBacklog
	}
	if t.Priority == "" {
		t.Priority = task.P2
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := o.store.SaveTask(t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	o.logger.Info("task created", "task", t.ID, "planFirst", t.PlanFirst)
	o.pub.Publish(events.Event{
		Type:    events.TaskCreated,
		TaskID:  t.ID,
		Payload: map[string]any{"title": t.Title, "planFirst": t.PlanFirst},
	})
	return t, nil
}

// MoveTask changes a task's board column. It does not affect execution state.
func (o *Orchestrator) MoveTask(taskID string, status task.BoardStatus) (*task.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	t, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(task.BoardStatuses, status) {
		return nil, fmt.Errorf("invalid board status %q", status)
	}
	if t.Status == status {
		return t, nil
	}

	from := t.Status
	t.Status = status
	if err := o.store.SaveTask(t); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	o.pub.Publish(events.Event{
		Type:    events.TaskMoved,
		TaskID:  t.ID,
		Payload: map[string]any{"from": string(from), "to": string(status)},
	})
	return t, nil
}

// ArchiveTask soft-deletes a task. Tasks with a running session cannot be
// archived.
func (o *Orchestrator) ArchiveTask(taskID string) error {
	unlock := o.locks.lock(taskID)
	defer unlock()

	t, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if s, ok := o.registry.ActiveForTask(taskID); ok {
		return fmt.Errorf("task %s has an active session %s", taskID, util.ShortSessionID(s.ID))
	}

	t.Archived = true
	if err := o.store.SaveTask(t); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	o.pub.Publish(events.Event{Type: events.TaskArchived, TaskID: t.ID})
	return nil
}

// RequestPlanning starts a planning session for a plan-first task.
func (o *Orchestrator) RequestPlanning(ctx context.Context, taskID string) (*session.Session, error) {
	return o.startPlanning(ctx, taskID, EventRequestPlanning)
}

// RegeneratePlan discards a ready plan and starts a new planning session.
func (o *Orchestrator) RegeneratePlan(ctx context.Context, taskID string) (*session.Session, error) {
	return o.startPlanning(ctx, taskID, EventRegeneratePlan)
}

func (o *Orchestrator) startPlanning(ctx context.Context, taskID string, ev Event) (*session.Session, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	t, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	to, err := Next(t, nil, ev)
	if err != nil {
		return nil, err
	}
	profile, err := o.profiles.Resolve(t.AgentType)
	if err != nil {
		return nil, fmt.Errorf("resolve agent profile: %w", err)
	}

	h, err := o.spawn(ctx, t, session.KindPlanning, planningPrompt(t), profile)
	if err != nil {
		return nil, err
	}
	if ev == EventRegeneratePlan {
		if err := o.store.DeletePlan(taskID); err != nil {
			o.logger.Warn("discard previous plan", "task", taskID, "err", err)
		}
	}
	if err := o.commitStart(t, to, h); err != nil {
		return nil, err
	}
	return h.Session, nil
}

// ApprovePlan marks a ready plan approved, unlocking execution.
func (o *Orchestrator) ApprovePlan(taskID string) (*task.Plan, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	t, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	plan, err := o.store.GetPlan(taskID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, &TransitionError{TaskID: taskID, From: t.ExecutionStatus, Event: EventApprove, Reason: "no plan"}
	}
	if err != nil {
		return nil, err
	}
	to, err := Next(t, plan, EventApprove)
	if err != nil {
		return nil, err
	}

	plan.Metadata.Status = task.PlanApproved
	if err := o.store.SavePlan(plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	if err := o.apply(t, to, "", ""); err != nil {
		return nil, err
	}
	o.pub.Publish(events.Event{Type: events.PlanApproved, TaskID: taskID})
	return plan, nil
}

// RequestExecution starts an executing session. Plan-first tasks need an
// approved plan; otherwise *GateViolation is returned and nothing changes.
func (o *Orchestrator) RequestExecution(ctx context.Context, taskID string) (*session.Session, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	t, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	plan, err := o.store.GetPlan(taskID)
	if errors.Is(err, task.ErrNotFound) {
		plan = nil
	} else if err != nil {
		return nil, err
	}

	to, err := Next(t, plan, EventRequestExecution)
	if err != nil {
		if errors.Is(err, ErrGateViolation) {
			o.logger.Warn("execution refused", "task", taskID, "reason", "plan not approved")
		}
		return nil, err
	}
	profile, err := o.profiles.Resolve(t.AgentType)
	if err != nil {
		return nil, fmt.Errorf("resolve agent profile: %w", err)
	}

	h, err := o.spawn(ctx, t, session.KindExecuting, executionPrompt(t, plan), profile)
	if err != nil {
		return nil, err
	}
	if err := o.commitStart(t, to, h); err != nil {
		return nil, err
	}
	return h.Session, nil
}

// KillSession terminates a session and waits until its task reflects the
// kill. Killing a finished session is a no-op.
func (o *Orchestrator) KillSession(ctx context.Context, sessionID string) error {
	if _, err := o.registry.Get(sessionID); err != nil {
		return agent.ErrSessionNotFound
	}
	if err := o.supervisor.Kill(ctx, sessionID); err != nil {
		return err
	}
	return o.WaitSession(ctx, sessionID)
}

// WaitSession blocks until a session started by this orchestrator has been
// applied to its task. Unknown or already settled sessions return at once.
func (o *Orchestrator) WaitSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	done, ok := o.settled[sessionID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started session has been applied.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) spawn(ctx context.Context, t *task.Task, kind session.Kind, prompt string, profile config.Profile) (*agent.Handle, error) {
	req := agent.SpawnRequest{
		TaskID:  t.ID,
		Kind:    kind,
		Prompt:  prompt,
		Profile: profile,
		Timeout: o.timeout,
		WorkDir: o.workDir,
	}
	if kind == session.KindExecuting {
		req.OutputPath = t.OutputFolder
		req.OutputFolder = t.OutputFolder
		req.ExpectedOutput = t.ExpectedOutput
	}

	h, err := o.supervisor.Spawn(ctx, req)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.settled[h.Session.ID] = done
	o.mu.Unlock()

	o.wg.Add(1)
	go o.await(h, kind, done)
	return h, nil
}

// commitStart records the transition into planning or executing. If the task
// cannot be saved the fresh session is killed.
func (o *Orchestrator) commitStart(t *task.Task, to task.ExecutionStatus, h *agent.Handle) error {
	err := o.apply(t, to, "", h.Session.ID)
	if err == nil {
		return nil
	}
	o.logger.Error("killing session after failed task update", "task", t.ID, "session", h.Session.ID, "err", err)
	if kerr := o.supervisor.Kill(context.Background(), h.Session.ID); kerr != nil {
		o.logger.Warn("kill session", "session", h.Session.ID, "err", kerr)
	}
	return err
}

// apply saves t in state to and publishes the change. Callers hold the task
// lock.
func (o *Orchestrator) apply(t *task.Task, to task.ExecutionStatus, note, sessionID string) error {
	from := t.ExecutionStatus
	t.ExecutionStatus = to
	t.Note = note
	if err := o.store.SaveTask(t); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	o.logger.Info("task transition", "task", t.ID, "from", from, "to", to)
	payload := map[string]any{"from": string(from), "to": string(to)}
	if note != "" {
		payload["note"] = note
	}
	o.pub.Publish(events.Event{Type: events.TaskUpdated, TaskID: t.ID, SessionID: sessionID, Payload: payload})
	return nil
}

func (o *Orchestrator) await(h *agent.Handle, kind session.Kind, done chan struct{}) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.settled, h.Session.ID)
		o.mu.Unlock()
		close(done)
	}()

	out, ok := <-h.Done()
	if !ok {
		return
	}
	o.complete(kind, out)
}

func completionEvent(kind session.Kind, out agent.Outcome) Event {
	switch {
	case out.Session.Status == session.StatusKilled:
		return EventKill
	case kind == session.KindPlanning && out.Success:
		return EventPlanComplete
	case kind == session.KindPlanning:
		return EventPlanFailed
	case out.Success:
		return EventExecutionComplete
	default:
		return EventExecutionFailed
	}
}

// complete applies a finished session to its task.
func (o *Orchestrator) complete(kind session.Kind, out agent.Outcome) {
	sess := out.Session
	logger := o.logger.With("task", sess.TaskID, "session", sess.ID)

	unlock := o.locks.lock(sess.TaskID)
	defer unlock()

	t, err := o.store.GetTask(sess.TaskID)
	if err != nil {
		logger.Warn("task unavailable for session outcome", "err", err)
		return
	}

	ev := completionEvent(kind, out)
	to, err := Next(t, nil, ev)
	if err != nil {
		logger.Warn("discarding session outcome", "err", err)
		return
	}

	var note string
	var follow *events.Event
	switch ev {
	case EventPlanComplete:
		content := report.Body(out.Output)
		if content == "" {
			content = out.Result.Result
		}
		plan := &task.Plan{
			TaskID:  t.ID,
			Content: content,
			Metadata: task.PlanMetadata{
				AgentType: t.AgentType,
				SessionID: sess.ID,
				CreatedAt: time.Now().UTC(),
				Status:    task.PlanDraft,
			},
		}
		if err := o.store.SavePlan(plan); err != nil {
			logger.Error("save plan", "err", err)
			to, note = task.StatusError, fmt.Sprintf("save plan: %v", err)
			break
		}
		follow = &events.Event{Type: events.PlanReady, TaskID: t.ID, SessionID: sess.ID}

	case EventExecutionComplete:
		result := out.Result
		result.Files = slices.Clone(out.Result.Files)
		result.URLs = slices.Clone(out.Result.URLs)
		t.CompletionSummary = &result
		t.Files = slices.Clone(result.Files)
		t.Status = task.BoardDone
		if err := o.store.DeletePlan(t.ID); err != nil {
			logger.Warn("discard executed plan", "err", err)
		}
		follow = &events.Event{
			Type:      events.TaskCompleted,
			TaskID:    t.ID,
			SessionID: sess.ID,
			Payload:   map[string]any{"result": result.Result, "files": len(result.Files)},
		}

	case EventKill:
		note = "killed by user"

	default:
		note = sess.Note
		if note == "" {
			note = "session failed"
		}
	}

	if err := o.apply(t, to, note, sess.ID); err != nil {
		logger.Error("apply session outcome", "err", err)
		return
	}
	if follow != nil {
		o.pub.Publish(*follow)
	}
}

// ListTasks returns non-archived tasks in board order.
func (o *Orchestrator) ListTasks() ([]*task.Task, error) {
	return o.store.ListTasks()
}

// GetTask returns one task.
func (o *Orchestrator) GetTask(taskID string) (*task.Task, error) {
	return o.store.GetTask(taskID)
}

// GetPlan returns the task's current plan.
func (o *Orchestrator) GetPlan(taskID string) (*task.Plan, error) {
	return o.store.GetPlan(taskID)
}

// ActiveSessions returns running sessions, oldest first.
func (o *Orchestrator) ActiveSessions() []*session.Session {
	return o.registry.Active()
}

// SessionHistory returns finished sessions, newest first.
func (o *Orchestrator) SessionHistory() []*session.Session {
	return o.registry.History()
}

// Session returns one session, active or historical.
func (o *Orchestrator) Session(sessionID string) (*session.Session, error) {
	return o.registry.Get(sessionID)
}

// ThoughtsAfter returns the session's thoughts with Seq greater than cursor
// and the cursor to pass next time.
func (o *Orchestrator) ThoughtsAfter(sessionID string, cursor int) ([]session.Thought, int, error) {
	return o.registry.ThoughtsAfter(sessionID, cursor)
}

// SessionResult returns the parsed result of a finished session.
func (o *Orchestrator) SessionResult(sessionID string) (*report.Result, error) {
	s, err := o.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Status.IsTerminal() {
		return nil, ErrSessionActive
	}
	if s.Result == nil {
		return &report.Result{Status: report.StatusUnknown, Files: []string{}, URLs: []string{}}, nil
	}
	return s.Result, nil
}
