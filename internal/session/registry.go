package session

import (
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/pablasso/taskpilot/internal/events"
	"github.com/pablasso/taskpilot/internal/report"
)

// DefaultMaxHistory bounds the number of terminal sessions kept in memory.
const DefaultMaxHistory = 200

// Option configures a Registry.
type Option func(*Registry)

// WithMaxHistory sets the history retention. Values <= 0 keep the default.
func WithMaxHistory(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// WithThresholds sets the health thresholds.
func WithThresholds(th HealthThresholds) Option {
	return func(r *Registry) { r.thresholds = th }
}

// WithStorage persists every finished session.
func WithStorage(s *Storage) Option {
	return func(r *Registry) { r.storage = s }
}

// WithLogger sets the registry logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the single source of truth for which sessions exist, which are
// active, and what they have produced. It holds no process handles.
type Registry struct {
	mu         sync.Mutex
	active     map[string]*Session // by session ID
	byTask     map[string]string   // task ID -> active session ID
	history    []*Session          // oldest first
	maxHistory int
	thresholds HealthThresholds

	pub     events.Publisher
	storage *Storage
	logger  *log.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry publishing to pub (nil discards).
func NewRegistry(pub events.Publisher, opts ...Option) *Registry {
	if pub == nil {
		pub = events.Nop
	}
	r := &Registry{
		active:     make(map[string]*Session),
		byTask:     make(map[string]string),
		maxHistory: DefaultMaxHistory,
		thresholds: DefaultHealthThresholds(),
		pub:        pub,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// Thresholds returns the configured health thresholds.
func (r *Registry) Thresholds() HealthThresholds {
	return r.thresholds
}

// Reserve atomically claims the task's active slot and creates a running
// session. It fails with *ConcurrencyViolation when the task already has one.
func (r *Registry) Reserve(taskID string, kind Kind, model string) (*Session, error) {
	r.mu.Lock()
	if id, ok := r.byTask[taskID]; ok {
		r.mu.Unlock()
		return nil, &ConcurrencyViolation{TaskID: taskID, ActiveSessionID: id}
	}

	now := r.now().UTC()
	s := &Session{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Kind:         kind,
		Status:       StatusRunning,
		StartedAt:    now,
		LastActivity: now,
		Model:        model,
	}
	r.active[s.ID] = s
	r.byTask[taskID] = s.ID
	snap := r.snapshotLocked(s)
	r.mu.Unlock()
	return snap, nil
}

// Started announces a reserved session once its process is running. Sessions
// that are aborted before launch are never announced.
func (r *Registry) Started(sessionID string) {
	r.mu.Lock()
	s, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	ev := events.Event{
		Type:      events.SessionStarted,
		TaskID:    s.TaskID,
		SessionID: s.ID,
		Payload:   map[string]any{"kind": string(s.Kind), "model": s.Model},
	}
	r.mu.Unlock()

	r.pub.Publish(ev)
}

// Abort releases a reserved session whose process never started. The session
// is discarded rather than recorded in history.
func (r *Registry) Abort(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.active[sessionID]
	if !ok {
		return
	}
	delete(r.active, sessionID)
	if r.byTask[s.TaskID] == sessionID {
		delete(r.byTask, s.TaskID)
	}
}

// AppendThought records one thought for a running session, assigning its
// sequence number. Thoughts for unknown or finished sessions are dropped.
func (r *Registry) AppendThought(sessionID string, t Thought) (Thought, bool) {
	r.mu.Lock()
	s, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		return Thought{}, false
	}

	now := r.now().UTC()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	t.Seq = len(s.Thoughts) + 1
	s.Thoughts = append(s.Thoughts, t)
	s.LastActivity = now
	if t.Type == ThoughtTool {
		s.CurrentStep++
	}
	taskID := s.TaskID
	r.mu.Unlock()

	r.pub.Publish(events.Event{
		Type:      events.SessionProgress,
		TaskID:    taskID,
		SessionID: sessionID,
		Payload:   map[string]any{"seq": t.Seq, "type": string(t.Type)},
	})
	return t, true
}

// Touch marks activity without recording a thought.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.active[sessionID]; ok {
		s.LastActivity = r.now().UTC()
	}
}

// RecordUsage stores the latest token and cost totals reported by the agent.
func (r *Registry) RecordUsage(sessionID string, tokens int, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[sessionID]
	if !ok {
		return
	}
	if tokens > 0 {
		s.TokensUsed = tokens
	}
	if cost > 0 {
		s.EstimatedCost = cost
	}
}

// Finish moves a running session to history with the given terminal status.
// It returns false without error when the session is already terminal.
func (r *Registry) Finish(sessionID string, status Status, note string, result *report.Result, exitCode int) (bool, error) {
	r.mu.Lock()
	s, ok := r.active[sessionID]
	if !ok {
		known := r.findHistoryLocked(sessionID) != nil
		r.mu.Unlock()
		if known {
			return false, nil
		}
		return false, ErrNotFound
	}

	s.Status = status
	s.Note = note
	s.ExitCode = exitCode
	s.EndedAt = r.now().UTC()
	if result != nil {
		res := *result
		s.Result = &res
		if s.TokensUsed == 0 {
			s.TokensUsed = res.TokensUsed
		}
	}

	delete(r.active, sessionID)
	if r.byTask[s.TaskID] == sessionID {
		delete(r.byTask, s.TaskID)
	}
	r.history = append(r.history, s)
	if over := len(r.history) - r.maxHistory; over > 0 {
		r.history = slices.Delete(r.history, 0, over)
	}
	snap := r.snapshotLocked(s)
	r.mu.Unlock()

	if r.storage != nil {
		if err := r.storage.Save(snap); err != nil {
			r.logger.Warn("persist session", "session", sessionID, "err", err)
		}
	}

	eventType := events.SessionCompleted
	if status != StatusComplete {
		eventType = events.SessionFailed
	}
	r.pub.Publish(events.Event{
		Type:      eventType,
		TaskID:    snap.TaskID,
		SessionID: sessionID,
		Payload: map[string]any{
			"status":   string(status),
			"note":     note,
			"exitCode": exitCode,
		},
	})
	return true, nil
}

// Get returns a snapshot of a session, active or historical.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.active[sessionID]; ok {
		return r.snapshotLocked(s), nil
	}
	if s := r.findHistoryLocked(sessionID); s != nil {
		return r.snapshotLocked(s), nil
	}
	return nil, ErrNotFound
}

// ActiveForTask returns the running session for a task, if any.
func (r *Registry) ActiveForTask(taskID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byTask[taskID]
	if !ok {
		return nil, false
	}
	return r.snapshotLocked(r.active[id]), true
}

// Active returns snapshots of all running sessions, oldest first.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, r.snapshotLocked(s))
	}
	slices.SortFunc(out, func(a, b *Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// History returns snapshots of finished sessions, newest first.
func (r *Registry) History() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0; i-- {
		out = append(out, r.snapshotLocked(r.history[i]))
	}
	return out
}

// ThoughtsAfter returns the thoughts with Seq greater than cursor and the
// cursor to pass on the next call.
func (r *Registry) ThoughtsAfter(sessionID string, cursor int) ([]Thought, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.active[sessionID]
	if !ok {
		s = r.findHistoryLocked(sessionID)
	}
	if s == nil {
		return nil, cursor, ErrNotFound
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(s.Thoughts) {
		return nil, len(s.Thoughts), nil
	}
	return slices.Clone(s.Thoughts[cursor:]), len(s.Thoughts), nil
}

func (r *Registry) findHistoryLocked(sessionID string) *Session {
	for _, s := range r.history {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

func (r *Registry) snapshotLocked(s *Session) *Session {
	c := s.clone()
	c.Health = ComputeHealth(s.Status, s.LastActivity, r.now(), r.thresholds)
	return c
}
