// Package session tracks agent sessions: one spawned agent process and the
// thoughts it produced, bound to exactly one task.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/pablasso/taskpilot/internal/report"
)

// Kind is what a session was spawned for.
type Kind string

const (
	KindPlanning  Kind = "planning"
	KindExecuting Kind = "executing"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusKilled   Status = "killed"
)

// IsTerminal reports whether the session has finished.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusKilled
}

// Health describes how recently a running session produced output.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthSlow    Health = "slow"
	HealthStale   Health = "stale"
)

// ThoughtType classifies one unit of agent output.
type ThoughtType string

const (
	ThoughtThinking   ThoughtType = "thinking"
	ThoughtText       ThoughtType = "text"
	ThoughtTool       ThoughtType = "tool"
	ThoughtToolResult ThoughtType = "toolResult"
)

// Thought is one incremental unit of agent-visible reasoning or action.
type Thought struct {
	Seq       int         `json:"seq"`
	Type      ThoughtType `json:"type"`
	Content   string      `json:"content,omitempty"`
	Tool      string      `json:"tool,omitempty"`
	ToolID    string      `json:"toolId,omitempty"`
	Source    string      `json:"source,omitempty"` // "stderr" for diagnostic lines
	Timestamp time.Time   `json:"timestamp"`
}

// Session is a snapshot of one agent run. Values handed out by the Registry
// are copies; mutating them has no effect on the registry.
type Session struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"taskId"`
	Kind          Kind           `json:"kind"`
	Status        Status         `json:"status"`
	Health        Health         `json:"health,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       time.Time      `json:"endedAt,omitzero"`
	LastActivity  time.Time      `json:"lastActivity"`
	Model         string         `json:"model,omitempty"`
	CurrentStep   int            `json:"currentStep"`
	TotalSteps    int            `json:"totalSteps,omitempty"`
	TokensUsed    int            `json:"tokensUsed"`
	EstimatedCost float64        `json:"estimatedCost"`
	ExitCode      int            `json:"exitCode"`
	Note          string         `json:"note,omitempty"`
	Result        *report.Result `json:"result,omitempty"`
	Thoughts      []Thought      `json:"thoughts,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Thoughts = slices.Clone(s.Thoughts)
	if s.Result != nil {
		r := *s.Result
		r.Files = slices.Clone(s.Result.Files)
		r.URLs = slices.Clone(s.Result.URLs)
		c.Result = &r
	}
	return &c
}

// Duration returns how long the session ran (or has been running).
func (s *Session) Duration(now time.Time) time.Duration {
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// HealthThresholds are the silence windows after which a running session is
// reported slow or stale.
type HealthThresholds struct {
	SlowAfter  time.Duration
	StaleAfter time.Duration
}

// DefaultHealthThresholds returns the thresholds used when none are configured.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		SlowAfter:  30 * time.Second,
		StaleAfter: 2 * time.Minute,
	}
}

// ComputeHealth derives health from the time of the last observed activity.
// Terminal sessions are always reported healthy.
func ComputeHealth(status Status, lastActivity, now time.Time, th HealthThresholds) Health {
	if status.IsTerminal() {
		return HealthHealthy
	}
	silence := now.Sub(lastActivity)
	switch {
	case th.StaleAfter > 0 && silence >= th.StaleAfter:
		return HealthStale
	case th.SlowAfter > 0 && silence >= th.SlowAfter:
		return HealthSlow
	default:
		return HealthHealthy
	}
}

// ErrConcurrencyViolation is matched by *ConcurrencyViolation via errors.Is.
var ErrConcurrencyViolation = errors.New("session already active for task")

// ErrNotFound is returned for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// ConcurrencyViolation is returned when a session is requested for a task that
// already has an active one.
type ConcurrencyViolation struct {
	TaskID          string
	ActiveSessionID string
}

func (e *ConcurrencyViolation) Error() string {
	return fmt.Sprintf("task %s already has an active session (%s)", e.TaskID, e.ActiveSessionID)
}

func (e *ConcurrencyViolation) Is(target error) bool {
	return target == ErrConcurrencyViolation
}
