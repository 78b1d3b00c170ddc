// Package task defines tasks and plans and the stores that persist them.
package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pablasso/taskpilot/internal/report"
)

// BoardStatus is the column a task sits in.
type BoardStatus string

const (
	BoardBacklog  BoardStatus = "backlog"
	BoardToday    BoardStatus = "today"
	BoardTomorrow BoardStatus = "tomorrow"
	BoardDone     BoardStatus = "done"
)

// BoardStatuses lists the columns in display order.
var BoardStatuses = []BoardStatus{BoardBacklog, BoardToday, BoardTomorrow, BoardDone}

// Priority ranks tasks, P0 highest.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// ExecutionStatus is a task's position in the execution lifecycle.
type ExecutionStatus string

const (
	StatusDraft       ExecutionStatus = "draft"
	StatusPlanPending ExecutionStatus = "plan-pending"
	StatusPlanning    ExecutionStatus = "planning"
	StatusPlanReady   ExecutionStatus = "plan-ready"
	StatusExecuting   ExecutionStatus = "executing"
	StatusError       ExecutionStatus = "error"
	StatusComplete    ExecutionStatus = "complete"
)

// PlanStatus is the approval state of a plan.
type PlanStatus string

const (
	PlanDraft    PlanStatus = "draft"
	PlanApproved PlanStatus = "approved"
)

// ErrNotFound is returned when a task or plan does not exist.
var ErrNotFound = errors.New("not found")

// Task is a unit of user-requested work.
type Task struct {
	ID                string          `yaml:"id" json:"id"`
	Title             string          `yaml:"title" json:"title"`
	Description       string          `yaml:"-" json:"description"`
	Status            BoardStatus     `yaml:"status" json:"status"`
	Priority          Priority        `yaml:"priority" json:"priority"`
	ExecutionStatus   ExecutionStatus `yaml:"executionStatus" json:"executionStatus"`
	PlanFirst         bool            `yaml:"planFirst" json:"planFirst"`
	OutputFolder      string          `yaml:"outputFolder,omitempty" json:"outputFolder,omitempty"`
	ExpectedOutput    string          `yaml:"expectedOutput,omitempty" json:"expectedOutput,omitempty"`
	AgentType         string          `yaml:"agentType,omitempty" json:"agentType,omitempty"`
	Files             []string        `yaml:"files,omitempty" json:"files,omitempty"`
	CompletionSummary *report.Result  `yaml:"completionSummary,omitempty" json:"completionSummary,omitempty"`
	Note              string          `yaml:"note,omitempty" json:"note,omitempty"`
	Archived          bool            `yaml:"archived,omitempty" json:"archived,omitempty"`
	CreatedAt         time.Time       `yaml:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time       `yaml:"updatedAt" json:"updatedAt"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.Files = slices.Clone(t.Files)
	if t.CompletionSummary != nil {
		r := *t.CompletionSummary
		r.Files = slices.Clone(t.CompletionSummary.Files)
		r.URLs = slices.Clone(t.CompletionSummary.URLs)
		c.CompletionSummary = &r
	}
	return &c
}

// Validate checks user-supplied fields.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	if !slices.Contains(BoardStatuses, t.Status) {
		return fmt.Errorf("invalid board status %q", t.Status)
	}
	if err := t.Priority.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate reports whether p is one of P0-P3.
func (p Priority) Validate() error {
	switch p {
	case P0, P1, P2, P3:
		return nil
	}
	return fmt.Errorf("invalid priority %q (want P0-P3)", p)
}

// ParseBoardStatus validates a board column name.
func ParseBoardStatus(s string) (BoardStatus, error) {
	b := BoardStatus(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(BoardStatuses, b) {
		return "", fmt.Errorf("invalid board status %q (want one of backlog, today, tomorrow, done)", s)
	}
	return b, nil
}

// ParsePriority validates a priority string, accepting lowercase.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Plan is the agent-proposed approach for a task.
type Plan struct {
	TaskID   string       `yaml:"taskId" json:"taskId"`
	Content  string       `yaml:"-" json:"content"`
	Metadata PlanMetadata `yaml:"metadata" json:"metadata"`
}

// PlanMetadata describes who produced a plan and whether it is approved.
type PlanMetadata struct {
	AgentType string     `yaml:"agentType,omitempty" json:"agentType,omitempty"`
	SessionID string     `yaml:"sessionId,omitempty" json:"sessionId,omitempty"`
	CreatedAt time.Time  `yaml:"createdAt" json:"createdAt"`
	Status    PlanStatus `yaml:"status" json:"status"`
}

// Approved reports whether the plan has been approved.
func (p *Plan) Approved() bool {
	return p != nil && p.Metadata.Status == PlanApproved
}

// Store reads and writes tasks and plans.
type Store interface {
	ListTasks() ([]*Task, error)
	GetTask(id string) (*Task, error)
	SaveTask(t *Task) error
	GetPlan(taskID string) (*Plan, error)
	SavePlan(p *Plan) error
	DeletePlan(taskID string) error
}

// SortTasks orders tasks by board column, priority, then creation time.
func SortTasks(tasks []*Task) {
	col := func(s BoardStatus) int { return slices.Index(BoardStatuses, s) }
	slices.SortStableFunc(tasks, func(a, b *Task) int {
		if c := col(a.Status) - col(b.Status); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Priority), string(b.Priority)); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
