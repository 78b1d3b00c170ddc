package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pablasso/taskpilot/internal/task"
)

// planningPrompt asks the agent for a plan only. The output footer is added
// by the supervisor.
func planningPrompt(t *task.Task) string {
	var sb strings.Builder

	sb.WriteString("You are planning a task. Do not perform the task yet.\n\n")
	writeTask(&sb, t)

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Investigate whatever you need to understand the task\n")
	sb.WriteString("2. Write a step-by-step plan a reviewer can approve or reject\n")
	sb.WriteString("3. Call out risks, open questions and anything that needs a decision\n")
	sb.WriteString("4. Do not create or modify files\n\n")

	sb.WriteString("Print the full plan as markdown before the final output block. ")
	sb.WriteString("Everything before the block is saved as the plan.\n")

	return sb.String()
}

// executionPrompt asks the agent to perform the task, following plan when one
// was approved.
func executionPrompt(t *task.Task, plan *task.Plan) string {
	var sb strings.Builder

	sb.WriteString("You are executing a task autonomously.\n\n")
	writeTask(&sb, t)

	if plan.Approved() && strings.TrimSpace(plan.Content) != "" {
		sb.WriteString("## Approved Plan\n")
		sb.WriteString("Follow this plan. It was reviewed and approved.\n\n")
		sb.WriteString(strings.TrimSpace(plan.Content))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Instructions\n")
	sb.WriteString("1. Complete the task as described\n")
	if t.OutputFolder != "" {
		sb.WriteString(fmt.Sprintf("2. Write your deliverables to %s", t.OutputFolder))
		if t.ExpectedOutput != "" {
			sb.WriteString(fmt.Sprintf(" (expected: %s)", t.ExpectedOutput))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("2. Keep deliverables inside the working directory\n")
	}
	sb.WriteString("3. List every file you created using absolute paths\n")

	return sb.String()
}

func writeTask(sb *strings.Builder, t *task.Task) {
	sb.WriteString("## Task\n")
	sb.WriteString(fmt.Sprintf("**ID**: %s\n", t.ID))
	sb.WriteString(fmt.Sprintf("**Title**: %s\n", t.Title))
	sb.WriteString(fmt.Sprintf("**Priority**: %s\n", t.Priority))
	if d := strings.TrimSpace(t.Description); d != "" {
		sb.WriteString("\n")
		sb.WriteString(d)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
