package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pablasso/taskpilot/internal/report"
	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/tui"
	"github.com/pablasso/taskpilot/internal/util"
)

func getTask(a *app, id string) (*task.Task, error) {
	t, err := a.orch.GetTask(id)
	if err != nil {
		return nil, wrapNotFound(err, id)
	}
	return t, nil
}

// wrapNotFound turns a store miss into a message naming the task.
func wrapNotFound(err error, id string) error {
	if errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("task %s not found", id)
	}
	return err
}

func truncate(s string, maxLen int) string {
	if len([]rune(s)) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}

func writeResult(out io.Writer, r *report.Result) {
	fmt.Fprintf(out, "  Status: %s\n", r.Status)
	if r.Result != "" {
		fmt.Fprintf(out, "  %s\n", strings.ReplaceAll(strings.TrimSpace(r.Result), "\n", "\n  "))
	}
	for _, f := range r.Files {
		fmt.Fprintf(out, "  file: %s\n", f)
	}
	for _, u := range r.URLs {
		fmt.Fprintf(out, "  url:  %s\n", u)
	}
	if r.Notes != "" {
		fmt.Fprintf(out, "  Notes: %s\n", r.Notes)
	}
	if r.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", r.Error)
	}
	if r.TokensUsed > 0 {
		fmt.Fprintf(out, "  Tokens: %s\n", humanize.Comma(int64(r.TokensUsed)))
	}
}

// writeSessionSummary prints the one-line outcome of a finished session.
func writeSessionSummary(out io.Writer, s *session.Session) {
	style := tui.SuccessStyle
	switch s.Status {
	case session.StatusError:
		style = tui.ErrorStyle
	case session.StatusKilled:
		style = tui.WarnStyle
	}
	line := fmt.Sprintf("Session %s %s in %s", util.ShortSessionID(s.ID), s.Status, tui.FormatDuration(s.Duration(time.Now())))
	if s.TokensUsed > 0 {
		line += fmt.Sprintf(" (%s tokens, $%.2f)", humanize.Comma(int64(s.TokensUsed)), s.EstimatedCost)
	}
	fmt.Fprintln(out, style.Render(line))
	if s.Note != "" {
		fmt.Fprintln(out, tui.SubtleStyle.Render("  "+s.Note))
	}
}
