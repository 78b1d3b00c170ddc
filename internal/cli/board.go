package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/tui"
)

const boardColumnWidth = 30

var boardWatch bool

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show tasks by board column",
	Long:  `Renders the board. With --watch it redraws whenever a task or plan file changes.`,
	Args:  cobra.NoArgs,
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().BoolVarP(&boardWatch, "watch", "w", false, "Redraw when tasks change")
}

func runBoard(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	draw := func() error {
		tasks, err := a.orch.ListTasks()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderBoard(tasks))
		return nil
	}
	if err := draw(); err != nil {
		return err
	}
	if !boardWatch {
		return nil
	}

	ctx, stop := signalContext()
	defer stop()
	return a.store.Watch(ctx, func(c task.Change) {
		a.logger.Debug("task store changed", "task", c.TaskID, "plan", c.Plan)
		fmt.Fprint(out, "\033[H\033[2J")
		if err := draw(); err != nil {
			a.logger.Warn("redraw board", "err", err)
		}
	})
}

// renderBoard lays the columns out side by side. Tasks arrive in board order.
func renderBoard(tasks []*task.Task) string {
	byColumn := make(map[task.BoardStatus][]*task.Task)
	for _, t := range tasks {
		byColumn[t.Status] = append(byColumn[t.Status], t)
	}

	columns := make([]string, 0, len(task.BoardStatuses))
	for _, status := range task.BoardStatuses {
		columns = append(columns, renderColumn(status, byColumn[status]))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, columns...)
}

func renderColumn(status task.BoardStatus, tasks []*task.Task) string {
	var b strings.Builder
	b.WriteString(tui.TitleStyle.Render(fmt.Sprintf("%s (%d)", strings.ToUpper(string(status)), len(tasks))))
	for _, t := range tasks {
		b.WriteString("\n")
		writeCard(&b, t)
	}
	return tui.BoxStyle.Width(boardColumnWidth).Render(b.String())
}

func writeCard(w io.Writer, t *task.Task) {
	fmt.Fprintf(w, "%s %s\n", t.Priority, truncate(t.Title, boardColumnWidth-6))

	state := string(t.ExecutionStatus)
	if t.PlanFirst {
		state += " · plan-first"
	}
	style := tui.SubtleStyle
	switch t.ExecutionStatus {
	case task.StatusError:
		style = tui.ErrorStyle
	case task.StatusComplete:
		style = tui.SuccessStyle
	case task.StatusPlanning, task.StatusExecuting:
		style = tui.WarnStyle
	}
	fmt.Fprint(w, style.Render(t.ID+" "+state))
}
