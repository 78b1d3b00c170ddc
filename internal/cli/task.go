package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/orchestrator"
	"github.com/pablasso/taskpilot/internal/task"
)

var (
	taskAddDescription    string
	taskAddPriority       string
	taskAddStatus         string
	taskAddPlanFirst      bool
	taskAddOutputFolder   string
	taskAddExpectedOutput string
	taskAddAgent          string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the board",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Args:    cobra.NoArgs,
	RunE:    runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskMoveCmd = &cobra.Command{
	Use:   "move <task-id> <backlog|today|tomorrow|done>",
	Short: "Move a task to another board column",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskMove,
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive <task-id>",
	Short: "Archive a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskArchive,
}

func init() {
	f := taskAddCmd.Flags()
	f.StringVarP(&taskAddDescription, "description", "d", "", "Task description (markdown)")
	f.StringVarP(&taskAddPriority, "priority", "p", string(task.P2), "Priority: P0, P1, P2 or P3")
	f.StringVarP(&taskAddStatus, "status", "s", string(task.BoardBacklog), "Board column")
	f.BoolVar(&taskAddPlanFirst, "plan-first", false, "Require an approved plan before execution")
	f.StringVarP(&taskAddOutputFolder, "output", "o", "", "Folder the agent writes deliverables to")
	f.StringVar(&taskAddExpectedOutput, "expect", "", "File name expected in the output folder")
	f.StringVar(&taskAddAgent, "agent", "", "Agent profile (default from config)")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskMoveCmd, taskArchiveCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	priority, err := task.ParsePriority(taskAddPriority)
	if err != nil {
		return err
	}
	status, err := task.ParseBoardStatus(taskAddStatus)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if taskAddAgent != "" {
		if _, err := a.cfg.Profile(taskAddAgent); err != nil {
			return err
		}
	}

	t, err := a.orch.CreateTask(orchestrator.NewTask{
		Title:          strings.Join(args, " "),
		Description:    taskAddDescription,
		Status:         status,
		Priority:       priority,
		PlanFirst:      taskAddPlanFirst,
		OutputFolder:   taskAddOutputFolder,
		ExpectedOutput: taskAddExpectedOutput,
		AgentType:      taskAddAgent,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", t.ID, t.Title)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.orch.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
		return nil
	}
	return writeTaskTable(cmd.OutOrStdout(), tasks)
}

func writeTaskTable(out io.Writer, tasks []*task.Task) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOLUMN\tPRI\tSTATE\tTITLE\tUPDATED")
	for _, t := range tasks {
		state := string(t.ExecutionStatus)
		if t.PlanFirst {
			state += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Priority,
			state,
			truncate(t.Title, 50),
			humanize.Time(t.UpdatedAt),
		)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := getTask(a, args[0])
	if err != nil {
		return err
	}
	writeTaskDetail(cmd.OutOrStdout(), t)
	return nil
}

func writeTaskDetail(out io.Writer, t *task.Task) {
	fmt.Fprintf(out, "%s  %s\n", t.ID, t.Title)
	fmt.Fprintf(out, "Column:     %s\n", t.Status)
	fmt.Fprintf(out, "Priority:   %s\n", t.Priority)
	fmt.Fprintf(out, "State:      %s\n", t.ExecutionStatus)
	fmt.Fprintf(out, "Plan first: %t\n", t.PlanFirst)
	if t.AgentType != "" {
		fmt.Fprintf(out, "Agent:      %s\n", t.AgentType)
	}
	if t.OutputFolder != "" {
		fmt.Fprintf(out, "Output:     %s\n", strings.TrimSuffix(t.OutputFolder+"/"+t.ExpectedOutput, "/"))
	}
	if t.Note != "" {
		fmt.Fprintf(out, "Note:       %s\n", t.Note)
	}
	fmt.Fprintf(out, "Created:    %s\n", humanize.Time(t.CreatedAt))

	if d := strings.TrimSpace(t.Description); d != "" {
		fmt.Fprintf(out, "\n%s\n", d)
	}

	if r := t.CompletionSummary; r != nil {
		fmt.Fprintln(out, "\nResult")
		writeResult(out, r)
	}
}

func runTaskMove(cmd *cobra.Command, args []string) error {
	status, err := task.ParseBoardStatus(args[1])
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.orch.MoveTask(args[0], status)
	if err != nil {
		return wrapNotFound(err, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", t.ID, t.Status)
	return nil
}

func runTaskArchive(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.ArchiveTask(args[0]); err != nil {
		return wrapNotFound(err, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
	return nil
}
