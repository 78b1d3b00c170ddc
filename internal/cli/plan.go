package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/tui"
)

var (
	planRegenerate bool
	planTUI        bool
)

var planCmd = &cobra.Command{
	Use:   "plan <task-id>",
	Short: "Ask an agent to plan a plan-first task",
	Long: `Spawns a planning session for a plan-first task and follows it until the
plan is ready. Use --regenerate to discard a ready plan and plan again.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var planApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a ready plan so the task can run",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanApprove,
}

var planShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Print a task's plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

func init() {
	planCmd.Flags().BoolVar(&planRegenerate, "regenerate", false, "Discard the ready plan and plan again")
	planCmd.Flags().BoolVar(&planTUI, "tui", false, "Follow the session in a full-screen monitor")
	planCmd.AddCommand(planApproveCmd, planShowCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := getTask(a, args[0])
	if err != nil {
		return err
	}
	if err := checkProfileBinary(a, t); err != nil {
		return err
	}

	lock, err := acquireRunLock(a.cfg.DataDir, t.ID)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signalContext()
	defer stop()

	var sess *session.Session
	if planRegenerate {
		sess, err = a.orch.RegeneratePlan(ctx, t.ID)
	} else {
		sess, err = a.orch.RequestPlanning(ctx, t.ID)
	}
	if err != nil {
		return wrapNotFound(err, t.ID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tui.TitleStyle.Render(fmt.Sprintf("Planning %s: %s", t.ID, t.Title)))

	final, err := follow(ctx, a.orch, out, sess.ID, t.Title, planTUI)
	if err != nil {
		return err
	}
	return reportOutcome(out, a, final)
}

func runPlanApprove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.orch.ApprovePlan(args[0]); err != nil {
		return wrapNotFound(err, args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved plan for %s. Run it with 'taskpilot run %s'\n", args[0], args[0])
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := getTask(a, args[0]); err != nil {
		return err
	}
	p, err := a.orch.GetPlan(args[0])
	if errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("task %s has no plan", args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	meta := p.Metadata
	fmt.Fprintf(out, "Plan for %s (%s, %s)\n\n", p.TaskID, meta.Status, humanize.Time(meta.CreatedAt))
	fmt.Fprintln(out, strings.TrimSpace(p.Content))
	return nil
}
