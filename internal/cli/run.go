package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/git"
	"github.com/pablasso/taskpilot/internal/orchestrator"
	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/tui"
	"github.com/pablasso/taskpilot/internal/util"
)

var runTUI bool

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Execute a task with an agent",
	Long: `Spawns an agent session that executes the task and follows it until it
finishes. Plan-first tasks need an approved plan. Press Ctrl+C to kill the
session.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Follow the session in a full-screen monitor")
}

func runRun(cmd *cobra.Command, args []string) error {
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

	before, gitErr := git.GetStatus(a.cfg.WorkDir)
	if gitErr != nil {
		a.logger.Debug("workspace changes not tracked", "dir", a.cfg.WorkDir, "err", gitErr)
	}

	sess, err := a.orch.RequestExecution(ctx, t.ID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrGateViolation) {
			return fmt.Errorf("%w. Run 'taskpilot plan %s' and approve it first", err, t.ID)
		}
		return wrapNotFound(err, t.ID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tui.TitleStyle.Render(fmt.Sprintf("Executing %s: %s", t.ID, t.Title)))

	final, err := follow(ctx, a.orch, out, sess.ID, t.Title, runTUI)
	if err != nil {
		return err
	}
	err = reportOutcome(out, a, final)
	if gitErr == nil {
		writeWorkspaceChanges(out, a, before)
	}
	return err
}

// writeWorkspaceChanges lists files the session left dirty in the work tree.
func writeWorkspaceChanges(out io.Writer, a *app, before *git.Status) {
	after, err := git.GetStatus(a.cfg.WorkDir)
	if err != nil {
		a.logger.Warn("read workspace status", "err", err)
		return
	}
	changed := git.Changed(before, after)
	if len(changed) == 0 {
		return
	}
	fmt.Fprintln(out, "\nWorkspace changes")
	for _, f := range changed {
		fmt.Fprintf(out, "  %s\n", f)
	}
}

// checkProfileBinary verifies the agent CLI for the task's profile exists.
func checkProfileBinary(a *app, t *task.Task) error {
	profile, err := a.cfg.Profile(t.AgentType)
	if err != nil {
		return err
	}
	return checkAgentBinary(profile.Binary)
}

// reportOutcome prints the session summary and the task's resulting state.
func reportOutcome(out io.Writer, a *app, s *session.Session) error {
	fmt.Fprintln(out)
	writeSessionSummary(out, s)

	t, err := a.orch.GetTask(s.TaskID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Task %s is now %s (%s)\n", t.ID, t.ExecutionStatus, t.Status)

	switch {
	case s.Kind == session.KindExecuting && t.CompletionSummary != nil:
		writeResult(out, t.CompletionSummary)
	case s.Kind == session.KindPlanning && t.ExecutionStatus == task.StatusPlanReady:
		fmt.Fprintf(out, "Review with 'taskpilot plan show %s', then 'taskpilot plan approve %s'\n", t.ID, t.ID)
	}
	if s.Status == session.StatusError {
		return fmt.Errorf("session %s failed", util.ShortSessionID(s.ID))
	}
	return nil
}
