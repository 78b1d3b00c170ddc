package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/task"
)

// killWait bounds how long kill waits for the session's process to record
// the outcome and release the task.
const killWait = 15 * time.Second

var killCmd = &cobra.Command{
	Use:   "kill <task-id>",
	Short: "Kill the session running for a task",
	Long: `Signals the taskpilot process that holds the task's run lock. That process
kills its agent, records the session as killed and moves the task to error.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

func runKill(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := getTask(a, args[0])
	if err != nil {
		return err
	}

	lock := task.NewRunLock(a.cfg.DataDir, t.ID)
	pid, err := lock.Holder()
	if err != nil {
		return err
	}
	if pid == 0 {
		return fmt.Errorf("no session is running for task %s", t.ID)
	}
	if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(killWait)
	for time.Now().Before(deadline) {
		held, err := lock.Holder()
		if err != nil {
			return err
		}
		if held == 0 {
			after, err := getTask(a, t.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Killed session for %s (now %s)\n", after.ID, after.ExecutionStatus)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not stop within %s", pid, killWait)
}
