package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/task"
	"github.com/pablasso/taskpilot/internal/tui"
)

// sessionSource is what following a session needs from the orchestrator.
type sessionSource interface {
	tui.Source
	WaitSession(ctx context.Context, sessionID string) error
	KillSession(ctx context.Context, sessionID string) error
}

// signalContext is cancelled on SIGINT or SIGTERM, which `taskpilot kill`
// sends to the process holding a task's run lock.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// acquireRunLock takes the cross-process lock for taskID.
func acquireRunLock(dataDir, taskID string) (*task.RunLock, error) {
	lock := task.NewRunLock(dataDir, taskID)
	if err := lock.Acquire(); err != nil {
		var locked *task.LockedError
		if errors.As(err, &locked) {
			return nil, fmt.Errorf("%w. Use 'taskpilot kill %s' to stop it", err, taskID)
		}
		return nil, err
	}
	return lock, nil
}

// follow blocks until the session's outcome has been applied to its task.
// Cancelling ctx kills the session.
func follow(ctx context.Context, src sessionSource, out io.Writer, sessionID, title string, useTUI bool) (*session.Session, error) {
	if useTUI {
		kill := func(kctx context.Context) error { return src.KillSession(kctx, sessionID) }
		if _, err := tui.RunMonitor(ctx, src, sessionID, title, kill); err != nil && ctx.Err() == nil {
			return nil, err
		}
		if ctx.Err() != nil {
			if err := src.KillSession(context.Background(), sessionID); err != nil {
				return nil, err
			}
		}
		if err := src.WaitSession(context.Background(), sessionID); err != nil {
			return nil, err
		}
		return src.Session(sessionID)
	}
	return stream(ctx, src, out, sessionID)
}

// stream prints thoughts as they arrive.
func stream(ctx context.Context, src sessionSource, out io.Writer, sessionID string) (*session.Session, error) {
	settled := make(chan error, 1)
	go func() { settled <- src.WaitSession(context.Background(), sessionID) }()

	ticker := time.NewTicker(tui.PollInterval)
	defer ticker.Stop()

	cursor := 0
	drain := func() error {
		thoughts, next, err := src.ThoughtsAfter(sessionID, cursor)
		if err != nil {
			return err
		}
		cursor = next
		for _, t := range thoughts {
			fmt.Fprintln(out, tui.FormatThought(t))
		}
		return nil
	}

	interrupt := ctx.Done()
	for {
		select {
		case err := <-settled:
			if err != nil {
				return nil, err
			}
			if err := drain(); err != nil {
				return nil, err
			}
			return src.Session(sessionID)
		case <-interrupt:
			interrupt = nil
			fmt.Fprintln(out, tui.WarnStyle.Render("Interrupted, killing session..."))
			if err := src.KillSession(context.Background(), sessionID); err != nil {
				return nil, err
			}
		case <-ticker.C:
			if err := drain(); err != nil {
				return nil, err
			}
		}
	}
}
