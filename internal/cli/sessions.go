package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/tui"
	"github.com/pablasso/taskpilot/internal/util"
)

var sessionsTask string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded agent sessions",
	Long:  `Lists planning and executing sessions, newest first, with their outcome and usage.`,
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsTask, "task", "t", "", "Only show sessions for this task")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireInitialized(cfg.DataDir); err != nil {
		return err
	}

	sessions, err := session.NewStorage(cfg.SessionsDir()).List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessionsTask != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.TaskID == sessionsTask {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}
	return writeSessionTable(cmd.OutOrStdout(), sessions)
}

func writeSessionTable(out io.Writer, sessions []*session.Session) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tKIND\tSTATUS\tTOKENS\tCOST\tSTARTED\tDURATION")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t$%.2f\t%s\t%s\n",
			util.ShortSessionID(s.ID),
			s.TaskID,
			s.Kind,
			s.Status,
			humanize.Comma(int64(s.TokensUsed)),
			s.EstimatedCost,
			humanize.Time(s.StartedAt),
			tui.FormatDuration(s.Duration(time.Now())),
		)
	}
	return w.Flush()
}
