package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/tui"
)

var thoughtsCmd = &cobra.Command{
	Use:   "thoughts <session-id>",
	Short: "Print the thoughts a session recorded",
	Long:  `Prints a recorded session's thoughts in order. A unique ID prefix is enough.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runThoughts,
}

func runThoughts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireInitialized(cfg.DataDir); err != nil {
		return err
	}

	s, err := findSession(session.NewStorage(cfg.SessionsDir()), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	writeSessionSummary(out, s)
	fmt.Fprintln(out)
	for _, t := range s.Thoughts {
		fmt.Fprintln(out, tui.FormatThought(t))
	}
	if s.Result != nil {
		fmt.Fprintln(out, "\nResult")
		writeResult(out, s.Result)
	}
	return nil
}

// findSession loads a session by full ID or unique prefix.
func findSession(storage *session.Storage, id string) (*session.Session, error) {
	if s, err := storage.Load(id); err == nil {
		return s, nil
	}

	all, err := storage.List()
	if err != nil {
		return nil, err
	}
	var matches []*session.Session
	for _, s := range all {
		if strings.HasPrefix(s.ID, id) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session %s not found", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("session prefix %s is ambiguous (%d matches)", id, len(matches))
	}
}
