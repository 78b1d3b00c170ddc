package cli

import (
	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/version"
)

var (
	dataDirFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Queue tasks for AI agents, review their plans and run them",
	Long: `Taskpilot keeps a board of natural-language tasks. An agent can draft a plan for
a task, you approve it, and then an agent runs the task and reports what it did.
One task, one agent session at a time.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: false,
	// With no subcommand, show the board.
	Args: cobra.NoArgs,
	RunE: runBoard,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default .taskpilot)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		initCmd,
		deinitCmd,
		taskCmd,
		planCmd,
		runCmd,
		killCmd,
		sessionsCmd,
		thoughtsCmd,
		boardCmd,
		versionCmd,
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
