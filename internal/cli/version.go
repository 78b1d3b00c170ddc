package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pablasso/taskpilot/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskpilot %s\n", version.String())
	},
}
