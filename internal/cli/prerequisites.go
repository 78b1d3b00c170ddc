package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pablasso/taskpilot/internal/config"
)

// PrerequisiteError represents a failed prerequisite check with helpful remediation info.
type PrerequisiteError struct {
	Check   string
	Message string
	Help    string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s: %s\n\n%s", e.Check, e.Message, e.Help)
}

// checkAgentBinary verifies the agent CLI a profile launches is installed.
func checkAgentBinary(binary string) error {
	if binary == "" {
		binary = config.DefaultAgentBinary
	}
	if _, err := exec.LookPath(binary); err != nil {
		help := "Install Claude Code: https://claude.ai/code"
		if binary != config.DefaultAgentBinary {
			help = "Check agent.binary or the profile's binary in config.toml."
		}
		return &PrerequisiteError{
			Check:   "Agent CLI",
			Message: fmt.Sprintf("%s not found", binary),
			Help:    help,
		}
	}
	return nil
}

// resolveDataDir returns the data directory selected by --data-dir, or the
// default under the working directory.
func resolveDataDir() (string, error) {
	dir := dataDirFlag
	if dir == "" {
		dir = config.DefaultDataDir
	}
	return filepath.Abs(dir)
}

// isInitialized checks if taskpilot is initialized in dir.
func isInitialized(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// requireInitialized returns an error if taskpilot is not initialized in dir.
func requireInitialized(dir string) error {
	if !isInitialized(dir) {
		return fmt.Errorf("taskpilot is not initialized in %s. Run 'taskpilot init' first", filepath.Dir(dir))
	}
	return nil
}
