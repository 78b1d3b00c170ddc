package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

const starterConfig = `# taskpilot project configuration.
# Settings here override ~/.config/taskpilot/config.toml and are overridden by
# TASKPILOT_* environment variables.

[agent]
binary = "claude"
default_profile = "default"
timeout_sec = 1800

[health]
slow_after_sec = 30
stale_after_sec = 120

[events]
journal = true
# nats_url = "nats://127.0.0.1:4222"
# nats_subject = "taskpilot.events"

[profiles.default]
model = "sonnet"
# allowed_tools = ["Read", "Write", "Edit", "Bash"]
# skip_permissions = false
`

// generatedDirs are the per-machine parts of the data directory.
var generatedDirs = []string{"locks", "logs", "sessions"}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize taskpilot in the current directory",
	Long:  "Creates a .taskpilot/ folder to store tasks, plans and session history.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := resolveDataDir()
	if err != nil {
		return err
	}
	if isInitialized(dir) {
		return fmt.Errorf("taskpilot is already initialized in %s", filepath.Dir(dir))
	}

	dirs := []string{dir, filepath.Join(dir, "tasks"), filepath.Join(dir, "plans")}
	for _, d := range generatedDirs {
		dirs = append(dirs, filepath.Join(dir, d))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := addToGitignore(filepath.Dir(dir), gitignoreEntries(dir)); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}

	fmt.Println("Initialized taskpilot in", dir)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add a task: taskpilot task add \"Summarize open issues\" --plan-first")
	fmt.Println("  2. Ask for a plan: taskpilot plan <task-id>")
	fmt.Println("  3. Approve and run: taskpilot plan approve <task-id> && taskpilot run <task-id>")
	return nil
}

// gitignoreEntries lists the generated paths under dir, relative to its parent.
func gitignoreEntries(dir string) []string {
	base := filepath.Base(dir)
	entries := make([]string, 0, len(generatedDirs)+1)
	for _, d := range generatedDirs {
		entries = append(entries, base+"/"+d+"/")
	}
	return append(entries, base+"/events.jsonl")
}

// addToGitignore appends missing entries to root/.gitignore.
func addToGitignore(root string, entries []string) error {
	path := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	lines := strings.Split(string(existing), "\n")
	var missing []string
	for _, e := range entries {
		if !slices.Contains(lines, e) {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	return os.WriteFile(path, []byte(content), 0644)
}

// removeFromGitignore drops entries from root/.gitignore, deleting the file
// when nothing else remains.
func removeFromGitignore(root string, entries []string) error {
	path := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(existing), "\n"), "\n") {
		if !slices.Contains(entries, line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 || (len(kept) == 1 && kept[0] == "") {
		return os.Remove(path)
	}
	return os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0644)
}
