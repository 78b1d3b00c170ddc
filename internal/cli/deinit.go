package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	deinitForce bool
)

var deinitCmd = &cobra.Command{
	Use:   "deinit",
	Short: "Remove taskpilot from the current directory",
	Long:  "Removes the .taskpilot/ folder with all tasks, plans and history. This action cannot be undone.",
	RunE:  runDeinit,
}

func init() {
	deinitCmd.Flags().BoolVarP(&deinitForce, "force", "f", false, "Skip confirmation prompt")
}

func runDeinit(cmd *cobra.Command, args []string) error {
	dir, err := resolveDataDir()
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("taskpilot is not initialized in %s", filepath.Dir(dir))
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dir)
	}

	taskCount, totalSize, err := calculateDirStats(dir)
	if err != nil {
		return fmt.Errorf("failed to analyze %s: %w", dir, err)
	}

	if !deinitForce {
		fmt.Printf("This will delete %s (%d tasks, %s). Continue? [y/N] ", dir, taskCount, humanize.Bytes(uint64(totalSize)))

		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	if err := removeFromGitignore(filepath.Dir(dir), gitignoreEntries(dir)); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}

	fmt.Println("taskpilot has been removed from this directory.")
	return nil
}

func calculateDirStats(dir string) (taskCount int, totalSize int64, err error) {
	entries, readErr := os.ReadDir(filepath.Join(dir, "tasks"))
	if readErr == nil {
		taskCount = len(entries)
	}

	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	return
}
