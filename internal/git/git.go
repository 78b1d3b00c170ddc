// Package git snapshots the working tree around an agent session so the CLI
// can show which files the agent touched.
package git

import (
	"errors"
	"os/exec"
	"slices"
	"strings"
)

// ErrNotRepository is returned when dir is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Status represents the git workspace status.
type Status struct {
	Clean bool
	Files []string
}

// GetStatus returns the git workspace status for the given directory.
// If dir is empty, uses the current working directory.
func GetStatus(dir string) (*Status, error) {
	cmd := exec.Command("git", "status", "--porcelain", "--untracked-files=all")
	if dir != "" {
		cmd.Dir = dir
	}

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "not a git repository") {
			return nil, ErrNotRepository
		}
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// XY<space>path; renames are "old -> new".
		if len(line) > 3 {
			path := line[3:]
			if _, after, ok := strings.Cut(path, " -> "); ok {
				path = after
			}
			files = append(files, path)
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}

	return &Status{
		Clean: len(files) == 0,
		Files: files,
	}, nil
}

// Changed lists files dirty in after but not in before. A file that was
// already dirty before the session is not reported again.
func Changed(before, after *Status) []string {
	if after == nil {
		return nil
	}
	var changed []string
	for _, f := range after.Files {
		if before == nil || !slices.Contains(before.Files, f) {
			changed = append(changed, f)
		}
	}
	return changed
}
