package report

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ExpandHome replaces a leading "~" with the user's home directory.
// "~user" forms are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Verify returns a copy of r whose file list only contains paths that exist.
// Unverifiable claims are dropped with a warning; Status is never changed.
func Verify(r Result, logger *log.Logger) Result {
	if logger == nil {
		logger = log.Default()
	}

	out := r
	out.URLs = slices.Clone(r.URLs)
	out.Files = make([]string, 0, len(r.Files))

	for _, claim := range r.Files {
		path, err := ExpandHome(claim)
		if err != nil {
			logger.Warn("cannot expand file claim", "path", claim, "err", err)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Warn("dropping unverified file claim", "path", claim)
			continue
		}
		out.Files = append(out.Files, path)
	}
	return out
}

// OutputExists reports whether a task's configured output was written at or
// after since. With an expected name it checks folder/expected (or expected
// itself when absolute); without one it requires an entry in folder modified
// since then. Times are compared at one-second resolution.
func OutputExists(folder, expected string, since time.Time) bool {
	if folder == "" && expected == "" {
		return false
	}

	base, err := ExpandHome(folder)
	if err != nil {
		return false
	}
	since = since.Truncate(time.Second)

	if expected != "" {
		target, err := ExpandHome(expected)
		if err != nil {
			return false
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, target)
		}
		info, err := os.Stat(target)
		return err == nil && !info.ModTime().Before(since)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return false
	}
	for _, e := range entries {
		info, err := e.Info()
		if err == nil && !info.ModTime().Before(since) {
			return true
		}
	}
	return false
}
