package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a temporary git repository and returns its path.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	tmpDir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = tmpDir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
	return tmpDir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	t.Run("empty repo is clean", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)

		status, err := GetStatus(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.Clean || len(status.Files) != 0 {
			t.Errorf("expected clean status, got %+v", status)
		}
	})

	t.Run("untracked files in new directories are listed individually", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)
		writeFile(t, dir, "out/report.md", "report")

		status, err := GetStatus(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Clean {
			t.Error("expected dirty status")
		}
		if len(status.Files) != 1 || status.Files[0] != "out/report.md" {
			t.Errorf("expected [out/report.md], got %v", status.Files)
		}
	})

	t.Run("modified tracked file is listed", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)
		writeFile(t, dir, "tracked.txt", "original")
		run(t, dir, "add", "tracked.txt")
		run(t, dir, "commit", "-m", "initial")
		writeFile(t, dir, "tracked.txt", "modified")

		status, err := GetStatus(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(status.Files) != 1 || status.Files[0] != "tracked.txt" {
			t.Errorf("expected [tracked.txt], got %v", status.Files)
		}
	})

	t.Run("renamed file reports the new path", func(t *testing.T) {
		t.Parallel()
		dir := setupTestRepo(t)
		writeFile(t, dir, "old.txt", "content")
		run(t, dir, "add", "old.txt")
		run(t, dir, "commit", "-m", "initial")
		run(t, dir, "mv", "old.txt", "new.txt")

		status, err := GetStatus(dir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(status.Files) != 1 || status.Files[0] != "new.txt" {
			t.Errorf("expected [new.txt], got %v", status.Files)
		}
	})

	t.Run("outside a repository", func(t *testing.T) {
		t.Parallel()
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not installed")
		}
		dir := t.TempDir()

		if _, err := GetStatus(dir); err != ErrNotRepository {
			t.Errorf("expected ErrNotRepository, got %v", err)
		}
	})
}

func TestChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		before, after *Status
		want          []string
	}{
		{"no after snapshot", &Status{}, nil, nil},
		{"no before snapshot", nil, &Status{Files: []string{"a"}}, []string{"a"}},
		{"only new dirt", &Status{Files: []string{"a"}}, &Status{Files: []string{"a", "b"}}, []string{"b"}},
		{"nothing new", &Status{Files: []string{"a"}}, &Status{Files: []string{"a"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Changed(tt.before, tt.after)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}
