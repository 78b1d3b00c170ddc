package report

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestVerify_DropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "out.md")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	in := Result{
		Status: StatusError,
		Files:  []string{existing, filepath.Join(dir, "missing.md")},
		URLs:   []string{"https://example.com"},
	}

	out := Verify(in, quietLogger())

	assert.Equal(t, []string{existing}, out.Files)
	assert.Equal(t, StatusError, out.Status, "status must not change")
	assert.Len(t, in.Files, 2, "input must not be modified")
	assert.Equal(t, in.URLs, out.URLs)
}

func TestVerify_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "notes.txt"), []byte("x"), 0644))

	out := Verify(Result{Status: StatusComplete, Files: []string{"~/notes.txt", "~/nope.txt"}}, quietLogger())

	assert.Equal(t, []string{filepath.Join(home, "notes.txt")}, out.Files)
	assert.Equal(t, StatusComplete, out.Status)
}

func TestVerify_NilLogger(t *testing.T) {
	out := Verify(Result{Files: []string{"/definitely/not/here"}}, nil)
	assert.Empty(t, out.Files)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/a/b", filepath.Join(home, "a", "b")},
		{"/abs/path", "/abs/path"},
		{"~other/x", "~other/x"},
		{"rel/path", "rel/path"},
	}
	for _, tt := range tests {
		got, err := ExpandHome(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestOutputExists(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.Mkdir(empty, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("x"), 0644))
	since := time.Now().Add(-time.Minute)

	assert.True(t, OutputExists(dir, "report.md", since))
	assert.True(t, OutputExists("", filepath.Join(dir, "report.md"), since))
	assert.False(t, OutputExists(dir, "other.md", since))
	assert.True(t, OutputExists(dir, "", since))
	assert.False(t, OutputExists(empty, "", since))
	assert.False(t, OutputExists(filepath.Join(dir, "nope"), "", since))
	assert.False(t, OutputExists("", "", since))
}

func TestOutputExists_IgnoresFilesFromEarlierRuns(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(old, []byte("previous attempt"), 0644))
	hourAgo := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, hourAgo, hourAgo))
	require.NoError(t, os.Chtimes(dir, hourAgo, hourAgo))

	since := time.Now()
	assert.False(t, OutputExists(dir, "report.md", since))
	assert.False(t, OutputExists(dir, "", since))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("new"), 0644))
	assert.True(t, OutputExists(dir, "", since))
	assert.False(t, OutputExists(dir, "report.md", since))
}
