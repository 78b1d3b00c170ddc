package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/taskpilot/internal/session"
)

type fakeSource struct {
	mu       sync.Mutex
	sess     *session.Session
	thoughts []session.Thought
	err      error
}

func (f *fakeSource) Session(string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := *f.sess
	return &c, nil
}

func (f *fakeSource) ThoughtsAfter(_ string, cursor int) ([]session.Thought, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, cursor, f.err
	}
	if cursor >= len(f.thoughts) {
		return nil, len(f.thoughts), nil
	}
	return append([]session.Thought(nil), f.thoughts[cursor:]...), len(f.thoughts), nil
}

func newSource() *fakeSource {
	return &fakeSource{
		sess: &session.Session{
			ID:        "0123456789abcdef",
			Kind:      session.KindExecuting,
			Status:    session.StatusRunning,
			Health:    session.HealthHealthy,
			StartedAt: time.Now(),
			Model:     "sonnet",
		},
		thoughts: []session.Thought{
			{Seq: 1, Type: session.ThoughtText, Content: "Reading the repo"},
			{Seq: 2, Type: session.ThoughtTool, Tool: "Read", Content: "/tmp/main.go"},
		},
	}
}

// drive runs the command and feeds its message back into the model.
func drive(t *testing.T, m MonitorModel, cmd tea.Cmd) MonitorModel {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(MonitorModel)
}

func TestMonitor_PollsThoughts(t *testing.T) {
	src := newSource()
	m := NewMonitor(src, src.sess.ID, "Write docs", nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(MonitorModel)

	m = drive(t, m, m.poll())
	assert.False(t, m.Done())
	assert.Equal(t, 2, m.cursor)

	view := m.View()
	assert.Contains(t, view, "Session 01234567")
	assert.Contains(t, view, "Write docs")
	assert.Contains(t, view, "Reading the repo")
	assert.Contains(t, view, "Read")
	assert.Contains(t, view, "q Kill session")

	src.mu.Lock()
	src.thoughts = append(src.thoughts, session.Thought{Seq: 3, Type: session.ThoughtText, Content: "Done reading"})
	src.sess.Status = session.StatusComplete
	src.sess.TokensUsed = 12345
	src.mu.Unlock()

	m = drive(t, m, m.poll())
	assert.True(t, m.Done())
	assert.Equal(t, 3, m.cursor)
	assert.Len(t, m.lines, 3)
	view = m.View()
	assert.Contains(t, view, "Done reading")
	assert.Contains(t, view, "12,345 tokens")
	assert.Contains(t, view, "complete")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestMonitor_QuitKillsRunningSession(t *testing.T) {
	src := newSource()
	var killed int
	m := NewMonitor(src, src.sess.ID, "", func(context.Context) error {
		killed++
		return nil
	})
	m = drive(t, m, m.poll())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(MonitorModel)
	require.NotNil(t, cmd)
	assert.True(t, m.killing)
	assert.Contains(t, m.View(), "Stopping")

	msg := cmd()
	assert.Equal(t, 1, killed)

	// A second press while stopping does nothing.
	_, again := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, again)

	src.mu.Lock()
	src.sess.Status = session.StatusKilled
	src.sess.Note = "killed by user"
	src.mu.Unlock()

	next, cmd = m.Update(msg)
	m = next.(MonitorModel)
	m = drive(t, m, cmd)
	assert.True(t, m.Done())
	assert.Contains(t, m.View(), "killed by user")
	assert.Equal(t, session.StatusKilled, m.Session().Status)
}

func TestMonitor_SourceError(t *testing.T) {
	src := newSource()
	src.err = errors.New("session not found")
	m := NewMonitor(src, "missing", "", nil)

	m = drive(t, m, m.poll())
	assert.True(t, m.Done())
	assert.Contains(t, m.View(), "session not found")
}

func TestFormatThought(t *testing.T) {
	tests := []struct {
		name    string
		thought session.Thought
		want    string
	}{
		{"text", session.Thought{Type: session.ThoughtText, Content: "hello"}, "hello"},
		{"thinking", session.Thought{Type: session.ThoughtThinking, Content: "hmm"}, "thinking: hmm"},
		{"tool", session.Thought{Type: session.ThoughtTool, Tool: "Bash", Content: "go test"}, "▸ Bash go test"},
		{"tool result keeps first line", session.Thought{Type: session.ThoughtToolResult, Content: "ok\nmore"}, "↳ ok"},
		{"stderr", session.Thought{Type: session.ThoughtText, Content: "boom", Source: "stderr"}, "stderr: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatThought(tt.thought)
			assert.Contains(t, got, tt.want)
			assert.NotContains(t, got, "more")
		})
	}
}

func TestShortenPath(t *testing.T) {
	assert.Equal(t, "/a/b.go", shortenPath("/a/b.go", 20))
	long := "/very/long/path/to/some/deeply/nested/file.go"
	got := shortenPath(long, 20)
	assert.Equal(t, ".../nested/file.go", got)
	assert.LessOrEqual(t, len(shortenPath(strings.Repeat("x", 50), 20)), 20)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:05", FormatDuration(5*time.Second))
	assert.Equal(t, "02:03", FormatDuration(2*time.Minute+3*time.Second))
	assert.Equal(t, "01:00:00", FormatDuration(time.Hour))
}
