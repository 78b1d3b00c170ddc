// Package tui renders a live monitor for one agent session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pablasso/taskpilot/internal/session"
	"github.com/pablasso/taskpilot/internal/util"
)

// PollInterval is how often the monitor re-reads session state.
const PollInterval = 250 * time.Millisecond

const maxThoughtLines = 2000

// Source is the read side polled by the monitor.
type Source interface {
	Session(id string) (*session.Session, error)
	ThoughtsAfter(id string, cursor int) ([]session.Thought, int, error)
}

// KillFunc terminates the monitored session.
type KillFunc func(ctx context.Context) error

type pollMsg struct {
	sess     *session.Session
	thoughts []session.Thought
	next     int
	err      error
}

type tickMsg struct{}

type killedMsg struct{ err error }

// MonitorModel follows one session until it finishes.
type MonitorModel struct {
	src       Source
	sessionID string
	title     string
	kill      KillFunc

	sess    *session.Session
	cursor  int
	lines   []string
	killing bool
	done    bool
	err     error

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int
}

// NewMonitor creates a monitor for sessionID. title labels the header.
func NewMonitor(src Source, sessionID, title string, kill KillFunc) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = TitleStyle

	return MonitorModel{
		src:       src,
		sessionID: sessionID,
		title:     title,
		kill:      kill,
		spinner:   s,
		viewport:  viewport.New(80, 20),
	}
}

// RunMonitor runs the monitor full screen and returns the last session
// snapshot it saw.
func RunMonitor(ctx context.Context, src Source, sessionID, title string, kill KillFunc) (*session.Session, error) {
	p := tea.NewProgram(
		NewMonitor(src, sessionID, title, kill),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(MonitorModel)
	return m.sess, m.err
}

// Session returns the latest snapshot.
func (m MonitorModel) Session() *session.Session { return m.sess }

// Done reports whether the session has finished.
func (m MonitorModel) Done() bool { return m.done }

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m MonitorModel) poll() tea.Cmd {
	src, id, cursor := m.src, m.sessionID, m.cursor
	return func() tea.Msg {
		thoughts, next, err := src.ThoughtsAfter(id, cursor)
		if err != nil {
			return pollMsg{err: err}
		}
		sess, err := src.Session(id)
		return pollMsg{sess: sess, thoughts: thoughts, next: next, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case pollMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, nil
		}
		m.sess = msg.sess
		m.cursor = msg.next
		m.appendThoughts(msg.thoughts)
		if m.sess != nil && m.sess.Status.IsTerminal() {
			m.done = true
			return m, nil
		}
		return m, tick()

	case tickMsg:
		return m, m.poll()

	case killedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, m.poll()

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m MonitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.done {
			return m, tea.Quit
		}
		if m.killing || m.kill == nil {
			return m, nil
		}
		m.killing = true
		kill := m.kill
		return m, func() tea.Msg {
			return killedMsg{err: kill(context.Background())}
		}
	case "enter":
		if m.done {
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *MonitorModel) resize() {
	// title, stats, border top/bottom, status bar
	h := m.height - 5
	if h < 3 {
		h = 3
	}
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.ready = true
	m.refresh()
}

func (m *MonitorModel) appendThoughts(thoughts []session.Thought) {
	if len(thoughts) == 0 {
		return
	}
	for _, t := range thoughts {
		m.lines = append(m.lines, FormatThought(t))
	}
	if len(m.lines) > maxThoughtLines {
		m.lines = m.lines[len(m.lines)-maxThoughtLines:]
	}
	m.refresh()
}

func (m *MonitorModel) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.lines, "\n")))
	if atBottom || !m.ready {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(fmt.Sprintf("Session %s", util.ShortSessionID(m.sessionID))))
	if m.title != "" {
		b.WriteString(SubtleStyle.Render(" · " + m.title))
	}
	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n")
	b.WriteString(BoxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(StatusBarStyle.Render(strings.Join(m.statusItems(), " • ")))
	return b.String()
}

func (m MonitorModel) renderStats() string {
	if m.sess == nil {
		return m.spinner.View() + " starting"
	}
	s := m.sess

	var state string
	switch {
	case s.Status == session.StatusComplete:
		state = SuccessStyle.Render("complete")
	case s.Status.IsTerminal():
		state = ErrorStyle.Render(string(s.Status))
	case m.killing:
		state = WarnStyle.Render("killing")
	default:
		state = m.spinner.View() + " " + RenderHealth(s.Health)
	}

	parts := []string{
		state,
		string(s.Kind),
		fmt.Sprintf("step %d", s.CurrentStep),
		humanize.Comma(int64(s.TokensUsed)) + " tokens",
		fmt.Sprintf("$%.4f", s.EstimatedCost),
		FormatDuration(s.Duration(time.Now())),
	}
	if s.Model != "" {
		parts = append(parts, s.Model)
	}
	line := strings.Join(parts, SubtleStyle.Render(" | "))
	if m.done && s.Note != "" {
		line += "\n" + ErrorStyle.Render(s.Note)
	}
	return line
}

func (m MonitorModel) statusItems() []string {
	switch {
	case m.err != nil:
		return []string{ErrorStyle.Render(m.err.Error()), "q Quit"}
	case m.done:
		return []string{"Finished", "q Quit"}
	case m.killing:
		return []string{"Stopping..."}
	default:
		return []string{"↑↓ Scroll", "q Kill session"}
	}
}

// RenderHealth colors a health value.
func RenderHealth(h session.Health) string {
	switch h {
	case session.HealthSlow:
		return WarnStyle.Render(string(h))
	case session.HealthStale:
		return ErrorStyle.Render(string(h))
	default:
		return SuccessStyle.Render(string(h))
	}
}

// FormatThought renders one thought as a single display line.
func FormatThought(t session.Thought) string {
	switch t.Type {
	case session.ThoughtThinking:
		return SubtleStyle.Render("thinking: " + t.Content)
	case session.ThoughtTool:
		entry := ToolStyle.Render("▸ " + t.Tool)
		if t.Content != "" {
			entry += " " + shortenPath(t.Content, 60)
		}
		return entry
	case session.ThoughtToolResult:
		first, _, _ := strings.Cut(t.Content, "\n")
		return SubtleStyle.Render("  ↳ " + truncate(first, 100))
	default:
		if t.Source == "stderr" {
			return ErrorStyle.Render("stderr: " + t.Content)
		}
		return t.Content
	}
}

// FormatDuration formats a duration as MM:SS or HH:MM:SS.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, mins, s)
	}
	return fmt.Sprintf("%02d:%02d", mins, s)
}

// shortenPath keeps the last two path elements of long targets.
func shortenPath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	parts := strings.Split(path, "/")
	if len(parts) >= 2 {
		shortened := ".../" + strings.Join(parts[len(parts)-2:], "/")
		if len(shortened) <= maxLen {
			return shortened
		}
	}
	return truncate(path, maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
