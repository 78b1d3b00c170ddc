// Package testutil provides testing utilities for the taskpilot project.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pablasso/taskpilot/internal/agent"
)

// Script describes what a fake agent process does.
type Script struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
	// Delay is slept before exiting.
	Delay time.Duration
	// Hang keeps the process alive after writing output until it is killed.
	Hang bool
	// Release, when set, holds the process before it writes anything until
	// the channel is closed.
	Release chan struct{}
	// StartErr makes Launch fail.
	StartErr error
}

// FakeLauncher is an agent.Launcher that plays scripts instead of starting
// processes. Scripts are consumed in order; the last one repeats.
type FakeLauncher struct {
	mu      sync.Mutex
	scripts []Script
	specs   []agent.LaunchSpec
	procs   []*FakeProcess
}

// NewFakeLauncher returns a launcher playing the given scripts.
func NewFakeLauncher(scripts ...Script) *FakeLauncher {
	return &FakeLauncher{scripts: scripts}
}

// Push appends scripts.
func (l *FakeLauncher) Push(scripts ...Script) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts = append(l.scripts, scripts...)
}

func (l *FakeLauncher) Launch(ctx context.Context, spec agent.LaunchSpec) (agent.Process, error) {
	l.mu.Lock()
	var script Script
	if len(l.scripts) > 0 {
		script = l.scripts[0]
		if len(l.scripts) > 1 {
			l.scripts = l.scripts[1:]
		}
	}
	l.specs = append(l.specs, spec)
	if script.StartErr != nil {
		l.mu.Unlock()
		return nil, script.StartErr
	}
	p := newFakeProcess(100000 + len(l.procs))
	l.procs = append(l.procs, p)
	l.mu.Unlock()

	go p.play(script)
	return p, nil
}

// Launches returns every spec passed to Launch, in order.
func (l *FakeLauncher) Launches() []agent.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]agent.LaunchSpec(nil), l.specs...)
}

// Processes returns every process started, in order.
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProcess(nil), l.procs...)
}

// FakeProcess is an in-memory agent.Process.
type FakeProcess struct {
	pid              int
	stdoutR, stderrR *io.PipeReader
	stdoutW, stderrW *io.PipeWriter

	killCh   chan struct{}
	killOnce sync.Once
	killed   atomic.Bool

	exitOnce sync.Once
	exited   chan struct{}
	code     int
}

func newFakeProcess(pid int) *FakeProcess {
	p := &FakeProcess{
		pid:    pid,
		killCh: make(chan struct{}),
		exited: make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *FakeProcess) play(s Script) {
	if s.Release != nil {
		select {
		case <-s.Release:
		case <-p.killCh:
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, line := range s.Stdout {
			if _, err := io.WriteString(p.stdoutW, line+"\n"); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for _, line := range s.Stderr {
			if _, err := io.WriteString(p.stderrW, line+"\n"); err != nil {
				return
			}
		}
	}()
	wg.Wait()

	if s.Hang {
		<-p.killCh
		return
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-p.killCh:
			return
		}
	}
	p.closeWriters()
	p.exit(s.ExitCode)
}

func (p *FakeProcess) closeWriters() {
	p.stdoutW.Close()
	p.stderrW.Close()
}

func (p *FakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.code = code
		close(p.exited)
	})
}

func (p *FakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *FakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *FakeProcess) Pid() int          { return p.pid }

func (p *FakeProcess) Wait() (int, error) {
	<-p.exited
	if p.code < 0 {
		return p.code, errors.New("signal: killed")
	}
	return p.code, nil
}

func (p *FakeProcess) Kill() error {
	p.killOnce.Do(func() {
		p.killed.Store(true)
		close(p.killCh)
		p.closeWriters()
		p.exit(-1)
	})
	return nil
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool { return p.killed.Load() }

// Exited reports whether the process has terminated.
func (p *FakeProcess) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// StreamText returns a stream-json assistant line carrying text.
func StreamText(text string) string {
	return `{"type":"assistant","message":{"content":[{"type":"text","text":` + quote(text) + `}]}}`
}

// StreamTool returns a stream-json assistant line carrying a tool call.
func StreamTool(id, name, filePath string) string {
	return `{"type":"assistant","message":{"content":[{"type":"tool_use","id":` + quote(id) +
		`,"name":` + quote(name) + `,"input":{"file_path":` + quote(filePath) + `}}]}}`
}

// StreamResult returns a stream-json result line.
func StreamResult(final string, inputTokens, outputTokens int, cost string) string {
	return `{"type":"result","subtype":"success","result":` + quote(final) +
		`,"usage":{"input_tokens":` + strconv.Itoa(inputTokens) + `,"output_tokens":` + strconv.Itoa(outputTokens) +
		`},"total_cost_usd":` + cost + `}`
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// SetupTestDir creates a temp directory, resolves symlinks (for macOS),
// changes to it, and registers cleanup to restore the original working directory.
// Returns the resolved temp directory path.
func SetupTestDir(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	// Resolve symlinks for macOS (/var -> /private/var)
	if resolved, err := filepath.EvalSymlinks(tmpDir); err != nil {
		t.Logf("warning: could not resolve symlinks for temp dir: %v", err)
	} else {
		tmpDir = resolved
	}

	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change to temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.Chdir(originalWd)
	})

	return tmpDir
}
