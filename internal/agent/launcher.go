// Package agent spawns and supervises agent processes, one per session.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pablasso/taskpilot/internal/config"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock command execution.
var CommandContext = exec.CommandContext

// Environment variables exported to agent processes.
const (
	EnvOutputPath = "TASKPILOT_OUTPUT_PATH"
	EnvSessionID  = "TASKPILOT_SESSION_ID"
	EnvTaskID     = "TASKPILOT_TASK_ID"
)

// LaunchSpec is everything a launcher needs to start one agent process.
type LaunchSpec struct {
	SessionID  string
	TaskID     string
	Prompt     string
	Profile    config.Profile
	WorkDir    string
	OutputPath string
	Timeout    time.Duration
}

// Process is a running agent process. Stdout and Stderr must be drained
// before Wait is called.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until exit. exitCode is -1 when the process did not exit
	// normally.
	Wait() (exitCode int, err error)
	Kill() error
	Pid() int
}

// Launcher starts agent processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ClaudeLauncher runs the Claude Code CLI in print mode with stream-json output.
type ClaudeLauncher struct{}

// Launch starts the agent binary named by the profile.
func (ClaudeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	binary := spec.Profile.Binary
	if binary == "" {
		binary = config.DefaultAgentBinary
	}

	cmd := CommandContext(ctx, binary, BuildArgs(spec)...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = append(os.Environ(),
		EnvOutputPath+"="+spec.OutputPath,
		EnvSessionID+"="+spec.SessionID,
		EnvTaskID+"="+spec.TaskID,
	)
	// Own process group so a kill also reaches tools the agent spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd.Process) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	return &cmdProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// BuildArgs returns the CLI arguments for a launch.
func BuildArgs(spec LaunchSpec) []string {
	p := spec.Profile
	args := []string{
		"-p", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	if p.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(p.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(p.AllowedTools, ","))
	}
	if p.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", p.SystemPrompt)
	}
	return append(args, p.Args...)
}

type cmdProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *cmdProcess) Stdout() io.Reader { return p.stdout }
func (p *cmdProcess) Stderr() io.Reader { return p.stderr }
func (p *cmdProcess) Pid() int          { return p.cmd.Process.Pid }

func (p *cmdProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	return exitCodeFromError(err), err
}

func (p *cmdProcess) Kill() error {
	return killGroup(p.cmd.Process)
}

func killGroup(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
