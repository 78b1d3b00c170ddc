package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pablasso/taskpilot/internal/config"
	"github.com/pablasso/taskpilot/internal/logging"
	"github.com/pablasso/taskpilot/internal/report"
	"github.com/pablasso/taskpilot/internal/session"
)

// DefaultTimeout is used when a spawn request carries no timeout.
const DefaultTimeout = 30 * time.Minute

const tracerName = "github.com/pablasso/taskpilot/internal/agent"

// SpawnRequest describes one session to start.
type SpawnRequest struct {
	TaskID  string
	Kind    session.Kind
	Prompt  string
	Profile config.Profile
	Timeout time.Duration
	WorkDir string
	// OutputPath is exported to the agent as its dedicated output location.
	OutputPath string
	// OutputFolder and ExpectedOutput locate the task's deliverable; when it
	// exists after exit the run counts as successful.
	OutputFolder   string
	ExpectedOutput string
}

// Outcome is the terminal result of a session, delivered exactly once.
type Outcome struct {
	Session *session.Session
	Result  report.Result
	// Output is the agent's final text, the input to report.Parse.
	Output  string
	Success bool
	// Reason names the decision rule that classified the run.
	Reason string
	// Err is *TimeoutError or *ExecutionError for failed runs, nil otherwise.
	Err error
}

// Handle is returned by Spawn.
type Handle struct {
	Session *session.Session
	done    <-chan Outcome
}

// Done delivers the outcome once the session has finished.
func (h *Handle) Done() <-chan Outcome { return h.done }

// run is the supervisor-private state of one live session. The process handle
// never leaves this struct.
type exitStatus struct {
	code int
	err  error
}

type run struct {
	id       string
	req      SpawnRequest
	proc     Process
	log      *logging.SessionLog
	timeout  time.Duration
	started  time.Time
	killed   atomic.Bool
	timedOut atomic.Bool
	outcome  chan Outcome
	finished chan struct{}

	mu       sync.Mutex
	text     strings.Builder
	final    string
	hasFinal bool
}

// Supervisor spawns agent processes and turns their output into session
// state.
type Supervisor struct {
	launcher Launcher
	registry *session.Registry
	logsDir  string
	logger   *log.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Launcher Launcher
	Registry *session.Registry
	// LogsDir receives one raw output log per session. Empty disables logs.
	LogsDir string
	Logger  *log.Logger
}

// NewSupervisor creates a supervisor. A nil launcher selects ClaudeLauncher.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Launcher == nil {
		cfg.Launcher = ClaudeLauncher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Supervisor{
		launcher: cfg.Launcher,
		registry: cfg.Registry,
		logsDir:  cfg.LogsDir,
		logger:   cfg.Logger,
		tracer:   otel.Tracer(tracerName),
		runs:     make(map[string]*run),
	}
}

// Spawn reserves a session for the task and starts its agent process. The
// process outlives ctx; only Kill or the timeout stop it. Spawn fails with
// *session.ConcurrencyViolation when the task already has an active session
// and with *SpawnError when the process cannot be started.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	sess, err := s.registry.Reserve(req.TaskID, req.Kind, req.Profile.Model)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := s.logger.With("task", req.TaskID, "session", sess.ID)

	var sessionLog *logging.SessionLog
	if s.logsDir != "" {
		sessionLog, err = logging.OpenSessionLog(s.logsDir, sess.ID, req.TaskID)
		if err != nil {
			logger.Warn("session log unavailable", "err", err)
		}
	}

	spec := LaunchSpec{
		SessionID:  sess.ID,
		TaskID:     req.TaskID,
		Prompt:     req.Prompt + "\n\n" + report.Footer(),
		Profile:    req.Profile,
		WorkDir:    req.WorkDir,
		OutputPath: req.OutputPath,
		Timeout:    timeout,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	proc, err := s.launcher.Launch(runCtx, spec)
	if err != nil {
		cancel()
		s.registry.Abort(sess.ID)
		sessionLog.Close("spawn failed")
		logger.Error("agent failed to start", "err", err)
		return nil, &SpawnError{TaskID: req.TaskID, Err: err}
	}

	r := &run{
		id:       sess.ID,
		req:      req,
		proc:     proc,
		log:      sessionLog,
		timeout:  timeout,
		started:  sess.StartedAt,
		outcome:  make(chan Outcome, 1),
		finished: make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[sess.ID] = r
	s.mu.Unlock()

	s.registry.Started(sess.ID)
	logger.Info("agent started", "kind", req.Kind, "model", req.Profile.Model, "pid", proc.Pid(), "timeout", timeout)

	s.wg.Add(1)
	go s.supervise(runCtx, cancel, r, logger)

	return &Handle{Session: sess, done: r.outcome}, nil
}

// Kill terminates a session's process and waits for it to be recorded as
// killed. Killing a finished session is a no-op.
func (s *Supervisor) Kill(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	r, ok := s.runs[sessionID]
	s.mu.Unlock()

	if !ok {
		if _, err := s.registry.Get(sessionID); err != nil {
			return ErrSessionNotFound
		}
		return nil
	}

	if r.killed.CompareAndSwap(false, true) {
		if err := r.proc.Kill(); err != nil {
			s.logger.Warn("kill agent", "session", sessionID, "err", err)
		}
	}

	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns the derived health of a session.
func (s *Supervisor) Health(sessionID string) (session.Health, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return "", ErrSessionNotFound
	}
	return sess.Health, nil
}

// Wait blocks until every supervised session has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, cancel context.CancelFunc, r *run, logger *log.Logger) {
	defer s.wg.Done()
	defer cancel()

	_, span := s.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", r.id),
		attribute.String("task.id", r.req.TaskID),
		attribute.String("session.kind", string(r.req.Kind)),
		attribute.String("agent.model", r.req.Profile.Model),
	))
	defer span.End()

	// Wait must follow the output pumps, so exit is observed after both.
	exited := make(chan exitStatus, 1)
	go func() {
		var g errgroup.Group
		g.Go(func() error { return s.pumpStdout(r) })
		g.Go(func() error { return s.pumpStderr(r) })
		if err := g.Wait(); err != nil {
			logger.Warn("reading agent output", "err", err)
		}
		code, err := r.proc.Wait()
		exited <- exitStatus{code: code, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	var st exitStatus
	select {
	case st = <-exited:
		timer.Stop()
	case <-timer.C:
		select {
		case st = <-exited:
		default:
			r.timedOut.Store(true)
			logger.Warn("agent timed out, killing", "timeout", r.timeout)
			if err := r.proc.Kill(); err != nil {
				logger.Warn("kill agent", "err", err)
			}
			st = <-exited
		}
	}
	exitCode := st.code

	out := s.finish(r, exitCode, st.err, logger)

	span.SetAttributes(
		attribute.String("session.status", string(out.Session.Status)),
		attribute.String("session.verdict", out.Reason),
		attribute.Int("agent.exit_code", exitCode),
		attribute.Int("agent.tokens", out.Session.TokensUsed),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}

	s.mu.Lock()
	delete(s.runs, r.id)
	s.mu.Unlock()

	r.outcome <- out
	close(r.outcome)
	close(r.finished)
}

func (s *Supervisor) finish(r *run, exitCode int, waitErr error, logger *log.Logger) Outcome {
	r.mu.Lock()
	text := r.text.String()
	if r.hasFinal {
		text = r.final
	}
	r.mu.Unlock()

	parsed := report.Parse(text)
	sig := signals{
		killed:    r.killed.Load(),
		timedOut:  r.timedOut.Load(),
		complete:  parsed.Status == report.StatusComplete,
		stepError: parsed.Status == report.StatusError,
		exitCode:  exitCode,
	}
	if r.req.OutputFolder != "" || r.req.ExpectedOutput != "" {
		sig.outputExists = report.OutputExists(r.req.OutputFolder, r.req.ExpectedOutput, r.started)
	}
	v := decide(sig)

	result := report.Verify(parsed, logger)

	var (
		note string
		err  error
	)
	switch {
	case v.status == session.StatusKilled:
		note = "killed by user"
	case v.rule == "timeout":
		terr := &TimeoutError{SessionID: r.id, Timeout: r.timeout}
		note, err = terr.Error(), terr
	case !v.success:
		msg := result.Error
		if msg == "" && waitErr != nil && exitCode < 0 {
			msg = waitErr.Error()
		}
		eerr := &ExecutionError{SessionID: r.id, ExitCode: exitCode, Message: msg}
		note, err = eerr.Error(), eerr
	}

	if _, ferr := s.registry.Finish(r.id, v.status, note, &result, exitCode); ferr != nil {
		logger.Error("record session result", "err", ferr)
	}
	r.log.Close(string(v.status))

	sess, gerr := s.registry.Get(r.id)
	if gerr != nil {
		sess = &session.Session{ID: r.id, TaskID: r.req.TaskID, Kind: r.req.Kind, Status: v.status, Note: note, ExitCode: exitCode}
	}
	if sess.Result != nil {
		result = *sess.Result
	}

	logger.Info("agent finished",
		"status", v.status,
		"verdict", v.rule,
		"exit", exitCode,
		"tokens", sess.TokensUsed,
		"files", len(result.Files),
	)
	return Outcome{Session: sess, Result: result, Output: text, Success: v.success, Reason: v.rule, Err: err}
}

func (s *Supervisor) pumpStdout(r *run) error {
	return scanLines(r.proc.Stdout(), func(line string) {
		r.log.Write([]byte(line + "\n"))

		decoded := DecodeStreamLine(line)
		if decoded.Usage != nil {
			s.registry.RecordUsage(r.id, decoded.Usage.Tokens(), decoded.Usage.CostUSD)
		}
		r.mu.Lock()
		if decoded.HasFinal {
			r.final = decoded.Final
			r.hasFinal = true
		}
		for _, t := range decoded.Thoughts {
			if t.Type == session.ThoughtText {
				r.text.WriteString(t.Content)
				r.text.WriteString("\n")
			}
		}
		r.mu.Unlock()

		if len(decoded.Thoughts) == 0 {
			s.registry.Touch(r.id)
		}
		for _, t := range decoded.Thoughts {
			s.registry.AppendThought(r.id, t)
		}
	})
}

func (s *Supervisor) pumpStderr(r *run) error {
	return scanLines(r.proc.Stderr(), func(line string) {
		r.log.Write([]byte("[stderr] " + line + "\n"))
		if strings.TrimSpace(line) == "" {
			return
		}
		s.registry.AppendThought(r.id, session.Thought{Type: session.ThoughtText, Content: line, Source: "stderr"})
	})
}

// scanLines calls fn for each line of r until EOF.
func scanLines(r io.Reader, fn func(string)) error {
	if r == nil {
		return nil
	}
	scanner := bufio.NewScanner(r)
	// Stream-json lines can be large.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Drain so the process is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("scan agent output: %w", err)
	}
	return nil
}
