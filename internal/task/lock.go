package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is matched by *LockedError.
var ErrLocked = errors.New("task is locked by another process")

// LockedError reports the process currently holding a run lock.
type LockedError struct {
	TaskID string
	PID    int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("task %s is already running (PID %d)", e.TaskID, e.PID)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// RunLock is a PID lock file that keeps two taskpilot processes from running
// sessions for the same task at once. The in-process guarantee comes from the
// session registry; this covers separate CLI invocations.
type RunLock struct {
	taskID string
	path   string
}

// NewRunLock creates a lock for taskID under <dataDir>/locks.
func NewRunLock(dataDir, taskID string) *RunLock {
	return &RunLock{
		taskID: taskID,
		path:   filepath.Join(dataDir, "locks", taskID+".lock"),
	}
}

// Acquire takes the lock. Stale locks left by dead processes are removed.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create locks directory: %w", err)
	}

	err := l.create()
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	pid, err := l.Holder()
	if err != nil {
		return err
	}
	if pid != 0 {
		return &LockedError{TaskID: l.taskID, PID: pid}
	}

	// Holder removed the stale file; retry once.
	if err := l.create(); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock for task %s acquired by another process during retry", l.taskID)
		}
		return fmt.Errorf("failed to create lock file on retry: %w", err)
	}
	return nil
}

// create writes the PID to a temp file and hard-links it into place, so the
// lock file never exists without its PID.
func (l *RunLock) create() error {
	f, err := os.CreateTemp(filepath.Dir(l.path), ".lock-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		return fmt.Errorf("failed to write lock file: %w", errors.Join(writeErr, closeErr))
	}
	return os.Link(tmp, l.path)
}

// Release removes the lock file. It is idempotent.
func (l *RunLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Holder returns the PID of the live process holding the lock, or 0 when the
// lock is free. Stale or invalid lock files are removed.
func (l *RunLock) Holder() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr == nil && processExists(pid) {
		return pid, nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	return 0, nil
}

// processExists checks if a process with the given PID is running.
// Signal 0 checks for existence without delivering anything.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
