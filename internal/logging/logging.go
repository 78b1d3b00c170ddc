// Package logging builds the leveled console logger and the per-session raw
// output files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // text, json, logfmt
	Prefix    string
	Timestamp bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "text",
		Prefix: "taskpilot",
	}
}

// New creates a logger writing to w. Unknown levels fall back to info.
func New(w io.Writer, opts Options) *log.Logger {
	level, err := log.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = log.InfoLevel
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       parseFormatter(opts.Format),
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.Timestamp,
		TimeFormat:      time.Kitchen,
	})
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func parseFormatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// SessionLog is the raw output file of one agent session.
type SessionLog struct {
	Path string
	file *os.File
}

// OpenSessionLog creates (or appends to) <dir>/<sessionID>.log and writes a
// header line.
func OpenSessionLog(dir, sessionID, taskID string) (*SessionLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, sessionID+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}

	fmt.Fprintf(f, "=== Session %s (task %s) started %s ===\n", sessionID, taskID, time.Now().Format(time.RFC3339))
	return &SessionLog{Path: path, file: f}, nil
}

// Write appends raw output. Safe to call on a nil SessionLog.
func (l *SessionLog) Write(p []byte) (int, error) {
	if l == nil || l.file == nil {
		return len(p), nil
	}
	return l.file.Write(p)
}

// Close writes a footer with the final status and closes the file.
func (l *SessionLog) Close(status string) error {
	if l == nil || l.file == nil {
		return nil
	}
	fmt.Fprintf(l.file, "\n=== Session finished: %s ===\n", strings.ToUpper(status))
	err := l.file.Close()
	l.file = nil
	return err
}
