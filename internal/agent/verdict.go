package agent

import "github.com/pablasso/taskpilot/internal/session"

// signals are the facts known about a session once its process has exited.
type signals struct {
	killed       bool
	timedOut     bool
	complete     bool // STEP_COMPLETE present
	stepError    bool // STEP_ERROR present without STEP_COMPLETE
	exitCode     int
	outputExists bool
}

type verdictRule struct {
	name    string
	matches func(signals) bool
	status  session.Status
	success bool
}

// verdictRules is evaluated top to bottom; the first match decides the
// session outcome. A completion marker outranks the exit code, and an
// existing output file outranks a STEP_ERROR report.
var verdictRules = []verdictRule{
	{"killed", func(s signals) bool { return s.killed }, session.StatusKilled, false},
	{"timeout", func(s signals) bool { return s.timedOut }, session.StatusError, false},
	{"completion marker", func(s signals) bool { return s.complete }, session.StatusComplete, true},
	{"clean exit", func(s signals) bool { return s.exitCode == 0 && !s.stepError }, session.StatusComplete, true},
	{"output exists", func(s signals) bool { return s.outputExists }, session.StatusComplete, true},
	{"failed", func(signals) bool { return true }, session.StatusError, false},
}

type verdict struct {
	rule    string
	status  session.Status
	success bool
}

func decide(s signals) verdict {
	for _, r := range verdictRules {
		if r.matches(s) {
			return verdict{rule: r.name, status: r.status, success: r.success}
		}
	}
	// Unreachable: the last rule always matches.
	return verdict{rule: "failed", status: session.StatusError}
}
