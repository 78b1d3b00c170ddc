// Package report parses the structured footer that agents print at the end of
// a session and verifies the file claims it contains.
package report

import (
	"regexp"
	"strconv"
	"strings"
)

// Status is the outcome an agent reports in its footer.
type Status string

const (
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusUnknown  Status = "unknown"
)

// Markers that open the footer block.
const (
	MarkerComplete = "STEP_COMPLETE"
	MarkerError    = "STEP_ERROR"
)

// Result is the structured outcome of a session. It is produced once and not
// modified after it has been attached to a session or task.
type Result struct {
	Status     Status   `json:"status" yaml:"status"`
	Result     string   `json:"result,omitempty" yaml:"result,omitempty"`
	Files      []string `json:"files" yaml:"files"`
	URLs       []string `json:"urls" yaml:"urls"`
	Notes      string   `json:"notes,omitempty" yaml:"notes,omitempty"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
	TokensUsed int      `json:"tokensUsed,omitempty" yaml:"tokensUsed,omitempty"`
}

type field int

const (
	fieldNone field = iota
	fieldResult
	fieldFiles
	fieldURLs
	fieldNotes
	fieldError
)

var headers = []struct {
	name  string
	field field
}{
	{"result", fieldResult},
	{"files created", fieldFiles},
	{"urls", fieldURLs},
	{"notes", fieldNotes},
	{"error", fieldError},
}

var (
	tokensPattern   = regexp.MustCompile(`(?i)tokens?\s+used\s*[:=]?\s*([0-9][0-9,]*)`)
	numberedPattern = regexp.MustCompile(`^\d+[.)]\s+`)
)

// Parse turns raw agent output into a Result. It never fails: output without a
// marker yields StatusUnknown with empty lists.
func Parse(raw string) Result {
	r := Result{
		Status: StatusUnknown,
		Files:  []string{},
		URLs:   []string{},
	}

	switch {
	case strings.Contains(raw, MarkerComplete):
		r.Status = StatusComplete
	case strings.Contains(raw, MarkerError):
		r.Status = StatusError
	}
	r.TokensUsed = parseTokens(raw)

	text := raw
	if end := markerEnd(raw); end >= 0 {
		text = raw[end:]
	}

	values := make(map[field]*strings.Builder)
	current := fieldNone
	for _, line := range strings.Split(text, "\n") {
		if f, rest, ok := matchHeader(line); ok {
			current = f
			b := &strings.Builder{}
			b.WriteString(rest)
			values[f] = b
			continue
		}
		if current == fieldNone || isFence(line) {
			continue
		}
		b := values[current]
		b.WriteString("\n")
		b.WriteString(line)
	}

	value := func(f field) string {
		if b, ok := values[f]; ok {
			return strings.TrimSpace(b.String())
		}
		return ""
	}

	r.Result = value(fieldResult)
	r.Notes = value(fieldNotes)
	r.Error = value(fieldError)
	r.Files = splitList(value(fieldFiles), nil)
	r.URLs = splitList(value(fieldURLs), func(entry string) bool {
		return strings.HasPrefix(entry, "http")
	})
	return r
}

// Body returns the text that precedes the footer block, or the whole text when
// no marker is present.
func Body(raw string) string {
	body := raw
	if start := markerStart(raw); start >= 0 {
		body = raw[:start]
	}
	body = strings.TrimSpace(body)
	for _, suffix := range []string{"```", "---"} {
		body = strings.TrimSpace(strings.TrimSuffix(body, suffix))
	}
	return body
}

// HasMarker reports whether the output contains the given marker.
func HasMarker(raw, marker string) bool {
	return strings.Contains(raw, marker)
}

func markerStart(raw string) int {
	return max(strings.LastIndex(raw, MarkerComplete), strings.LastIndex(raw, MarkerError))
}

func markerEnd(raw string) int {
	c := strings.LastIndex(raw, MarkerComplete)
	e := strings.LastIndex(raw, MarkerError)
	switch {
	case c < 0 && e < 0:
		return -1
	case c > e:
		return c + len(MarkerComplete)
	default:
		return e + len(MarkerError)
	}
}

func matchHeader(line string) (field, string, bool) {
	t := strings.TrimLeft(strings.TrimSpace(line), "-*•#> ")
	for _, h := range headers {
		if len(t) < len(h.name) || !strings.EqualFold(t[:len(h.name)], h.name) {
			continue
		}
		rest := strings.TrimPrefix(t[len(h.name):], "**")
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		rest = strings.TrimPrefix(rest[1:], "**")
		return h.field, strings.TrimSpace(rest), true
	}
	return fieldNone, "", false
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

func splitList(value string, keep func(string) bool) []string {
	out := []string{}
	if strings.EqualFold(value, "none") {
		return out
	}
	for _, line := range strings.Split(value, "\n") {
		entry := stripBullet(strings.TrimSpace(line))
		entry = strings.Trim(entry, "`")
		if entry == "" || strings.EqualFold(entry, "none") {
			continue
		}
		if keep != nil && !keep(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func stripBullet(s string) string {
	for _, prefix := range []string{"- ", "* ", "+ ", "• "} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	switch s {
	case "-", "*", "+", "•":
		return ""
	}
	if loc := numberedPattern.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

func parseTokens(raw string) int {
	m := tokensPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}
