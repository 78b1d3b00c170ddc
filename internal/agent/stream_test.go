package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pablasso/taskpilot/internal/session"
)

func TestDecodeStreamLine_Assistant(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[` +
		`{"type":"thinking","thinking":"Need to read the file first."},` +
		`{"type":"text","text":"Reading config."},` +
		`{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/tmp/config.toml"}}]}}`

	got := ParseStreamLine(line)
	require.Len(t, got, 3)
	assert.Equal(t, session.ThoughtThinking, got[0].Type)
	assert.Equal(t, "Need to read the file first.", got[0].Content)
	assert.Equal(t, session.ThoughtText, got[1].Type)
	assert.Equal(t, session.ThoughtTool, got[2].Type)
	assert.Equal(t, "Read", got[2].Tool)
	assert.Equal(t, "toolu_1", got[2].ToolID)
	assert.Equal(t, "/tmp/config.toml", got[2].Content)
}

func TestDecodeStreamLine_ToolResult(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "string content",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"file contents"}]}}`,
			want: "file contents",
		},
		{
			name: "block content",
			line: `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}}`,
			want: "a\nb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStreamLine(tt.line)
			require.Len(t, got, 1)
			assert.Equal(t, session.ThoughtToolResult, got[0].Type)
			assert.Equal(t, "toolu_1", got[0].ToolID)
			assert.Equal(t, tt.want, got[0].Content)
		})
	}
}

func TestDecodeStreamLine_LongToolResultIsTruncated(t *testing.T) {
	long := strings.Repeat("x", maxToolResultLen+100)
	got := ParseStreamLine(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t","content":"` + long + `"}]}}`)
	require.Len(t, got, 1)
	assert.Less(t, len(got[0].Content), len(long))
}

func TestDecodeStreamLine_TruncationKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("x", maxToolResultLen-1) + strings.Repeat("é", 50)
	got := ParseStreamLine(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t","content":"` + long + `"}]}}`)
	require.Len(t, got, 1)
	assert.True(t, utf8.ValidString(got[0].Content))
	assert.True(t, strings.HasSuffix(got[0].Content, "…"))
	assert.Equal(t, strings.Repeat("x", maxToolResultLen-1)+"…", got[0].Content)
}

func TestDecodeStreamLine_Result(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"STEP_COMPLETE\nResult: ok","usage":{"input_tokens":1200,"output_tokens":300},"total_cost_usd":0.042}`

	got := DecodeStreamLine(line)
	assert.Empty(t, got.Thoughts)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 1500, got.Usage.Tokens())
	assert.InDelta(t, 0.042, got.Usage.CostUSD, 1e-9)
	assert.True(t, got.HasFinal)
	assert.Equal(t, "STEP_COMPLETE\nResult: ok", got.Final)
}

func TestDecodeStreamLine_PlainAndIgnored(t *testing.T) {
	plain := ParseStreamLine("STEP_COMPLETE")
	require.Len(t, plain, 1)
	assert.Equal(t, session.ThoughtText, plain[0].Type)
	assert.Equal(t, "STEP_COMPLETE", plain[0].Content)

	assert.Empty(t, ParseStreamLine(""))
	assert.Empty(t, ParseStreamLine("   "))
	assert.Empty(t, ParseStreamLine(`{"type":"system","subtype":"init","session_id":"abc"}`))
	assert.Empty(t, ParseStreamLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"  "}]}}`))
}

func TestToolTarget(t *testing.T) {
	assert.Equal(t, "go test ./...", toolTarget("Bash", map[string]any{"command": "go test ./..."}))
	assert.Equal(t, "*.go", toolTarget("Glob", map[string]any{"pattern": "*.go"}))
	assert.Equal(t, "", toolTarget("Unknown", map[string]any{"x": "y"}))
	assert.Equal(t, "", toolTarget("Read", nil))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		sig     signals
		rule    string
		status  session.Status
		success bool
	}{
		{"kill beats everything", signals{killed: true, complete: true}, "killed", session.StatusKilled, false},
		{"timeout beats marker", signals{timedOut: true, complete: true}, "timeout", session.StatusError, false},
		{"marker beats exit code", signals{complete: true, exitCode: 1}, "completion marker", session.StatusComplete, true},
		{"clean exit", signals{}, "clean exit", session.StatusComplete, true},
		{"clean exit with STEP_ERROR", signals{stepError: true}, "failed", session.StatusError, false},
		{"output file rescues STEP_ERROR", signals{stepError: true, outputExists: true}, "output exists", session.StatusComplete, true},
		{"output file rescues nonzero exit", signals{exitCode: 2, outputExists: true}, "output exists", session.StatusComplete, true},
		{"nonzero exit", signals{exitCode: 2}, "failed", session.StatusError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := decide(tt.sig)
			assert.Equal(t, tt.rule, v.rule)
			assert.Equal(t, tt.status, v.status)
			assert.Equal(t, tt.success, v.success)
		})
	}
}
