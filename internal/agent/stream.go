package agent

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/pablasso/taskpilot/internal/session"
)

// Usage is the token and cost summary from a stream-json result event.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Tokens returns input plus output tokens.
func (u Usage) Tokens() int {
	return int(u.InputTokens + u.OutputTokens)
}

// StreamLine is what one line of agent stdout decodes to.
type StreamLine struct {
	Thoughts []session.Thought
	Usage    *Usage
	// Final is the agent's final message, from the result event.
	Final    string
	HasFinal bool
}

// streamEvent is the subset of Claude's stream-json output taskpilot reads.
type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Message *struct {
		Content []streamContent `json:"content"`
	} `json:"message,omitempty"`
	Result *string `json:"result,omitempty"`
	Usage  *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

type streamContent struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ParseStreamLine converts one line of agent stdout into thoughts.
func ParseStreamLine(line string) []session.Thought {
	return DecodeStreamLine(line).Thoughts
}

// DecodeStreamLine decodes one line of agent stdout. Lines that are not JSON
// become a single text thought; system and partial-message events yield
// nothing.
func DecodeStreamLine(line string) StreamLine {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return StreamLine{}
	}

	var event streamEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil || event.Type == "" {
		return StreamLine{Thoughts: []session.Thought{{Type: session.ThoughtText, Content: line}}}
	}

	var out StreamLine
	switch event.Type {
	case "assistant":
		if event.Message == nil {
			break
		}
		for _, c := range event.Message.Content {
			switch c.Type {
			case "text":
				if strings.TrimSpace(c.Text) != "" {
					out.Thoughts = append(out.Thoughts, session.Thought{Type: session.ThoughtText, Content: c.Text})
				}
			case "thinking":
				if strings.TrimSpace(c.Thinking) != "" {
					out.Thoughts = append(out.Thoughts, session.Thought{Type: session.ThoughtThinking, Content: c.Thinking})
				}
			case "tool_use":
				out.Thoughts = append(out.Thoughts, session.Thought{
					Type:    session.ThoughtTool,
					Tool:    c.Name,
					ToolID:  c.ID,
					Content: toolTarget(c.Name, c.Input),
				})
			}
		}
	case "user":
		if event.Message == nil {
			break
		}
		for _, c := range event.Message.Content {
			if c.Type == "tool_result" {
				out.Thoughts = append(out.Thoughts, session.Thought{
					Type:    session.ThoughtToolResult,
					ToolID:  c.ToolUseID,
					Content: toolResultText(c.Content),
				})
			}
		}
	case "result":
		if event.Usage != nil {
			out.Usage = &Usage{
				InputTokens:  event.Usage.InputTokens,
				OutputTokens: event.Usage.OutputTokens,
				CostUSD:      event.TotalCostUSD,
			}
		}
		if event.Result != nil {
			out.Final = *event.Result
			out.HasFinal = true
		}
	}
	return out
}

// maxToolResultLen truncates tool results kept as thoughts.
const maxToolResultLen = 2000

// toolResultText flattens tool_result content, which is either a string or
// a list of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	} else {
		var blocks []streamContent
		if err := json.Unmarshal(raw, &blocks); err == nil {
			parts := make([]string, 0, len(blocks))
			for _, b := range blocks {
				if b.Text != "" {
					parts = append(parts, b.Text)
				}
			}
			text = strings.Join(parts, "\n")
		}
	}
	if len(text) > maxToolResultLen {
		cut := maxToolResultLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	return text
}

// toolTarget picks the most descriptive input argument of a tool call.
func toolTarget(toolName string, input map[string]any) string {
	key := ""
	switch toolName {
	case "Read", "Write", "Edit", "MultiEdit", "NotebookEdit":
		key = "file_path"
	case "Glob", "Grep":
		key = "pattern"
	case "Task":
		key = "description"
	case "Bash":
		key = "command"
	case "WebFetch":
		key = "url"
	case "WebSearch":
		key = "query"
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
