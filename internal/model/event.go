// Package model defines domain types for the jacques archive.
package model

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// EventKind is the closed set of normalized event kinds.
type EventKind string

const (
	KindUserMessage      EventKind = "user_message"
	KindAssistantMessage EventKind = "assistant_message"
	KindToolCall         EventKind = "tool_call"
	KindToolResult       EventKind = "tool_result"
	KindHookProgress     EventKind = "hook_progress"
	KindAgentProgress    EventKind = "agent_progress"
	KindBashProgress     EventKind = "bash_progress"
	KindMCPProgress      EventKind = "mcp_progress"
	KindWebSearchQuery   EventKind = "web_search_query"
	KindWebSearchResult  EventKind = "web_search_result"
	KindTurnDuration     EventKind = "turn_duration"
	KindSystemEvent      EventKind = "system_event"
	KindSummary          EventKind = "summary"
	KindSkip             EventKind = "skip"
)

// AllKinds lists every kind in display order.
var AllKinds = []EventKind{
	KindUserMessage, KindAssistantMessage, KindToolCall, KindToolResult,
	KindHookProgress, KindAgentProgress, KindBashProgress, KindMCPProgress,
	KindWebSearchQuery, KindWebSearchResult, KindTurnDuration,
	KindSystemEvent, KindSummary, KindSkip,
}

// IsMessage reports whether k is a user or assistant message.
func (k EventKind) IsMessage() bool {
	return k == KindUserMessage || k == KindAssistantMessage
}

// IsTool reports whether k is one half of a tool call/result pair.
func (k EventKind) IsTool() bool {
	return k == KindToolCall || k == KindToolResult
}

// IsProgress reports whether k is one of the progress sub-kinds.
func (k EventKind) IsProgress() bool {
	switch k {
	case KindHookProgress, KindAgentProgress, KindBashProgress, KindMCPProgress,
		KindWebSearchQuery, KindWebSearchResult:
		return true
	}
	return false
}

// Valid reports whether k belongs to the closed set.
func (k EventKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TokenUsage holds token counts reported by the API for one response.
type TokenUsage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns the sum of all four counters.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Payload carries kind-specific content. Only the fields relevant to the
// event's kind are populated.
type Payload struct {
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Model     string `json:"model,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	ToolName   string         `json:"toolName,omitempty"`
	ToolUseID  string         `json:"toolUseId,omitempty"`
	ToolInput  map[string]any `json:"toolInput,omitempty"`
	ToolOutput string         `json:"toolOutput,omitempty"`
	IsError    bool           `json:"isError,omitempty"`

	// Subtype keeps the upstream sub-kind string (progress data type,
	// system subtype, or an unrecognized top-level kind).
	Subtype    string `json:"subtype,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	Query      string `json:"query,omitempty"`
	Count      int    `json:"count,omitempty"`

	Compaction bool            `json:"compaction,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Event is the canonical unit of conversation history.
type Event struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	ParentID  string      `json:"parentId,omitempty"`
	Payload   Payload     `json:"payload"`
	Usage     *TokenUsage `json:"tokenUsage,omitempty"`
}

// ContentText renders the textual content of e that counts toward its
// token footprint.
func (e Event) ContentText() string {
	p := e.Payload
	var b strings.Builder
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}

	switch e.Kind {
	case KindUserMessage, KindAssistantMessage, KindSummary:
		add(p.Text)
		add(p.Thinking)
	case KindToolCall:
		add(p.Text)
		add(p.ToolName)
		if len(p.ToolInput) > 0 {
			if data, err := json.Marshal(p.ToolInput); err == nil {
				add(string(data))
			}
		}
	case KindToolResult:
		add(p.ToolOutput)
	case KindWebSearchQuery, KindWebSearchResult:
		add(p.Query)
		add(p.Text)
	default:
		add(p.Subtype)
		add(p.Text)
		if len(p.Raw) > 0 {
			add(string(p.Raw))
		}
	}
	return b.String()
}
