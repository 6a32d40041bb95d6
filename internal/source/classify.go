package source

import (
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Classify maps one raw record to exactly one normalized event. It never
// fails: records it does not understand become generic system events that
// carry the raw sub-kind and payload, and bookkeeping records become skip
// events.
//
// Routing by top-level "type":
//   - "user"      -> user message, tool result, or compaction summary
//   - "assistant" -> assistant message or tool call
//   - "system"    -> turn duration or system event
//   - "progress"  -> one of the progress kinds, keyed on data.type
//   - "summary"   -> summary
//   - bookkeeping -> skip
//   - anything else -> system event
func Classify(rec RawRecord) model.Event {
	ev := model.Event{
		ID:        recordID(rec),
		Timestamp: parseTimestamp(rec.Timestamp),
		ParentID:  rec.ParentUUID,
	}

	switch strings.ToLower(rec.Type) {
	case "":
		ev.Kind = model.KindSkip
	case "user":
		classifyUser(rec, &ev)
	case "assistant":
		classifyAssistant(rec, &ev)
	case "system":
		classifySystem(rec, &ev)
	case "progress":
		classifyProgress(rec, &ev)
	case "summary":
		ev.Kind = model.KindSummary
		ev.Payload.Text = rec.Summary
	case "file-history-snapshot", "queue-operation":
		ev.Kind = model.KindSkip
	default:
		genericEvent(&ev, strings.TrimPrefix(rec.Type, unrecognizedPrefix), rec.Raw)
	}
	return ev
}

func recordID(rec RawRecord) string {
	switch {
	case rec.UUID != "":
		return rec.UUID
	case rec.LeafUUID != "" && rec.Type == "summary":
		return "summary-" + rec.LeafUUID
	default:
		return lineID(rec.Line)
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func genericEvent(ev *model.Event, subtype string, raw json.RawMessage) {
	ev.Kind = model.KindSystemEvent
	ev.Payload.Subtype = subtype
	ev.Payload.Raw = raw
}

func classifyUser(rec RawRecord, ev *model.Event) {
	ev.Kind = model.KindUserMessage
	if rec.Message == nil {
		return
	}

	text, blocks := decodeContent(rec.Message.Content)

	if rec.IsCompactSummary {
		ev.Kind = model.KindSummary
		ev.Payload.Text = joinText(text, blocks)
		ev.Payload.Compaction = true
		return
	}

	for _, b := range blocks {
		if b.Type != "tool_result" {
			continue
		}
		ev.Kind = model.KindToolResult
		if ev.Payload.ToolUseID == "" {
			ev.Payload.ToolUseID = b.ToolUseID
		}
		ev.Payload.IsError = ev.Payload.IsError || b.IsError
		out := toolResultText(b.Content)
		if ev.Payload.ToolOutput != "" && out != "" {
			ev.Payload.ToolOutput += "\n"
		}
		ev.Payload.ToolOutput += out
	}
	if ev.Kind == model.KindToolResult {
		return
	}

	ev.Payload.Text = joinText(text, blocks)
}

func classifyAssistant(rec RawRecord, ev *model.Event) {
	ev.Kind = model.KindAssistantMessage
	if rec.Message == nil {
		return
	}
	msg := rec.Message
	ev.Payload.Model = msg.Model
	ev.Payload.MessageID = msg.ID
	ev.Usage = usageFrom(msg.Usage)

	text, blocks := decodeContent(msg.Content)
	var thinking []string
	for _, b := range blocks {
		switch b.Type {
		case "thinking":
			if b.Thinking != "" {
				thinking = append(thinking, b.Thinking)
			}
		case "tool_use":
			if ev.Kind == model.KindToolCall {
				continue
			}
			ev.Kind = model.KindToolCall
			ev.Payload.ToolName = b.Name
			ev.Payload.ToolUseID = b.ID
			ev.Payload.ToolInput = b.Input
		}
	}
	ev.Payload.Text = joinText(text, blocks)
	ev.Payload.Thinking = strings.Join(thinking, "\n\n")
}

func classifySystem(rec RawRecord, ev *model.Event) {
	switch rec.Subtype {
	case "turn_duration":
		ev.Kind = model.KindTurnDuration
		ev.Payload.DurationMs = rec.DurationMs
		return
	case "compact_boundary":
		ev.Kind = model.KindSystemEvent
		ev.Payload.Subtype = rec.Subtype
		ev.Payload.Compaction = true
		return
	}

	ev.Kind = model.KindSystemEvent
	ev.Payload.Subtype = rec.Subtype
	var s string
	if len(rec.Content) > 0 && json.Unmarshal(rec.Content, &s) == nil {
		ev.Payload.Text = s
	} else if len(rec.Content) > 0 {
		ev.Payload.Raw = rec.Content
	}
}

// progressKinds maps normalized progress sub-kinds to event kinds.
var progressKinds = map[string]model.EventKind{
	"hook_progress":           model.KindHookProgress,
	"agent_progress":          model.KindAgentProgress,
	"bash_progress":           model.KindBashProgress,
	"mcp_progress":            model.KindMCPProgress,
	"query_update":            model.KindWebSearchQuery,
	"web_search_query":        model.KindWebSearchQuery,
	"search_results_received": model.KindWebSearchResult,
	"web_search_result":       model.KindWebSearchResult,
}

func classifyProgress(rec RawRecord, ev *model.Event) {
	var data RawProgressData
	if len(rec.Data) == 0 || json.Unmarshal(rec.Data, &data) != nil || data.Type == "" {
		genericEvent(ev, "progress", rec.Raw)
		return
	}

	kind, ok := progressKinds[strings.ReplaceAll(strings.ToLower(data.Type), "-", "_")]
	if !ok {
		genericEvent(ev, data.Type, rec.Data)
		return
	}

	ev.Kind = kind
	ev.Payload.Subtype = data.Type
	ev.Payload.ToolUseID = firstNonEmpty(rec.ParentToolUseID, rec.ToolUseID)

	switch kind {
	case model.KindHookProgress:
		ev.Payload.Text = joinNonEmpty(" ", data.HookEvent, data.HookName, data.Command)
	case model.KindAgentProgress:
		ev.Payload.AgentID = data.AgentID
		ev.Payload.Text = data.Prompt
	case model.KindBashProgress:
		ev.Payload.Text = data.Output
		ev.Payload.DurationMs = int64(data.ElapsedTimeSeconds * 1000)
	case model.KindMCPProgress:
		ev.Payload.ToolName = data.ToolName
		ev.Payload.Text = joinNonEmpty(" ", data.ServerName, data.Status)
	case model.KindWebSearchQuery:
		ev.Payload.Query = data.Query
	case model.KindWebSearchResult:
		ev.Payload.Query = data.Query
		ev.Payload.Count = data.ResultCount
	}
}

// decodeContent handles message content that is either a plain string or an
// array of content blocks.
func decodeContent(raw json.RawMessage) (string, []RawContentBlock) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []RawContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return "", blocks
	}
	return "", nil
}

// joinText concatenates the plain text and text blocks of a message.
func joinText(text string, blocks []RawContentBlock) string {
	parts := make([]string, 0, len(blocks)+1)
	if text != "" {
		parts = append(parts, text)
	}
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// toolResultText flattens tool_result content, which may be a string or a
// list of text blocks.
func toolResultText(raw json.RawMessage) string {
	text, blocks := decodeContent(raw)
	if text != "" {
		return text
	}
	return joinText("", blocks)
}

func usageFrom(u *RawUsage) *model.TokenUsage {
	if u == nil {
		return nil
	}
	cacheCreation := u.CacheCreationInputTokens
	if cacheCreation == 0 && u.CacheCreation != nil {
		cacheCreation = u.CacheCreation.Ephemeral5mInputTokens + u.CacheCreation.Ephemeral1hInputTokens
	}
	return &model.TokenUsage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: cacheCreation,
		CacheReadTokens:     u.CacheReadInputTokens,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, vals ...string) string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
