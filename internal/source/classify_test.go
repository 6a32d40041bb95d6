package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

func classifyLine(t *testing.T, line string) model.Event {
	t.Helper()
	res := Parse(strings.NewReader(line+"\n"), "inline")
	require.NoError(t, res.Err)
	require.Empty(t, res.Warnings)
	require.Len(t, res.Events, 1)
	return res.Events[0]
}

func TestClassify_UserMessage(t *testing.T) {
	ev := classifyLine(t, `{"type":"user","uuid":"u1","message":{"role":"user","content":"Refactor the parser"}}`)
	assert.Equal(t, model.KindUserMessage, ev.Kind)
	assert.Equal(t, "Refactor the parser", ev.Payload.Text)
}

func TestClassify_UserContentBlocks(t *testing.T) {
	ev := classifyLine(t, `{"type":"user","uuid":"u1","message":{"content":[{"type":"text","text":"one"},{"type":"text","text":"two"}]}}`)
	assert.Equal(t, model.KindUserMessage, ev.Kind)
	assert.Equal(t, "one\n\ntwo", ev.Payload.Text)
}

func TestClassify_ToolResult(t *testing.T) {
	ev := classifyLine(t, `{"type":"user","uuid":"u2","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"file written"}],"is_error":true}]}}`)
	assert.Equal(t, model.KindToolResult, ev.Kind)
	assert.Equal(t, "toolu_1", ev.Payload.ToolUseID)
	assert.Equal(t, "file written", ev.Payload.ToolOutput)
	assert.True(t, ev.Payload.IsError)
}

func TestClassify_CompactSummary(t *testing.T) {
	ev := classifyLine(t, `{"type":"user","uuid":"u3","isCompactSummary":true,"message":{"content":"This session is being continued."}}`)
	assert.Equal(t, model.KindSummary, ev.Kind)
	assert.True(t, ev.Payload.Compaction)
}

func TestClassify_ToolCall(t *testing.T) {
	ev := classifyLine(t, `{"type":"assistant","uuid":"a1","message":{"id":"msg_1","model":"claude-opus-4","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"Writing plan"},{"type":"tool_use","id":"toolu_9","name":"Write","input":{"file_path":"/p/plans/a.md","content":"# A"}}],"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":7,"cache_creation":{"ephemeral_5m_input_tokens":2,"ephemeral_1h_input_tokens":3}}}}`)
	assert.Equal(t, model.KindToolCall, ev.Kind)
	assert.Equal(t, "Write", ev.Payload.ToolName)
	assert.Equal(t, "toolu_9", ev.Payload.ToolUseID)
	assert.Equal(t, "/p/plans/a.md", ev.Payload.ToolInput["file_path"])
	assert.Equal(t, "Writing plan", ev.Payload.Text)
	assert.Equal(t, "hmm", ev.Payload.Thinking)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 5, CacheCreationTokens: 5, CacheReadTokens: 7}, *ev.Usage)
}

func TestClassify_AssistantMessage(t *testing.T) {
	ev := classifyLine(t, `{"type":"assistant","uuid":"a2","message":{"id":"msg_2","model":"claude-sonnet-4-6","content":[{"type":"text","text":"Done."}]}}`)
	assert.Equal(t, model.KindAssistantMessage, ev.Kind)
	assert.Equal(t, "Done.", ev.Payload.Text)
	assert.Equal(t, "claude-sonnet-4-6", ev.Payload.Model)
	assert.Nil(t, ev.Usage)
}

func TestClassify_Progress(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		kind  model.EventKind
		check func(t *testing.T, ev model.Event)
	}{
		{
			name: "hook",
			line: `{"type":"progress","uuid":"p1","data":{"type":"hook_progress","hookEvent":"PreToolUse","hookName":"lint","command":"make lint"}}`,
			kind: model.KindHookProgress,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, "PreToolUse lint make lint", ev.Payload.Text)
			},
		},
		{
			name: "agent",
			line: `{"type":"progress","uuid":"p2","parentToolUseID":"toolu_3","data":{"type":"agent_progress","agentId":"ab12","prompt":"Explore the repo"}}`,
			kind: model.KindAgentProgress,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, "ab12", ev.Payload.AgentID)
				assert.Equal(t, "toolu_3", ev.Payload.ToolUseID)
			},
		},
		{
			name: "bash",
			line: `{"type":"progress","uuid":"p3","data":{"type":"bash_progress","output":"ok","elapsedTimeSeconds":1.5}}`,
			kind: model.KindBashProgress,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, int64(1500), ev.Payload.DurationMs)
			},
		},
		{
			name: "mcp",
			line: `{"type":"progress","uuid":"p4","data":{"type":"mcp_progress","serverName":"github","toolName":"search","status":"started"}}`,
			kind: model.KindMCPProgress,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, "search", ev.Payload.ToolName)
				assert.Equal(t, "github started", ev.Payload.Text)
			},
		},
		{
			name: "search query",
			line: `{"type":"progress","uuid":"p5","data":{"type":"query_update","query":"golang sse"}}`,
			kind: model.KindWebSearchQuery,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, "golang sse", ev.Payload.Query)
			},
		},
		{
			name: "search results",
			line: `{"type":"progress","uuid":"p6","data":{"type":"search_results_received","query":"golang sse","resultCount":8}}`,
			kind: model.KindWebSearchResult,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, 8, ev.Payload.Count)
			},
		},
		{
			name: "unknown sub-kind",
			line: `{"type":"progress","uuid":"p7","data":{"type":"teleport_progress","x":1}}`,
			kind: model.KindSystemEvent,
			check: func(t *testing.T, ev model.Event) {
				assert.Equal(t, "teleport_progress", ev.Payload.Subtype)
				assert.JSONEq(t, `{"type":"teleport_progress","x":1}`, string(ev.Payload.Raw))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := classifyLine(t, tt.line)
			assert.Equal(t, tt.kind, ev.Kind)
			tt.check(t, ev)
		})
	}
}

func TestClassify_System(t *testing.T) {
	ev := classifyLine(t, `{"type":"system","uuid":"s1","subtype":"compact_boundary","content":"Conversation compacted"}`)
	assert.Equal(t, model.KindSystemEvent, ev.Kind)
	assert.True(t, ev.Payload.Compaction)

	ev = classifyLine(t, `{"type":"system","uuid":"s2","subtype":"local_command","content":"<command-name>/clear</command-name>"}`)
	assert.Equal(t, model.KindSystemEvent, ev.Kind)
	assert.Equal(t, "local_command", ev.Payload.Subtype)
	assert.Equal(t, "<command-name>/clear</command-name>", ev.Payload.Text)
}

func TestClassify_SummaryRecord(t *testing.T) {
	ev := classifyLine(t, `{"type":"summary","summary":"Auth rollout. Then tests.","leafUuid":"leaf1"}`)
	assert.Equal(t, model.KindSummary, ev.Kind)
	assert.Equal(t, "summary-leaf1", ev.ID)
	assert.False(t, ev.Payload.Compaction)
}

func TestClassify_UnknownTopLevel(t *testing.T) {
	ev := classifyLine(t, `{"type":"brand-new-kind","uuid":"n1","anything":{"nested":true}}`)
	assert.Equal(t, model.KindSystemEvent, ev.Kind)
	assert.Equal(t, "brand-new-kind", ev.Payload.Subtype)
	assert.NotEmpty(t, ev.Payload.Raw)
}

func TestClassify_BadTimestampIsZero(t *testing.T) {
	ev := classifyLine(t, `{"type":"user","uuid":"u1","timestamp":"yesterday","message":{"content":"x"}}`)
	assert.True(t, ev.Timestamp.IsZero())
}

func TestClassify_Totality(t *testing.T) {
	for _, rec := range []RawRecord{
		{},
		{Type: "user"},
		{Type: "assistant"},
		{Type: "system"},
		{Type: "progress"},
		{Type: "progress", Data: []byte(`[1,2]`)},
		{Type: "summary"},
		{Type: "queue-operation"},
		{Type: unrecognizedPrefix + "x"},
	} {
		ev := Classify(rec)
		assert.True(t, ev.Kind.Valid(), "record %+v", rec)
		assert.NotEmpty(t, ev.ID)
	}
}
