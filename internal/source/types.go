package source

import "github.com/goccy/go-json"

// RawRecord is one line of a Claude Code JSONL transcript. Only the fields
// the classifier looks at are decoded; Raw keeps the original bytes.
type RawRecord struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	UUID       string `json:"uuid,omitempty"`
	ParentUUID string `json:"parentUuid,omitempty"`
	LeafUUID   string `json:"leafUuid,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`

	Message *RawMessage     `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// For system entries with subtype "turn_duration"
	DurationMs int64 `json:"durationMs,omitempty"`

	IsCompactSummary bool   `json:"isCompactSummary,omitempty"`
	IsMeta           bool   `json:"isMeta,omitempty"`
	IsSidechain      bool   `json:"isSidechain,omitempty"`
	ToolUseID        string `json:"toolUseID,omitempty"`
	ParentToolUseID  string `json:"parentToolUseID,omitempty"`

	// Line is the 1-based line number within the transcript.
	Line int `json:"-"`
	// Raw holds the undecoded line.
	Raw json.RawMessage `json:"-"`
}

// RawMessage is the message envelope of user and assistant records.
type RawMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *RawUsage       `json:"usage,omitempty"`
}

// RawContentBlock is one element of a message content array.
type RawContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// RawUsage holds token counts from the API response.
type RawUsage struct {
	InputTokens              int64          `json:"input_tokens"`
	OutputTokens             int64          `json:"output_tokens"`
	CacheCreationInputTokens int64          `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64          `json:"cache_read_input_tokens"`
	CacheCreation            *CacheCreation `json:"cache_creation,omitempty"`
}

// CacheCreation holds the breakdown of cache write tokens by TTL bucket.
type CacheCreation struct {
	Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
}

// RawProgressData is the nested payload of "progress" records. The set of
// populated fields depends on Type.
type RawProgressData struct {
	Type string `json:"type"`

	HookEvent string `json:"hookEvent,omitempty"`
	HookName  string `json:"hookName,omitempty"`
	Command   string `json:"command,omitempty"`

	AgentID string `json:"agentId,omitempty"`
	Prompt  string `json:"prompt,omitempty"`

	Output             string  `json:"output,omitempty"`
	ElapsedTimeSeconds float64 `json:"elapsedTimeSeconds,omitempty"`

	ServerName string `json:"serverName,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Status     string `json:"status,omitempty"`

	Query       string `json:"query,omitempty"`
	ResultCount int    `json:"resultCount,omitempty"`
}

// SubagentFile is a subagent transcript that belongs to a parent conversation.
type SubagentFile struct {
	AgentID string
	Path    string
}

// DiscoveredFile represents a JSONL file found during directory scanning.
type DiscoveredFile struct {
	Path          string
	ProjectDir    string // encoded project directory name
	SessionID     string // extracted from filename
	IsSubagent    bool
	ParentSession string // for subagents: parent session UUID
}

// Conversation groups a main transcript with its subagent transcripts.
type Conversation struct {
	SessionID   string
	Path        string
	ProjectDir  string
	ProjectsDir string
	Subagents   []SubagentFile
}
