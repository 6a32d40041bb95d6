package model

import "time"

// TimeRange is the span covered by a conversation's events.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Include widens r to cover ts.
func (r *TimeRange) Include(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if r.Start.IsZero() || ts.Before(r.Start) {
		r.Start = ts
	}
	if r.End.IsZero() || ts.After(r.End) {
		r.End = ts
	}
}

// ViewEstimate is the token estimate for one filter mode.
type ViewEstimate struct {
	Events           int     `json:"events"`
	Tokens           int64   `json:"tokens"`
	ReductionPercent float64 `json:"reductionPercent"`
}

// TokenReport compares the three filter views of a conversation.
type TokenReport struct {
	Strategy string                  `json:"strategy"`
	Views    map[string]ViewEstimate `json:"views"`
}

// ConversationStats summarizes one conversation's event stream.
type ConversationStats struct {
	EventCounts map[EventKind]int `json:"eventCounts"`
	Usage       TokenUsage        `json:"usage"`
	Estimates   TokenReport       `json:"estimates"`
	DurationMs  int64             `json:"durationMs,omitempty"`
	Warnings    int               `json:"warnings,omitempty"`
}

// Manifest is the durable summary of one archived conversation.
type Manifest struct {
	ConversationID    string            `json:"conversationId"`
	Project           ProjectIdentity   `json:"project"`
	Title             string            `json:"title,omitempty"`
	TimeRange         TimeRange         `json:"timeRange"`
	Stats             ConversationStats `json:"statistics"`
	Plans             []PlanRef         `json:"plans"`
	SubagentRefs      []string          `json:"subagentRefs,omitempty"`
	HadAutoCompaction bool              `json:"hadAutoCompaction"`
	// Artifacts maps filter mode to the save artifact path, relative to the
	// archive root.
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	SourcePath string            `json:"sourcePath,omitempty"`
	Label      string            `json:"label,omitempty"`
}

// ShortID returns the first eight characters of the conversation id.
func (m Manifest) ShortID() string {
	return ShortID(m.ConversationID)
}

// ShortID truncates id to eight characters.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
