package model

import "time"

// SummaryStats holds the top-level aggregate across archived conversations.
type SummaryStats struct {
	TotalProjects      int `json:"totalProjects"`
	TotalConversations int `json:"totalConversations"`
	TotalPlans         int `json:"totalPlans"`
	TotalEvents        int `json:"totalEvents"`
	ActiveDays         int `json:"activeDays"`
	Compactions        int `json:"compactions"`
	Subagents          int `json:"subagents"`

	EventCounts map[EventKind]int `json:"eventCounts"`
	Usage       TokenUsage        `json:"usage"`

	FullTokens         int64 `json:"fullTokens"`
	ReducedTokens      int64 `json:"reducedTokens"`
	MessagesOnlyTokens int64 `json:"messagesOnlyTokens"`

	FirstActivity time.Time `json:"firstActivity"`
	LastActivity  time.Time `json:"lastActivity"`

	ConversationsPerDay float64 `json:"conversationsPerDay"`
}

// ProjectStats holds aggregated metrics for a single project.
type ProjectStats struct {
	EncodedID     string           `json:"encodedId"`
	Slug          string           `json:"slug"`
	CanonicalPath string           `json:"canonicalPath"`
	Source        ResolutionSource `json:"source"`
	Conversations int              `json:"conversations"`
	Plans         int              `json:"plans"`
	Events        int              `json:"events"`
	Usage         TokenUsage       `json:"usage"`
	LastActivity  time.Time        `json:"lastActivity"`
}

// DailyStats holds conversation counts for a single calendar day.
type DailyStats struct {
	Date          time.Time `json:"date"`
	Conversations int       `json:"conversations"`
	Events        int       `json:"events"`
	Tokens        int64     `json:"tokens"`
}
