package model

import (
	"sort"
	"time"
)

// PlanSource says how a plan entered a conversation.
type PlanSource string

const (
	PlanEmbedded       PlanSource = "embedded"
	PlanWritten        PlanSource = "written"
	PlanAgentGenerated PlanSource = "agent-generated"
)

// PlanDocument is a deduplicated plan shared by any number of conversations.
type PlanDocument struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Fingerprint string     `json:"fingerprint"`
	Source      PlanSource `json:"source"`
	Content     string     `json:"content,omitempty"`
	// ContentAvailable is false when the plan file could not be read and the
	// document was recorded from metadata only.
	ContentAvailable bool `json:"contentAvailable"`
	ContentLength    int  `json:"contentLength"`
	// Variants lists every fingerprint merged into this document, including
	// Fingerprint itself.
	Variants  []string  `json:"variants"`
	Sessions  []string  `json:"sessions"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasSession reports whether id is already in the sessions set.
func (p *PlanDocument) HasSession(id string) bool {
	i := sort.SearchStrings(p.Sessions, id)
	return i < len(p.Sessions) && p.Sessions[i] == id
}

// AddSessions unions ids into the sessions set, keeping it sorted.
func (p *PlanDocument) AddSessions(ids ...string) bool {
	changed := false
	for _, id := range ids {
		if id == "" || p.HasSession(id) {
			continue
		}
		p.Sessions = append(p.Sessions, id)
		sort.Strings(p.Sessions)
		changed = true
	}
	return changed
}

// PlanRef links a manifest to a PlanDocument.
type PlanRef struct {
	PlanID       string     `json:"planId"`
	Title        string     `json:"title"`
	Source       PlanSource `json:"source"`
	OriginalPath string     `json:"originalPath,omitempty"`
	ArchivedPath string     `json:"archivedPath,omitempty"`
	LocalPath    string     `json:"localPath,omitempty"`
}
