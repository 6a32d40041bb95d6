package archive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Query selects manifests. Zero fields match everything.
type Query struct {
	// EncodedID restricts results to one project. Aliases are accepted.
	EncodedID string
	// Keyword is matched case-insensitively against title, ids, label,
	// project slug and path, and plan titles.
	Keyword string
	// Since and Until bound the conversation's time range, inclusive.
	Since time.Time
	Until time.Time
	Limit int
}

// Query returns matching manifests, newest first.
func (ix *Index) Query(q Query) []model.Manifest {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	keys := ix.projectKeys()
	if q.EncodedID != "" {
		keys = []string{ix.primary(q.EncodedID)}
	}
	kw := strings.ToLower(strings.TrimSpace(q.Keyword))

	var out []model.Manifest
	for _, key := range keys {
		entry, ok := ix.projects[key]
		if !ok {
			continue
		}
		for _, m := range entry.Conversations {
			if !inRange(m.TimeRange, q.Since, q.Until) {
				continue
			}
			if kw != "" && !matchesKeyword(m, kw) {
				continue
			}
			out = append(out, cloneManifest(m))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].TimeRange.Start, out[j].TimeRange.Start
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func inRange(r model.TimeRange, since, until time.Time) bool {
	if !since.IsZero() {
		end := r.End
		if end.IsZero() {
			end = r.Start
		}
		if end.IsZero() || end.Before(since) {
			return false
		}
	}
	if !until.IsZero() {
		if r.Start.IsZero() || r.Start.After(until) {
			return false
		}
	}
	return true
}

func matchesKeyword(m model.Manifest, kw string) bool {
	fields := []string{
		m.Title, m.ConversationID, m.Label,
		m.Project.Slug, m.Project.CanonicalPath, m.Project.EncodedID,
	}
	for _, p := range m.Plans {
		fields = append(fields, p.Title)
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), kw) {
			return true
		}
	}
	return false
}

// ProjectSummary is one row of the project listing.
type ProjectSummary struct {
	Identity      model.ProjectIdentity `json:"identity"`
	Aliases       []string              `json:"aliases,omitempty"`
	Conversations int                   `json:"conversations"`
	Plans         int                   `json:"plans"`
	LastActivity  time.Time             `json:"lastActivity"`
}

// Projects lists projects ordered by slug, then encoded id. Slugs are not
// unique; the encoded id tells same-named projects apart.
func (ix *Index) Projects() []ProjectSummary {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]ProjectSummary, 0, len(ix.projects))
	for _, key := range ix.projectKeys() {
		entry := ix.projects[key]
		ps := ProjectSummary{
			Identity:      entry.Identity,
			Aliases:       append([]string(nil), entry.Aliases...),
			Conversations: len(entry.Conversations),
		}
		planIDs := make(map[string]bool)
		for _, m := range entry.Conversations {
			for _, p := range m.Plans {
				planIDs[p.PlanID] = true
			}
			if m.TimeRange.End.After(ps.LastActivity) {
				ps.LastActivity = m.TimeRange.End
			}
		}
		ps.Plans = len(planIDs)
		out = append(out, ps)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Identity.Slug != out[j].Identity.Slug {
			return out[i].Identity.Slug < out[j].Identity.Slug
		}
		return out[i].Identity.EncodedID < out[j].Identity.EncodedID
	})
	return out
}

// Project returns one project's entry, resolving aliases.
func (ix *Index) Project(encodedID string) (ProjectSummary, error) {
	primary := func() string {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		return ix.primary(encodedID)
	}()
	for _, p := range ix.Projects() {
		if p.Identity.EncodedID == primary {
			return p, nil
		}
	}
	return ProjectSummary{}, fmt.Errorf("project %s: %w", encodedID, ErrNotFound)
}
