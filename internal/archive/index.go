// Package archive maintains the catalog of archived conversations, their
// plan documents, and the save artifacts on disk.
//
// The index is a cache derived from the artifacts and plan copies: callers
// write those first and commit to the index only after the writes succeed.
package archive

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
)

var (
	// ErrNotFound is returned when a conversation or plan id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrUnresolvedPlan is returned when a manifest references a plan the
	// catalog does not hold.
	ErrUnresolvedPlan = errors.New("plan reference does not resolve")
	// ErrUnsupportedVersion is returned for index files written by a newer
	// schema.
	ErrUnsupportedVersion = errors.New("unsupported index version")
)

// ProjectEntry groups a project's manifests under its primary encoded id.
type ProjectEntry struct {
	Identity model.ProjectIdentity `json:"identity"`
	// Aliases are other encoded ids found to resolve to the same path.
	Aliases       []string         `json:"aliases,omitempty"`
	Conversations []model.Manifest `json:"conversations"`
}

// PendingPlan is a plan candidate whose copies were written but which has
// not been folded into the catalog yet.
type PendingPlan struct {
	Candidate plans.Candidate
	Ref       model.PlanRef
}

// Commit is everything the index needs for one processed conversation.
type Commit struct {
	Manifest model.Manifest
	Plans    []PendingPlan
}

// Index is the in-memory archive catalog. It is safe for concurrent use;
// mutations are serialized.
type Index struct {
	root string

	saveMu sync.Mutex

	mu       sync.RWMutex
	projects map[string]*ProjectEntry
	aliases  map[string]string // alias encoded id -> primary encoded id
	convs    map[string]string // conversation id -> primary encoded id
	plans    *plans.Catalog
}

// New returns an empty index rooted at root.
func New(root string, opts plans.Options) *Index {
	return &Index{
		root:     root,
		projects: make(map[string]*ProjectEntry),
		aliases:  make(map[string]string),
		convs:    make(map[string]string),
		plans:    plans.NewCatalog(opts),
	}
}

// Root returns the archive directory.
func (ix *Index) Root() string { return ix.root }

// Plans returns the plan catalog.
func (ix *Index) Plans() *plans.Catalog { return ix.plans }

// Commit folds a conversation's plans into the catalog, fills in the plan
// ids on its manifest, and appends it. The manifest becomes visible in one
// step; a failed commit leaves no trace of it.
func (ix *Index) Commit(c Commit) (model.Manifest, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	m := c.Manifest
	convID := m.ConversationID
	if convID == "" || m.Project.EncodedID == "" {
		return model.Manifest{}, errors.New("commit: manifest needs a conversation and project id")
	}

	previous := make(map[string]bool)
	if old, ok := ix.lookup(convID); ok {
		for _, ref := range old.Plans {
			previous[ref.PlanID] = true
		}
	}

	m.Plans = make([]model.PlanRef, 0, len(c.Plans))
	current := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		obs := ix.plans.Observe(p.Candidate, convID)
		for _, from := range obs.Absorbed {
			ix.renamePlan(from, obs.Doc.ID)
			if previous[from] {
				delete(previous, from)
				previous[obs.Doc.ID] = true
			}
			if current[from] {
				delete(current, from)
				current[obs.Doc.ID] = true
				m.Plans = renamePlanRef(m.Plans, from, obs.Doc.ID)
			}
		}
		ref := p.Ref
		ref.PlanID = obs.Doc.ID
		if ref.Title == "" {
			ref.Title = obs.Doc.Title
		}
		if current[ref.PlanID] {
			continue
		}
		current[ref.PlanID] = true
		m.Plans = append(m.Plans, ref)
	}

	// Plans this conversation no longer contains stop listing it.
	for id := range previous {
		if !current[id] {
			ix.plans.RemoveSession(id, convID)
		}
	}

	stored, err := ix.appendLocked(m)
	if err != nil {
		return model.Manifest{}, err
	}
	return cloneManifest(stored), nil
}

// Append adds or replaces a manifest. It is idempotent by conversation id:
// appending the same conversation twice leaves one entry.
func (ix *Index) Append(m model.Manifest) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.appendLocked(cloneManifest(m))
	return err
}

func (ix *Index) appendLocked(m model.Manifest) (model.Manifest, error) {
	if m.ConversationID == "" {
		return m, errors.New("append: empty conversation id")
	}
	if m.Project.EncodedID == "" {
		return m, fmt.Errorf("append %s: empty project id", m.ConversationID)
	}
	for i, ref := range m.Plans {
		id, ok := ix.plans.Canonical(ref.PlanID)
		if !ok {
			return m, fmt.Errorf("append %s: %w: %s", m.ConversationID, ErrUnresolvedPlan, ref.PlanID)
		}
		m.Plans[i].PlanID = id
	}

	ix.removeLocked(m.ConversationID)

	key := ix.primary(m.Project.EncodedID)
	entry, ok := ix.projects[key]
	if !ok {
		entry = &ProjectEntry{Identity: m.Project}
		ix.projects[key] = entry
	} else if !entry.Identity.Source.Authoritative() && m.Project.Source.Authoritative() {
		ix.setIdentity(entry, m.Project)
	}
	m.Project = entry.Identity

	entry.Conversations = append(entry.Conversations, m)
	sortManifests(entry.Conversations)
	ix.convs[m.ConversationID] = key
	return m, nil
}

// Remove deletes a conversation's manifest. Plan documents are kept.
func (ix *Index) Remove(convID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(convID)
}

func (ix *Index) removeLocked(convID string) bool {
	key, ok := ix.convs[convID]
	if !ok {
		return false
	}
	delete(ix.convs, convID)
	entry := ix.projects[key]
	for i := range entry.Conversations {
		if entry.Conversations[i].ConversationID == convID {
			entry.Conversations = append(entry.Conversations[:i], entry.Conversations[i+1:]...)
			return true
		}
	}
	return false
}

// IsArchived reports whether the conversation has a manifest.
func (ix *Index) IsArchived(convID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.convs[convID]
	return ok
}

// Get returns the manifest for convID.
func (ix *Index) Get(convID string) (model.Manifest, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.lookup(convID)
	if !ok {
		return model.Manifest{}, fmt.Errorf("conversation %s: %w", convID, ErrNotFound)
	}
	return cloneManifest(m), nil
}

// Plan returns a plan document by id, following merged variants.
func (ix *Index) Plan(id string) (model.PlanDocument, error) {
	canonical, ok := ix.plans.Canonical(id)
	if !ok {
		return model.PlanDocument{}, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	doc, _ := ix.plans.Get(canonical)
	return doc, nil
}

// Len returns the number of archived conversations.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.convs)
}

// Manifests returns every manifest in canonical order: by project id, then
// start time, then conversation id.
func (ix *Index) Manifests() []model.Manifest {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]model.Manifest, 0, len(ix.convs))
	for _, key := range ix.projectKeys() {
		for _, m := range ix.projects[key].Conversations {
			out = append(out, cloneManifest(m))
		}
	}
	return out
}

func (ix *Index) lookup(convID string) (model.Manifest, bool) {
	key, ok := ix.convs[convID]
	if !ok {
		return model.Manifest{}, false
	}
	for _, m := range ix.projects[key].Conversations {
		if m.ConversationID == convID {
			return m, true
		}
	}
	return model.Manifest{}, false
}

func (ix *Index) primary(encodedID string) string {
	if p, ok := ix.aliases[encodedID]; ok {
		return p
	}
	return encodedID
}

func (ix *Index) setIdentity(entry *ProjectEntry, id model.ProjectIdentity) {
	id.EncodedID = entry.Identity.EncodedID
	entry.Identity = id
	for i := range entry.Conversations {
		entry.Conversations[i].Project = id
	}
}

// renamePlanRef points refs at id from to id to, keeping one ref per id.
func renamePlanRef(refs []model.PlanRef, from, to string) []model.PlanRef {
	out := refs[:0]
	seen := false
	for _, ref := range refs {
		if ref.PlanID == from {
			ref.PlanID = to
		}
		if ref.PlanID == to {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, ref)
	}
	return out
}

// renamePlan rewrites references after a plan moved to a new id.
func (ix *Index) renamePlan(from, to string) {
	for _, entry := range ix.projects {
		for i := range entry.Conversations {
			for j := range entry.Conversations[i].Plans {
				if entry.Conversations[i].Plans[j].PlanID == from {
					entry.Conversations[i].Plans[j].PlanID = to
				}
			}
		}
	}
}

func (ix *Index) projectKeys() []string {
	keys := make([]string, 0, len(ix.projects))
	for k := range ix.projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortManifests(ms []model.Manifest) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i].TimeRange.Start, ms[j].TimeRange.Start
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ms[i].ConversationID < ms[j].ConversationID
	})
}

func cloneManifest(m model.Manifest) model.Manifest {
	m.Plans = append([]model.PlanRef(nil), m.Plans...)
	m.SubagentRefs = append([]string(nil), m.SubagentRefs...)
	if m.Artifacts != nil {
		a := make(map[string]string, len(m.Artifacts))
		for k, v := range m.Artifacts {
			a[k] = v
		}
		m.Artifacts = a
	}
	if m.Stats.EventCounts != nil {
		c := make(map[model.EventKind]int, len(m.Stats.EventCounts))
		for k, v := range m.Stats.EventCounts {
			c[k] = v
		}
		m.Stats.EventCounts = c
	}
	return m
}
