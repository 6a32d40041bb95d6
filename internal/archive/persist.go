package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
)

// SchemaVersion is the index format written by this package.
//
//	v1: flat list of manifests and a plan list
//	v2: projects keyed by encoded id with aliases, plans keyed by id
const SchemaVersion = 2

const (
	// IndexFile is the global catalog, relative to the archive root.
	IndexFile = "index.json"
	// ConversationsDir holds save artifacts and per-project index views.
	ConversationsDir = "conversations"
	// PlansDir holds the global plan copies.
	PlansDir = "plans"
	// LockFile guards the archive against a second writer.
	LockFile = "archive.lock"
)

type indexFile struct {
	Version  int                           `json:"version"`
	Projects map[string]*ProjectEntry      `json:"projects"`
	Plans    map[string]model.PlanDocument `json:"plans"`
	// PlanVariants holds the content of merged, non-canonical fingerprints.
	PlanVariants []plans.Variant `json:"planVariants,omitempty"`
}

type indexFileV1 struct {
	Version       int                  `json:"version"`
	Conversations []model.Manifest     `json:"conversations"`
	Plans         []model.PlanDocument `json:"plans"`
}

// projectView is the per-project index regenerated after each save.
type projectView struct {
	Version       int                   `json:"version"`
	Project       model.ProjectIdentity `json:"project"`
	Aliases       []string              `json:"aliases,omitempty"`
	Conversations []model.Manifest      `json:"conversations"`
}

// Open loads the index under root, migrating older schema versions. A
// missing index yields an empty one.
func Open(root string, opts plans.Options) (*Index, error) {
	ix := New(root, opts)
	path := filepath.Join(root, IndexFile)

	data, err := os.ReadFile(path) //nolint:gosec // archive-owned path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ix, nil
		}
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}

	switch {
	case head.Version == SchemaVersion:
		var f indexFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding index %s: %w", path, err)
		}
		ix.load(f)
	case head.Version <= 1:
		var f indexFileV1
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decoding v1 index %s: %w", path, err)
		}
		log.Info().Int("from", head.Version).Int("to", SchemaVersion).Msg("migrating archive index")
		ix.load(migrateV1(f))
	default:
		return nil, fmt.Errorf("%s has version %d, newest known is %d: %w",
			path, head.Version, SchemaVersion, ErrUnsupportedVersion)
	}
	return ix, nil
}

// migrateV1 regroups a flat manifest list by encoded project id.
func migrateV1(old indexFileV1) indexFile {
	f := indexFile{
		Version:  SchemaVersion,
		Projects: make(map[string]*ProjectEntry),
		Plans:    make(map[string]model.PlanDocument, len(old.Plans)),
	}
	for _, d := range old.Plans {
		if len(d.Variants) == 0 {
			d.Variants = []string{d.Fingerprint}
		}
		sort.Strings(d.Sessions)
		f.Plans[d.ID] = d
	}
	for _, m := range old.Conversations {
		key := m.Project.EncodedID
		if key == "" {
			continue
		}
		entry, ok := f.Projects[key]
		if !ok {
			entry = &ProjectEntry{Identity: m.Project}
			f.Projects[key] = entry
		}
		entry.Conversations = append(entry.Conversations, m)
	}
	return f
}

func (ix *Index) load(f indexFile) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	docs := make([]model.PlanDocument, 0, len(f.Plans))
	for _, d := range f.Plans {
		docs = append(docs, d)
	}
	ix.plans.Load(docs, f.PlanVariants...)

	for key, entry := range f.Projects {
		if entry == nil {
			continue
		}
		if entry.Identity.EncodedID == "" {
			entry.Identity.EncodedID = key
		}
		sortManifests(entry.Conversations)
		ix.projects[key] = entry
		for _, m := range entry.Conversations {
			ix.convs[m.ConversationID] = key
		}
		for _, a := range entry.Aliases {
			ix.aliases[a] = key
		}
	}
}

// Save writes the global index and regenerates every per-project view. Each
// file is replaced atomically, so a failed save leaves the previous version
// readable. Saves are serialized from snapshot to rename, so the files on
// disk always hold the snapshot of the last Save to return.
func (ix *Index) Save() error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	ix.mu.RLock()
	f := indexFile{
		Version:  SchemaVersion,
		Projects: make(map[string]*ProjectEntry, len(ix.projects)),
		Plans:    make(map[string]model.PlanDocument),
	}
	views := make(map[string]projectView, len(ix.projects))
	for key, entry := range ix.projects {
		cp := &ProjectEntry{
			Identity:      entry.Identity,
			Aliases:       append([]string(nil), entry.Aliases...),
			Conversations: make([]model.Manifest, len(entry.Conversations)),
		}
		for i, m := range entry.Conversations {
			cp.Conversations[i] = cloneManifest(m)
		}
		f.Projects[key] = cp
		views[key] = projectView{
			Version:       SchemaVersion,
			Project:       cp.Identity,
			Aliases:       cp.Aliases,
			Conversations: cp.Conversations,
		}
	}
	// Commits update the catalog under ix.mu, so plans match the manifests.
	for _, d := range ix.plans.List() {
		f.Plans[d.ID] = d
	}
	f.PlanVariants = ix.plans.Variants()
	ix.mu.RUnlock()

	if err := fsutil.WriteJSONAtomic(filepath.Join(ix.root, IndexFile), f, true); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	for key, v := range views {
		path := filepath.Join(ix.root, ConversationsDir, key, IndexFile)
		if err := fsutil.WriteJSONAtomic(path, v, true); err != nil {
			return fmt.Errorf("saving project index %s: %w", key, err)
		}
	}
	return nil
}
