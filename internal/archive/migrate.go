package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
)

// MigrateReport summarizes a migration pass.
type MigrateReport struct {
	Reresolved int      `json:"reresolved"`
	Merged     int      `json:"merged"`
	MovedPlans int      `json:"movedPlans"`
	Advisories []string `json:"advisories,omitempty"`
}

// Migrate re-resolves every project against the authoritative sources,
// rewrites the identity on all of its manifests, moves plan copies whose
// project slug changed, and merges projects that turn out to share a
// canonical path. An authoritative identity is never downgraded.
func (ix *Index) Migrate(r *project.Resolver) (MigrateReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var rep MigrateReport

	for _, key := range ix.projectKeys() {
		entry := ix.projects[key]
		r.Forget(key)
		res := r.Resolve(key)

		if !res.Identity.Source.Authoritative() {
			if !entry.Identity.Source.Authoritative() {
				rep.Advisories = append(rep.Advisories, fmt.Sprintf("%s: %s", key, res.Advisory))
			}
			continue
		}
		if res.Identity == entry.Identity {
			continue
		}

		oldDir := planDirName(entry.Identity)
		ix.setIdentity(entry, res.Identity)
		rep.Reresolved++
		log.Info().Str("encoded_id", key).Str("path", res.Identity.CanonicalPath).Msg("project re-resolved")

		if newDir := planDirName(entry.Identity); newDir != oldDir {
			moved, advisories := ix.movePlanCopies(entry, oldDir, newDir)
			rep.MovedPlans += moved
			rep.Advisories = append(rep.Advisories, advisories...)
		}
	}

	rep.Merged = ix.mergeSamePath()
	return rep, nil
}

// mergeSamePath folds projects whose authoritative canonical paths are equal
// into one entry. The entry whose id is the path's own encoding is kept,
// otherwise the smallest id.
func (ix *Index) mergeSamePath() int {
	byPath := make(map[string][]string)
	for _, key := range ix.projectKeys() {
		id := ix.projects[key].Identity
		if id.Source.Authoritative() {
			byPath[id.CanonicalPath] = append(byPath[id.CanonicalPath], key)
		}
	}

	merged := 0
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		keys := byPath[path]
		if len(keys) < 2 {
			continue
		}
		primary := keys[0]
		for _, k := range keys {
			if k == project.Encode(path) {
				primary = k
			}
		}
		target := ix.projects[primary]

		for _, k := range keys {
			if k == primary {
				continue
			}
			src := ix.projects[k]
			for _, m := range src.Conversations {
				m.Project = target.Identity
				target.Conversations = append(target.Conversations, m)
				ix.convs[m.ConversationID] = primary
			}
			target.Aliases = appendUnique(target.Aliases, k)
			ix.aliases[k] = primary
			for _, a := range src.Aliases {
				target.Aliases = appendUnique(target.Aliases, a)
				ix.aliases[a] = primary
			}
			delete(ix.projects, k)
			merged++
			log.Info().Str("from", k).Str("into", primary).Msg("projects merged")
		}
		sort.Strings(target.Aliases)
		sortManifests(target.Conversations)
	}
	return merged
}

// movePlanCopies relocates global plan copies from plans/<oldDir> to
// plans/<newDir> and updates the references.
func (ix *Index) movePlanCopies(entry *ProjectEntry, oldDir, newDir string) (int, []string) {
	oldPrefix := filepath.Join(PlansDir, oldDir) + string(filepath.Separator)
	moved := 0
	var advisories []string

	for i := range entry.Conversations {
		refs := entry.Conversations[i].Plans
		for j := range refs {
			rel := refs[j].ArchivedPath
			if !strings.HasPrefix(rel, oldPrefix) {
				continue
			}
			newRel := filepath.Join(PlansDir, newDir, strings.TrimPrefix(rel, oldPrefix))
			ok, err := ix.moveFile(rel, newRel)
			if err != nil {
				advisories = append(advisories, fmt.Sprintf("plan copy %s not moved: %v", rel, err))
				continue
			}
			if ok {
				moved++
			}
			refs[j].ArchivedPath = newRel
		}
	}
	return moved, advisories
}

// moveFile renames root/from to root/to. It reports false when from was
// already moved by an earlier reference.
func (ix *Index) moveFile(from, to string) (bool, error) {
	src := filepath.Join(ix.root, from)
	dst := filepath.Join(ix.root, to)

	srcData, err := os.ReadFile(src) //nolint:gosec // archive-owned path
	if errors.Is(err, fs.ErrNotExist) {
		if fsutil.Exists(dst) {
			return false, nil
		}
		return false, err
	}
	if err != nil {
		return false, err
	}

	if dstData, err := os.ReadFile(dst); err == nil { //nolint:gosec // archive-owned path
		if !bytes.Equal(srcData, dstData) {
			return false, fmt.Errorf("%s already exists with different content", to)
		}
		return true, os.Remove(src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return false, err
	}
	return true, os.Rename(src, dst)
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// Identity returns the stored identity for an encoded id, following aliases.
func (ix *Index) Identity(encodedID string) (model.ProjectIdentity, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.projects[ix.primary(encodedID)]
	if !ok {
		return model.ProjectIdentity{}, false
	}
	return entry.Identity, true
}
