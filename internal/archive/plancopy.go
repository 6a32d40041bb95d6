package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
)

// LocalPlansDir is the project-local plan archive, relative to the project.
const LocalPlansDir = ".jacques/plans"

// PlanCopier writes plan copies to the global archive and, optionally, into
// the project itself.
type PlanCopier struct {
	Root         string
	ProjectLocal bool
}

// Copy writes cand's content and returns a reference with the archived and
// local paths filled in. ArchivedPath is relative to the archive root.
// Candidates without content are referenced but not copied.
func (c PlanCopier) Copy(id model.ProjectIdentity, cand plans.Candidate) (model.PlanRef, error) {
	ref := model.PlanRef{
		Title:        cand.Title,
		Source:       cand.Source,
		OriginalPath: cand.OriginalPath,
	}
	if !cand.ContentAvailable {
		return ref, nil
	}

	name := planFileName(cand)
	content := []byte(cand.Content + "\n")

	rel, err := placeCopy(c.Root, filepath.Join(PlansDir, planDirName(id)), name, cand.Fingerprint, content)
	if err != nil {
		return ref, fmt.Errorf("copying plan %q: %w", cand.Title, err)
	}
	ref.ArchivedPath = rel

	if c.ProjectLocal && id.Source.Authoritative() && fsutil.IsDir(id.CanonicalPath) {
		localRel, err := placeCopy(id.CanonicalPath, LocalPlansDir, name, cand.Fingerprint, content)
		if err != nil {
			return ref, fmt.Errorf("copying plan %q into project: %w", cand.Title, err)
		}
		ref.LocalPath = filepath.Join(id.CanonicalPath, localRel)
	}
	return ref, nil
}

// placeCopy writes content to base/dir/name, or to a fingerprint-suffixed
// name when a different file already holds that name. Identical content is
// left in place. Names are claimed with an exclusive create, so concurrent
// copies of different plans never share a file.
func placeCopy(base, dir, name, fingerprint string, content []byte) (string, error) {
	candidates := []string{name}
	if fingerprint != "" {
		ext := filepath.Ext(name)
		suffix := fingerprint
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		candidates = append(candidates, strings.TrimSuffix(name, ext)+"-"+suffix+ext)
	}

	for _, n := range candidates {
		rel := filepath.Join(dir, n)
		abs := filepath.Join(base, rel)
		created, err := fsutil.WriteFileExclusive(abs, content, 0o644)
		if err != nil {
			return "", err
		}
		if created {
			return rel, nil
		}
		existing, err := os.ReadFile(abs) //nolint:gosec // archive-owned path
		switch {
		case err == nil && bytes.Equal(existing, content):
			return rel, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
	}
	// Both names are taken by other content; the suffixed name is unique
	// to this fingerprint, so overwrite it.
	rel := filepath.Join(dir, candidates[len(candidates)-1])
	return rel, fsutil.WriteFileAtomic(filepath.Join(base, rel), content, 0o644)
}

func planFileName(cand plans.Candidate) string {
	if cand.OriginalPath != "" {
		return filepath.Base(cand.OriginalPath)
	}
	name := SanitizeLabel(cand.Title)
	if name == "" {
		name = "plan"
	}
	if len(name) > 60 {
		name = strings.TrimRight(name[:60], "-")
	}
	return name + ".md"
}

func planDirName(id model.ProjectIdentity) string {
	if s := SanitizeLabel(id.Slug); s != "" {
		return s
	}
	return "unknown"
}
