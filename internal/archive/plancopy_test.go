package archive

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
)

func written(path, content string) plans.Candidate {
	return plans.Candidate{
		Title:            plans.ExtractTitle(content, path),
		Content:          content,
		Fingerprint:      plans.Fingerprint(content),
		Source:           model.PlanWritten,
		ContentAvailable: true,
		OriginalPath:     path,
	}
}

func TestPlanCopier_GlobalAndLocal(t *testing.T) {
	root := t.TempDir()
	projDir := t.TempDir()
	id := identity("-x", projDir, model.SourceSidecar)

	c := PlanCopier{Root: root, ProjectLocal: true}
	ref, err := c.Copy(id, written("/home/u/.claude/plans/auth.md", planText))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(PlansDir, planDirName(id), "auth.md"), ref.ArchivedPath)
	assert.FileExists(t, filepath.Join(root, ref.ArchivedPath))
	assert.Equal(t, filepath.Join(projDir, LocalPlansDir, "auth.md"), ref.LocalPath)
	assert.FileExists(t, ref.LocalPath)
}

func TestPlanCopier_NoLocalCopyForHeuristicIdentity(t *testing.T) {
	projDir := t.TempDir()
	id := identity("-x", projDir, model.SourceHeuristic)

	ref, err := PlanCopier{Root: t.TempDir(), ProjectLocal: true}.Copy(id, written("/p/plans/a.md", planText))
	require.NoError(t, err)
	assert.Empty(t, ref.LocalPath)
	assert.NoDirExists(t, filepath.Join(projDir, ".jacques"))
}

func TestPlanCopier_ConflictsGetSuffix(t *testing.T) {
	root := t.TempDir()
	c := PlanCopier{Root: root}
	other := planText + "\n4. Ship it."

	first, err := c.Copy(projA, written("/p/plans/auth.md", planText))
	require.NoError(t, err)
	again, err := c.Copy(projA, written("/p/plans/auth.md", planText))
	require.NoError(t, err)
	assert.Equal(t, first.ArchivedPath, again.ArchivedPath, "identical content reuses the file")

	second, err := c.Copy(projA, written("/q/plans/auth.md", other))
	require.NoError(t, err)
	assert.NotEqual(t, first.ArchivedPath, second.ArchivedPath)
	assert.Equal(t, "auth-"+plans.Fingerprint(other)[:8]+".md", filepath.Base(second.ArchivedPath))

	b, err := os.ReadFile(filepath.Join(root, first.ArchivedPath))
	require.NoError(t, err)
	assert.Equal(t, planText+"\n", string(b))
}

func TestPlanCopier_ConcurrentSameNameKeepsContent(t *testing.T) {
	cands := []plans.Candidate{
		written("/x/plans/PLAN.md", planText),
		written("/x/plans/PLAN.md", planText+"\n4. Ship it."),
	}
	for trial := 0; trial < 20; trial++ {
		c := PlanCopier{Root: t.TempDir()}
		refs := make([]model.PlanRef, len(cands))

		var wg sync.WaitGroup
		for i, cand := range cands {
			i, cand := i, cand
			wg.Add(1)
			go func() {
				defer wg.Done()
				ref, err := c.Copy(projA, cand)
				assert.NoError(t, err)
				refs[i] = ref
			}()
		}
		wg.Wait()

		assert.NotEqual(t, refs[0].ArchivedPath, refs[1].ArchivedPath, "trial %d", trial)
		for i, ref := range refs {
			b, err := os.ReadFile(filepath.Join(c.Root, ref.ArchivedPath))
			require.NoError(t, err)
			assert.Equal(t, cands[i].Content+"\n", string(b), "trial %d", trial)
		}
	}
}

func TestPlanCopier_UnavailableContentNotCopied(t *testing.T) {
	cand := plans.Candidate{Title: "lost", OriginalPath: "/p/plans/lost.md", Source: model.PlanWritten, Fingerprint: "f"}
	ref, err := PlanCopier{Root: t.TempDir()}.Copy(projA, cand)
	require.NoError(t, err)
	assert.Empty(t, ref.ArchivedPath)
	assert.Equal(t, "/p/plans/lost.md", ref.OriginalPath)
}

func TestPlanCopier_EmbeddedNameFromTitle(t *testing.T) {
	cand := written("", planText)
	cand.Source = model.PlanEmbedded
	ref, err := PlanCopier{Root: t.TempDir()}.Copy(projA, cand)
	require.NoError(t, err)
	assert.Equal(t, "auth-rollout.md", filepath.Base(ref.ArchivedPath))
}
