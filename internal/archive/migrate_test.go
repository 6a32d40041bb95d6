package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/plans"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
)

func TestMigrate_ReresolvesAndMovesPlans(t *testing.T) {
	root := t.TempDir()
	ix := New(root, plans.DefaultOptions())

	heur := model.ProjectIdentity{
		EncodedID:     "-Users-a-proj-x",
		CanonicalPath: project.NaiveDecode("-Users-a-proj-x"),
		Slug:          project.HeuristicSlug("-Users-a-proj-x"),
		Source:        model.SourceHeuristic,
	}
	cand := written("/Users/a/proj-x/plans/auth.md", planText)
	ref, err := PlanCopier{Root: root}.Copy(heur, cand)
	require.NoError(t, err)
	_, err = ix.Commit(Commit{
		Manifest: manifest("c1", heur, t0, "x"),
		Plans:    []PendingPlan{{Candidate: cand, Ref: ref}},
	})
	require.NoError(t, err)

	// No sidecar yet: nothing changes, an advisory is reported.
	rep, err := ix.Migrate(project.NewResolver(func(string) (string, error) { return "", project.ErrNoSidecar }))
	require.NoError(t, err)
	assert.Zero(t, rep.Reresolved)
	assert.NotEmpty(t, rep.Advisories)

	// The sidecar appears.
	rep, err = ix.Migrate(project.NewResolver(func(string) (string, error) { return "/Users/a/proj-x", nil }))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reresolved)
	assert.Equal(t, 1, rep.MovedPlans)

	m, err := ix.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "/Users/a/proj-x", m.Project.CanonicalPath)
	assert.Equal(t, "proj-x", m.Project.Slug)
	assert.Equal(t, model.SourceSidecar, m.Project.Source)

	newPath := filepath.Join(root, m.Plans[0].ArchivedPath)
	assert.FileExists(t, newPath)
	assert.Contains(t, m.Plans[0].ArchivedPath, filepath.Join(PlansDir, "proj-x"))
	_, err = os.Stat(filepath.Join(root, ref.ArchivedPath))
	assert.True(t, os.IsNotExist(err))
}

func TestMigrate_MergesSamePath(t *testing.T) {
	ix := New(t.TempDir(), plans.DefaultOptions())
	current := identity("-Users-a-app", "/Users/a/app", model.SourceHeuristic)
	renamed := identity("-Users-a-old-app", "/Users/a/old/app", model.SourceHeuristic)
	require.NoError(t, ix.Append(manifest("c1", current, t0, "x")))
	require.NoError(t, ix.Append(manifest("c2", renamed, t0, "y")))

	// The old directory's sidecar points at the project's new location.
	rep, err := ix.Migrate(project.NewResolver(func(string) (string, error) { return "/Users/a/app", nil }))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Reresolved)
	assert.Equal(t, 1, rep.Merged)

	ps := ix.Projects()
	require.Len(t, ps, 1)
	assert.Equal(t, "-Users-a-app", ps[0].Identity.EncodedID)
	assert.Equal(t, []string{"-Users-a-old-app"}, ps[0].Aliases)
	assert.Equal(t, 2, ps[0].Conversations)

	assert.Len(t, ix.Query(Query{EncodedID: "-Users-a-old-app"}), 2)
	id, ok := ix.Identity("-Users-a-old-app")
	require.True(t, ok)
	assert.Equal(t, model.SourceSidecar, id.Source)
}
