package plans

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

const authPlan = `# Auth rollout

1. Add JWT middleware to the router.
2. Store refresh tokens in the session table.
3. Write integration tests for login and logout flows.
`

func userMsg(id, text string) model.Event {
	return model.Event{ID: id, Kind: model.KindUserMessage, Payload: model.Payload{Text: text}}
}

func writeCall(id, path, content string) model.Event {
	in := map[string]any{"file_path": path}
	if content != "" {
		in["content"] = content
	}
	return model.Event{
		ID:   id,
		Kind: model.KindToolCall,
		Payload: model.Payload{
			ToolName:  "Write",
			ToolInput: in,
		},
	}
}

func TestValidate(t *testing.T) {
	opts := DefaultOptions()

	ok, why := Validate(authPlan, "", opts)
	assert.True(t, ok, why)

	short := strings.Repeat("x", 80)
	ok, why = Validate(short, "", opts)
	assert.False(t, ok)
	assert.Equal(t, RejectTooShort, why)

	ok, why = Validate(strings.Repeat("plain prose without structure ", 5), "", opts)
	assert.False(t, ok)
	assert.Equal(t, RejectNoHeading, why)

	ok, why = Validate(authPlan, "/repo/plans/auth.py", opts)
	assert.False(t, ok)
	assert.Equal(t, RejectCodeFile, why)

	code := "# helpers\n" + strings.Repeat("import os\nconst x = 1;\nfunction f() {\nreturn x;\n}\n", 4)
	ok, why = Validate(code, "", opts)
	assert.False(t, ok)
	assert.Equal(t, RejectCodeBody, why)
}

func TestValidate_FrontMatterIsNotAHeading(t *testing.T) {
	body := "---\ntitle: Migration\n---\n" + strings.Repeat("Move the tables over in small batches. ", 4)
	ok, why := Validate(body, "", DefaultOptions())
	assert.False(t, ok)
	assert.Equal(t, RejectNoHeading, why)
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "Auth rollout", ExtractTitle(authPlan, "/x/plans/foo.md"))
	assert.Equal(t, "Migration", ExtractTitle("---\ntitle: Migration\n---\nno heading here", ""))
	assert.Equal(t, "roadmap-plan", ExtractTitle("no heading", "/x/roadmap-plan.md"))
	assert.Equal(t, "Untitled plan", ExtractTitle("", ""))
}

func TestFingerprint_WhitespaceInsensitive(t *testing.T) {
	a := Fingerprint(authPlan)
	b := Fingerprint(strings.ReplaceAll(authPlan, "\n", "\n\n  "))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, "plan_"+a[:16], PlanID(a))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(authPlan, authPlan), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	assert.InDelta(t, 0.0, Similarity("alpha beta", ""), 1e-9)
	assert.InDelta(t, 1.0/3.0, Similarity("alpha beta", "beta gamma"), 1e-9)
}

func TestIsPlanPath(t *testing.T) {
	assert.True(t, IsPlanPath("/home/u/.claude/plans/quiet-river.md"))
	assert.True(t, IsPlanPath("/repo/docs/migration-plan.md"))
	assert.True(t, IsPlanPath("/repo/PLAN.markdown"))
	assert.False(t, IsPlanPath("/repo/planner.go"))
	assert.False(t, IsPlanPath("/repo/notes.md"))
	assert.False(t, IsPlanPath(""))
}

func TestExtract_Embedded(t *testing.T) {
	events := []model.Event{
		userMsg("u1", "Implement the following plan:\n\n"+authPlan),
		userMsg("u2", "thanks"),
	}
	res := Extract(events, false, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, model.PlanEmbedded, c.Source)
	assert.Equal(t, "Auth rollout", c.Title)
	assert.Equal(t, "u1", c.EventID)
	assert.True(t, strings.HasPrefix(c.Content, "# Auth rollout"))
}

func TestExtract_EmbeddedCaseInsensitiveTrigger(t *testing.T) {
	res := Extract([]model.Event{userMsg("u1", "  IMPLEMENT THE FOLLOWING PLAN:\n"+authPlan)}, false, DefaultOptions())
	assert.Len(t, res.Candidates, 1)
}

func TestExtract_EmbeddedMultiplePlans(t *testing.T) {
	second := strings.ReplaceAll(authPlan, "Auth rollout", "Billing cleanup")
	second = strings.ReplaceAll(second, "JWT", "Stripe")
	res := Extract([]model.Event{userMsg("u1", "Implement the following plan:\n"+authPlan+"\n"+second)}, false, DefaultOptions())
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Auth rollout", res.Candidates[0].Title)
	assert.Equal(t, "Billing cleanup", res.Candidates[1].Title)
}

func TestExtract_EmbeddedNoSplitWhenSegmentInvalid(t *testing.T) {
	body := authPlan + "\n# Notes\nshort\n"
	res := Extract([]model.Event{userMsg("u1", "Implement the following plan:\n"+body)}, false, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	assert.Contains(t, res.Candidates[0].Content, "# Notes")
}

func TestExtract_ShortEmbeddedRejected(t *testing.T) {
	res := Extract([]model.Event{userMsg("u1", "Implement the following plan: "+strings.Repeat("y", 80))}, false, DefaultOptions())
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 1, res.Rejected)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtract_Written(t *testing.T) {
	events := []model.Event{
		writeCall("a1", "/Users/a/.claude/plans/auth.md", authPlan),
		writeCall("a2", "/Users/a/src/main.go", "package main"),
	}
	res := Extract(events, false, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, model.PlanWritten, res.Candidates[0].Source)
	assert.Equal(t, "/Users/a/.claude/plans/auth.md", res.Candidates[0].OriginalPath)
}

func TestExtract_WrittenUnreadable(t *testing.T) {
	opts := DefaultOptions()
	opts.ReadFile = func(string) ([]byte, error) { return nil, errors.New("gone") }

	res := Extract([]model.Event{writeCall("a1", "/x/plans/lost-plan.md", "")}, false, opts)
	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.False(t, c.ContentAvailable)
	assert.Equal(t, "lost-plan", c.Title)
	assert.NotEmpty(t, c.Fingerprint)
	assert.Len(t, res.Warnings, 1)
}

func TestExtract_WrittenReadsFileWhenContentMissing(t *testing.T) {
	opts := DefaultOptions()
	opts.ReadFile = func(string) ([]byte, error) { return []byte(authPlan), nil }

	res := Extract([]model.Event{writeCall("a1", "/x/plans/auth.md", "")}, false, opts)
	require.Len(t, res.Candidates, 1)
	assert.True(t, res.Candidates[0].ContentAvailable)
	assert.Equal(t, Fingerprint(authPlan), res.Candidates[0].Fingerprint)
}

func TestExtract_AgentGenerated(t *testing.T) {
	exit := model.Event{
		ID:      "a9",
		Kind:    model.KindToolCall,
		Payload: model.Payload{ToolName: "ExitPlanMode", ToolInput: map[string]any{"plan": authPlan}},
	}
	res := Extract([]model.Event{exit}, false, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, model.PlanAgentGenerated, res.Candidates[0].Source)

	res = Extract([]model.Event{writeCall("s1", "/x/plans/sub.md", authPlan)}, true, DefaultOptions())
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, model.PlanAgentGenerated, res.Candidates[0].Source)
}

func TestExtract_RestatedPlanCountedOnce(t *testing.T) {
	events := []model.Event{
		writeCall("a1", "/x/plans/auth.md", authPlan),
		userMsg("u2", "Implement the following plan:\n"+authPlan),
	}
	res := Extract(events, false, DefaultOptions())
	assert.Len(t, res.Candidates, 1)
}

func candidate(content string, ts time.Time) Candidate {
	return newCandidate(content, "", model.PlanEmbedded, model.Event{ID: "e", Timestamp: ts})
}
