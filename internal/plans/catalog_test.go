package plans

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

type CatalogSuite struct {
	suite.Suite
	cat *Catalog
	t0  time.Time
}

func (s *CatalogSuite) SetupTest() {
	s.cat = NewCatalog(DefaultOptions())
	s.t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

func (s *CatalogSuite) TestExactMatchUnionsSessions() {
	first := s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	s.Equal(OutcomeCreated, first.Outcome)

	// Whitespace-only differences share a fingerprint.
	again := candidate(strings.ReplaceAll(authPlan, "\n", "\n   "), s.t0.Add(time.Hour))
	second := s.cat.Observe(again, "sess-b")

	s.Equal(OutcomeExact, second.Outcome)
	s.Equal(first.Doc.ID, second.Doc.ID)
	s.Equal([]string{"sess-a", "sess-b"}, second.Doc.Sessions)
	s.Equal(s.t0, second.Doc.CreatedAt)
	s.Equal(s.t0.Add(time.Hour), second.Doc.UpdatedAt)
	s.Equal(1, s.cat.Len())
}

func (s *CatalogSuite) TestExactMatchIsIdempotent() {
	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	obs := s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	s.Equal([]string{"sess-a"}, obs.Doc.Sessions)
}

func (s *CatalogSuite) TestNearDuplicateMerged() {
	edited := strings.Replace(authPlan, "logout flows.", "logout flows carefully.", 1)
	s.Require().NotEqual(Fingerprint(authPlan), Fingerprint(edited))

	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	obs := s.cat.Observe(candidate(edited, s.t0), "sess-b")

	s.Equal(OutcomeNear, obs.Outcome)
	s.GreaterOrEqual(obs.Score, 0.9)
	s.Equal(1, s.cat.Len())
	s.Len(obs.Doc.Variants, 2)
	s.Equal([]string{"sess-a", "sess-b"}, obs.Doc.Sessions)

	// Either variant resolves to the merged document.
	id, ok := s.cat.Canonical(PlanID(Fingerprint(edited)))
	s.True(ok)
	s.Equal(obs.Doc.ID, id)
	id, ok = s.cat.Canonical(PlanID(Fingerprint(authPlan)))
	s.True(ok)
	s.Equal(obs.Doc.ID, id)
}

func (s *CatalogSuite) TestNearDuplicateOrderIndependent() {
	edited := strings.Replace(authPlan, "logout flows.", "logout flows carefully.", 1)

	other := NewCatalog(DefaultOptions())
	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	s.cat.Observe(candidate(edited, s.t0), "sess-b")
	other.Observe(candidate(edited, s.t0), "sess-b")
	other.Observe(candidate(authPlan, s.t0), "sess-a")

	s.Equal(s.cat.List(), other.List())
}

// chainPlans returns three plans where a~b and b~c reach the merge threshold
// but a~c does not.
func chainPlans() (a, b, c string) {
	b = "# Cache warmup\n\nPrime the cache before traffic shifts, then verify hit ratios during the rollout window safely."
	return b + "\nMonitor.", b, b + "\nAlert."
}

func (s *CatalogSuite) TestNearDuplicateChainOrderIndependent() {
	a, b, c := chainPlans()
	s.Require().GreaterOrEqual(Similarity(a, b), 0.9)
	s.Require().GreaterOrEqual(Similarity(b, c), 0.9)
	s.Require().Less(Similarity(a, c), 0.9)

	content := map[string]string{"sess-a": a, "sess-b": b, "sess-c": c}
	orders := [][]string{
		{"sess-a", "sess-b", "sess-c"},
		{"sess-a", "sess-c", "sess-b"},
		{"sess-b", "sess-a", "sess-c"},
		{"sess-b", "sess-c", "sess-a"},
		{"sess-c", "sess-a", "sess-b"},
		{"sess-c", "sess-b", "sess-a"},
	}

	var want []model.PlanDocument
	for _, order := range orders {
		cat := NewCatalog(DefaultOptions())
		for _, sess := range order {
			cat.Observe(candidate(content[sess], s.t0), sess)
		}
		got := cat.List()
		s.Require().Len(got, 1, "order %v", order)
		s.Equal([]string{"sess-a", "sess-b", "sess-c"}, got[0].Sessions, "order %v", order)
		s.Len(got[0].Variants, 3, "order %v", order)
		if want == nil {
			want = got
			continue
		}
		s.Equal(want, got, "order %v", order)
	}
}

func (s *CatalogSuite) TestBridgeCandidateJoinsDocuments() {
	a, b, c := chainPlans()
	first := s.cat.Observe(candidate(a, s.t0), "sess-a")
	third := s.cat.Observe(candidate(c, s.t0), "sess-c")
	s.Require().Equal(2, s.cat.Len())

	obs := s.cat.Observe(candidate(b, s.t0), "sess-b")
	s.Equal(OutcomeNear, obs.Outcome)
	s.GreaterOrEqual(obs.Score, 0.9)
	s.Equal(1, s.cat.Len())

	for _, id := range []string{first.Doc.ID, third.Doc.ID} {
		got, ok := s.cat.Canonical(id)
		s.True(ok, id)
		s.Equal(obs.Doc.ID, got, id)
		if id != obs.Doc.ID {
			s.Contains(obs.Absorbed, id)
		}
	}
}

func (s *CatalogSuite) TestLoadKeepsVariantContent() {
	a, b, c := chainPlans()
	s.cat.Observe(candidate(a, s.t0), "sess-a")
	s.cat.Observe(candidate(b, s.t0), "sess-b")

	variants := s.cat.Variants()
	s.Require().Len(variants, 1)
	s.NotEqual(s.cat.List()[0].Fingerprint, variants[0].Fingerprint)

	fresh := NewCatalog(DefaultOptions())
	fresh.Load(s.cat.List(), variants...)
	s.Equal(variants, fresh.Variants())

	// c only matches b, which may be the non-canonical variant.
	obs := fresh.Observe(candidate(c, s.t0), "sess-c")
	s.Equal(OutcomeNear, obs.Outcome)
	s.Equal(1, fresh.Len())
	s.Equal([]string{"sess-a", "sess-b", "sess-c"}, obs.Doc.Sessions)
}

func (s *CatalogSuite) TestDifferentTitleNotMerged() {
	renamed := strings.Replace(authPlan, "# Auth rollout", "# Auth rollback", 1)
	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	obs := s.cat.Observe(candidate(renamed, s.t0), "sess-b")
	s.Equal(OutcomeCreated, obs.Outcome)
	s.Equal(2, s.cat.Len())
}

func (s *CatalogSuite) TestLengthOutsideToleranceNotMerged() {
	longer := authPlan + strings.Repeat("\nAdd more login tests for the router session table.", 4)
	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	obs := s.cat.Observe(candidate(longer, s.t0), "sess-b")
	s.Equal(OutcomeCreated, obs.Outcome)
}

func (s *CatalogSuite) TestLoadRoundTrip() {
	s.cat.Observe(candidate(authPlan, s.t0), "sess-a")
	docs := s.cat.List()

	fresh := NewCatalog(DefaultOptions())
	fresh.Load(docs)
	obs := fresh.Observe(candidate(authPlan, s.t0), "sess-b")
	s.Equal(OutcomeExact, obs.Outcome)
	s.Equal(model.PlanEmbedded, obs.Doc.Source)
	s.Equal(2, len(obs.Doc.Sessions))
}

func (s *CatalogSuite) TestSourcePrecedence() {
	c := candidate(authPlan, s.t0)
	c.Source = model.PlanAgentGenerated
	s.cat.Observe(c, "sess-a")
	c.Source = model.PlanWritten
	obs := s.cat.Observe(c, "sess-b")
	s.Equal(model.PlanWritten, obs.Doc.Source)
}
