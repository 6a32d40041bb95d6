package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

func statsManifest(id, encoded, slug string, start time.Time, plans ...string) model.Manifest {
	m := model.Manifest{
		ConversationID: id,
		Project:        model.ProjectIdentity{EncodedID: encoded, Slug: slug, Source: model.SourceSidecar},
		TimeRange:      model.TimeRange{Start: start, End: start.Add(time.Hour)},
		Stats: model.ConversationStats{
			EventCounts: map[model.EventKind]int{model.KindUserMessage: 2, model.KindToolCall: 3},
			Usage:       model.TokenUsage{InputTokens: 100, OutputTokens: 10},
			Estimates: model.TokenReport{Views: map[string]model.ViewEstimate{
				"full": {Tokens: 1000}, "reduced": {Tokens: 400}, "messages-only": {Tokens: 100},
			}},
		},
	}
	for _, p := range plans {
		m.Plans = append(m.Plans, model.PlanRef{PlanID: p})
	}
	return m
}

func sampleManifests() []model.Manifest {
	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)
	a := statsManifest("c1", "-w-api", "api", day1, "plan_a")
	a.HadAutoCompaction = true
	a.SubagentRefs = []string{"x1", "x2"}
	return []model.Manifest{
		a,
		statsManifest("c2", "-w-api", "api", day1.Add(2*time.Hour), "plan_a", "plan_b"),
		statsManifest("c3", "-h-api", "api", day2),
	}
}

func TestAggregate(t *testing.T) {
	s := Aggregate(sampleManifests(), time.Time{}, time.Time{})
	assert.Equal(t, 3, s.TotalConversations)
	assert.Equal(t, 2, s.TotalProjects)
	assert.Equal(t, 2, s.TotalPlans)
	assert.Equal(t, 15, s.TotalEvents)
	assert.Equal(t, 9, s.EventCounts[model.KindToolCall])
	assert.Equal(t, int64(300), s.Usage.InputTokens)
	assert.Equal(t, 1, s.Compactions)
	assert.Equal(t, 2, s.Subagents)
	assert.Equal(t, int64(3000), s.FullTokens)
	assert.Equal(t, int64(300), s.MessagesOnlyTokens)
	assert.Equal(t, 2, s.ActiveDays)
	assert.InDelta(t, 1.5, s.ConversationsPerDay, 1e-9)
}

func TestAggregate_TimeFilter(t *testing.T) {
	ms := sampleManifests()
	since := ms[2].TimeRange.Start
	s := Aggregate(ms, since, time.Time{})
	assert.Equal(t, 1, s.TotalConversations)
}

func TestAggregateProjects_KeyedByEncodedID(t *testing.T) {
	ps := AggregateProjects(sampleManifests(), time.Time{}, time.Time{})
	require.Len(t, ps, 2)
	assert.Equal(t, "-w-api", ps[0].EncodedID)
	assert.Equal(t, 2, ps[0].Conversations)
	assert.Equal(t, 2, ps[0].Plans)
	assert.Equal(t, "-h-api", ps[1].EncodedID)
	assert.Equal(t, ps[0].Slug, ps[1].Slug)
}

func TestAggregateDays_FillsGaps(t *testing.T) {
	ms := sampleManifests()
	since := ms[0].TimeRange.Start.AddDate(0, 0, -1)
	until := ms[2].TimeRange.Start.AddDate(0, 0, 1)
	days := AggregateDays(ms, since, until)
	require.Len(t, days, 4)
	assert.True(t, days[0].Date.After(days[1].Date))
	total := 0
	for _, d := range days {
		total += d.Conversations
	}
	assert.Equal(t, 3, total)
}

func TestFilterByProject(t *testing.T) {
	assert.Len(t, FilterByProject(sampleManifests(), "-W-"), 2)
	assert.Len(t, FilterByProject(sampleManifests(), ""), 3)
}
