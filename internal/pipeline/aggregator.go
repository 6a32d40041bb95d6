package pipeline

import (
	"sort"
	"strings"
	"time"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

// Aggregate computes summary statistics from archived manifests, filtered to
// conversations starting within [since, until).
func Aggregate(manifests []model.Manifest, since, until time.Time) model.SummaryStats {
	filtered := FilterByTime(manifests, since, until)

	stats := model.SummaryStats{EventCounts: make(map[model.EventKind]int)}
	activeDays := make(map[string]struct{})
	projects := make(map[string]struct{})
	planIDs := make(map[string]struct{})

	for _, m := range filtered {
		stats.TotalConversations++
		projects[m.Project.EncodedID] = struct{}{}
		for _, p := range m.Plans {
			planIDs[p.PlanID] = struct{}{}
		}
		for k, n := range m.Stats.EventCounts {
			stats.EventCounts[k] += n
			stats.TotalEvents += n
		}
		stats.Usage.Add(m.Stats.Usage)
		stats.Subagents += len(m.SubagentRefs)
		if m.HadAutoCompaction {
			stats.Compactions++
		}

		views := m.Stats.Estimates.Views
		stats.FullTokens += views[string(filter.Full)].Tokens
		stats.ReducedTokens += views[string(filter.Reduced)].Tokens
		stats.MessagesOnlyTokens += views[string(filter.MessagesOnly)].Tokens

		start := m.TimeRange.Start
		if start.IsZero() {
			continue
		}
		activeDays[start.Local().Format("2006-01-02")] = struct{}{}
		if stats.FirstActivity.IsZero() || start.Before(stats.FirstActivity) {
			stats.FirstActivity = start
		}
		if end := m.TimeRange.End; end.After(stats.LastActivity) {
			stats.LastActivity = end
		}
	}

	stats.TotalProjects = len(projects)
	stats.TotalPlans = len(planIDs)
	stats.ActiveDays = len(activeDays)
	if stats.ActiveDays > 0 {
		stats.ConversationsPerDay = float64(stats.TotalConversations) / float64(stats.ActiveDays)
	}
	return stats
}

// AggregateDays computes per-day statistics, most recent first. Days in the
// range with no activity are filled with zeros.
func AggregateDays(manifests []model.Manifest, since, until time.Time) []model.DailyStats {
	filtered := FilterByTime(manifests, since, until)

	dayMap := make(map[string]*model.DailyStats)

	for _, m := range filtered {
		if m.TimeRange.Start.IsZero() {
			continue
		}
		dayKey := m.TimeRange.Start.Local().Format("2006-01-02")
		ds, ok := dayMap[dayKey]
		if !ok {
			t, _ := time.ParseInLocation("2006-01-02", dayKey, time.Local)
			ds = &model.DailyStats{Date: t}
			dayMap[dayKey] = ds
		}
		ds.Conversations++
		ds.Events += totalEvents(m)
		ds.Tokens += m.Stats.Usage.Total()
	}

	if !since.IsZero() && !until.IsZero() {
		day := startOfDay(since)
		end := startOfDay(until)
		for !day.After(end) {
			dayKey := day.Format("2006-01-02")
			if _, ok := dayMap[dayKey]; !ok {
				dayMap[dayKey] = &model.DailyStats{Date: day}
			}
			day = day.AddDate(0, 0, 1)
		}
	}

	days := make([]model.DailyStats, 0, len(dayMap))
	for _, ds := range dayMap {
		days = append(days, *ds)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date.After(days[j].Date)
	})
	return days
}

// AggregateProjects computes per-project statistics, ranked by conversation
// count. Projects are keyed by encoded id; slugs may repeat.
func AggregateProjects(manifests []model.Manifest, since, until time.Time) []model.ProjectStats {
	filtered := FilterByTime(manifests, since, until)

	projMap := make(map[string]*model.ProjectStats)
	planSets := make(map[string]map[string]struct{})

	for _, m := range filtered {
		key := m.Project.EncodedID
		ps, ok := projMap[key]
		if !ok {
			ps = &model.ProjectStats{
				EncodedID:     key,
				Slug:          m.Project.Slug,
				CanonicalPath: m.Project.CanonicalPath,
				Source:        m.Project.Source,
			}
			projMap[key] = ps
			planSets[key] = make(map[string]struct{})
		}
		ps.Conversations++
		ps.Events += totalEvents(m)
		ps.Usage.Add(m.Stats.Usage)
		for _, p := range m.Plans {
			planSets[key][p.PlanID] = struct{}{}
		}
		if m.TimeRange.End.After(ps.LastActivity) {
			ps.LastActivity = m.TimeRange.End
		}
	}

	projects := make([]model.ProjectStats, 0, len(projMap))
	for key, ps := range projMap {
		ps.Plans = len(planSets[key])
		projects = append(projects, *ps)
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Conversations != projects[j].Conversations {
			return projects[i].Conversations > projects[j].Conversations
		}
		return projects[i].EncodedID < projects[j].EncodedID
	})
	return projects
}

// FilterByTime returns manifests whose start time falls within [since, until).
func FilterByTime(manifests []model.Manifest, since, until time.Time) []model.Manifest {
	if since.IsZero() && until.IsZero() {
		return manifests
	}

	var result []model.Manifest
	for _, m := range manifests {
		start := m.TimeRange.Start
		if start.IsZero() {
			continue
		}
		if !since.IsZero() && start.Before(since) {
			continue
		}
		if !until.IsZero() && !start.Before(until) {
			continue
		}
		result = append(result, m)
	}
	return result
}

// FilterByProject returns manifests whose slug, path, or encoded id contains
// the given substring.
func FilterByProject(manifests []model.Manifest, project string) []model.Manifest {
	if project == "" {
		return manifests
	}
	var result []model.Manifest
	for _, m := range manifests {
		if containsIgnoreCase(m.Project.Slug, project) ||
			containsIgnoreCase(m.Project.CanonicalPath, project) ||
			containsIgnoreCase(m.Project.EncodedID, project) {
			result = append(result, m)
		}
	}
	return result
}

func startOfDay(t time.Time) time.Time {
	l := t.Local()
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.Local)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func totalEvents(m model.Manifest) int {
	n := 0
	for _, c := range m.Stats.EventCounts {
		n += c
	}
	return n
}
