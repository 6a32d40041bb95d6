package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/pipeline"
)

var (
	statsDays    int
	statsProject string
	statsTop     int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Archive activity summary",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&statsDays, "days", "n", 30, "Time window in days (0 for all time)")
	statsCmd.Flags().StringVarP(&statsProject, "project", "p", "", "Filter to a project (substring match)")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "Projects to show in the ranking")
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, _ []string) error {
	ix, err := openIndex()
	if err != nil {
		return err
	}
	manifests := ix.Manifests()
	if statsProject != "" {
		manifests = pipeline.FilterByProject(manifests, statsProject)
	}
	if len(manifests) == 0 {
		fmt.Println("\n  No archived conversations.")
		return nil
	}

	var since, until time.Time
	window := "All time"
	if statsDays > 0 {
		until = time.Now()
		since = until.AddDate(0, 0, -statsDays)
		window = fmt.Sprintf("Last %dd", statsDays)
	}

	summary := pipeline.Aggregate(manifests, since, until)
	if summary.TotalConversations == 0 {
		fmt.Println("\n  No data for the selected period.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("ARCHIVE STATS  " + window))
	fmt.Println()
	printSummary(summary)

	printEventKinds(summary.EventCounts)
	printProjectRanking(pipeline.AggregateProjects(manifests, since, until))
	printDaily(pipeline.AggregateDays(manifests, since, until))
	return nil
}

func printSummary(s model.SummaryStats) {
	const w = 16
	fmt.Println(cli.RenderKeyValue("Conversations", w, fmt.Sprintf("%s  (%.1f/day)",
		formatNumber(int64(s.TotalConversations)), s.ConversationsPerDay)))
	fmt.Println(cli.RenderKeyValue("Projects", w, formatNumber(int64(s.TotalProjects))))
	fmt.Println(cli.RenderKeyValue("Plans", w, formatNumber(int64(s.TotalPlans))))
	fmt.Println(cli.RenderKeyValue("Events", w, formatNumber(int64(s.TotalEvents))))
	fmt.Println(cli.RenderKeyValue("Active days", w, formatNumber(int64(s.ActiveDays))))
	fmt.Println(cli.RenderKeyValue("Compactions", w, formatNumber(int64(s.Compactions))))
	fmt.Println(cli.RenderKeyValue("Subagents", w, formatNumber(int64(s.Subagents))))
	fmt.Println(cli.RenderKeyValue("First activity", w, cli.FormatDateTime(s.FirstActivity)))
	fmt.Println(cli.RenderKeyValue("Last activity", w, cli.FormatDateTime(s.LastActivity)))
	fmt.Println()

	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Tokens",
		Headers: []string{"View", "Tokens", "Reduction"},
		Left:    []int{0},
		Rows: [][]string{
			{"full", cli.FormatTokens(s.FullTokens), "-"},
			{"reduced", cli.FormatTokens(s.ReducedTokens), cli.FormatReduction(s.FullTokens, s.ReducedTokens)},
			{"messages-only", cli.FormatTokens(s.MessagesOnlyTokens), cli.FormatReduction(s.FullTokens, s.MessagesOnlyTokens)},
			{"---"},
			{"reported usage", cli.FormatTokens(s.Usage.Total()), ""},
		},
	}))
}

func printEventKinds(counts map[model.EventKind]int) {
	var peak float64
	for _, n := range counts {
		peak = max(peak, float64(n))
	}
	if peak == 0 {
		return
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("EVENTS BY KIND"))
	fmt.Println()
	for _, kind := range model.AllKinds {
		n := counts[kind]
		if n == 0 {
			continue
		}
		fmt.Println(cli.RenderHorizontalBar(string(kind), 20, float64(n), peak, 30))
	}
}

func printProjectRanking(projects []model.ProjectStats) {
	if len(projects) == 0 {
		return
	}
	if statsTop > 0 && len(projects) > statsTop {
		projects = projects[:statsTop]
	}

	rows := make([][]string, 0, len(projects))
	for i, p := range projects {
		name := p.Slug
		if name == "" {
			name = p.EncodedID
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(name, 32),
			formatNumber(int64(p.Conversations)),
			formatNumber(int64(p.Plans)),
			formatNumber(int64(p.Events)),
			cli.FormatDate(p.LastActivity),
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Top Projects",
		Headers: []string{"#", "Project", "Convs", "Plans", "Events", "Last"},
		Left:    []int{1},
		Rows:    rows,
	}))
}

func printDaily(days []model.DailyStats) {
	if len(days) == 0 {
		return
	}

	// Oldest first for the sparkline.
	values := make([]float64, len(days))
	for i, d := range days {
		values[len(days)-1-i] = float64(d.Conversations)
	}
	fmt.Println()
	fmt.Println(cli.RenderKeyValue("Daily", 16, cli.RenderSparkline(values)))

	rows := make([][]string, 0, len(days))
	for _, d := range days {
		if d.Conversations == 0 {
			continue
		}
		rows = append(rows, []string{
			d.Date.Format("2006-01-02"),
			cli.FormatDayOfWeek(int(d.Date.Weekday())),
			formatNumber(int64(d.Conversations)),
			formatNumber(int64(d.Events)),
			cli.FormatTokens(d.Tokens),
		})
	}
	if len(rows) == 0 {
		return
	}
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Date", "Day", "Convs", "Events", "Tokens"},
		Rows:    rows,
	}))
}
