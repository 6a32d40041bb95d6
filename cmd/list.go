package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

var (
	listProject string
	listKeyword string
	listSince   string
	listUntil   string
	listLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived conversations, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listProject, "project", "p", "", "Encoded project id (aliases accepted)")
	listCmd.Flags().StringVarP(&listKeyword, "keyword", "k", "", "Match title, ids, label, project, or plan titles")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only conversations active on or after this date (YYYY-MM-DD)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Only conversations started on or before this date (YYYY-MM-DD)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "Number of conversations to show (0 for all)")
	rootCmd.AddCommand(listCmd)
}

func runList(_ *cobra.Command, _ []string) error {
	since, err := parseDateFlag("since", listSince, false)
	if err != nil {
		return err
	}
	until, err := parseDateFlag("until", listUntil, true)
	if err != nil {
		return err
	}

	ix, err := openIndex()
	if err != nil {
		return err
	}
	if ix.Len() == 0 {
		fmt.Println("\n  The archive is empty. Run `jacques sync` to archive your conversations.")
		return nil
	}

	manifests := ix.Query(archive.Query{
		EncodedID: listProject,
		Keyword:   listKeyword,
		Since:     since,
		Until:     until,
		Limit:     listLimit,
	})
	if len(manifests) == 0 {
		fmt.Println("\n  No conversations match.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("CONVERSATIONS  (showing %d of %d)", len(manifests), ix.Len())))
	fmt.Println()

	rows := make([][]string, 0, len(manifests))
	for _, m := range manifests {
		title := m.Title
		if m.Label != "" {
			title = "[" + m.Label + "] " + title
		}
		rows = append(rows, []string{
			m.ShortID(),
			cli.FormatDateTime(m.TimeRange.Start),
			truncate(m.Project.Slug, 18),
			truncate(title, 44),
			formatNumber(int64(totalEvents(m))),
			formatNumber(int64(len(m.Plans))),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"ID", "Started", "Project", "Title", "Events", "Plans"},
		Rows:    rows,
		Left:    []int{1, 2, 3},
	}))
	return nil
}

func totalEvents(m model.Manifest) int {
	n := 0
	for _, c := range m.Stats.EventCounts {
		n += c
	}
	return n
}

// parseDateFlag accepts YYYY-MM-DD in local time or RFC 3339. A bare date
// used as an upper bound covers the whole day.
func parseDateFlag(name, s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		if endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, s)
	}
	return t, nil
}
