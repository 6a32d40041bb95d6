package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
)

var archiveLabel string

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id|prefix|path>",
	Short: "Archive one conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().StringVarP(&archiveLabel, "label", "l", "", "Label appended to the saved artifact names")
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	conv, ok, err := source.FindConversation(claudeDir(), args[0], cfg.General.IncludeSubagents)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no unique conversation matches %q", args[0])
	}

	lock, err := lockArchive()
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	proc, err := newProcessor()
	if err != nil {
		return err
	}
	ledger := openLedger()
	defer closeLedger(ledger)

	m, warnings, err := proc.Archive(cmd.Context(), conv, archiveLabel, ledger)
	if err != nil {
		return err
	}

	printManifest(m)
	for _, w := range warnings {
		fmt.Println(cli.RenderWarning(w))
	}
	return nil
}

// printManifest renders the header block shared by archive and show.
func printManifest(m model.Manifest) {
	title := m.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Println()
	fmt.Println(cli.RenderTitle(truncate(title, 50)))
	fmt.Println()

	kv := func(k, v string) { fmt.Println(cli.RenderKeyValue(k, 12, v)) }
	kv("Conversation", m.ConversationID)
	kv("Project", fmt.Sprintf("%s  (%s, %s)", m.Project.Slug, m.Project.CanonicalPath, m.Project.Source))
	kv("Started", cli.FormatDateTime(m.TimeRange.Start))
	kv("Ended", cli.FormatDateTime(m.TimeRange.End))
	if m.Stats.DurationMs > 0 {
		kv("Turn time", cli.FormatDurationMs(m.Stats.DurationMs))
	}
	if m.Label != "" {
		kv("Label", m.Label)
	}
	kv("Tokens", fmt.Sprintf("%s in / %s out", cli.FormatTokens(m.Stats.Usage.InputTokens), cli.FormatTokens(m.Stats.Usage.OutputTokens)))
	if len(m.SubagentRefs) > 0 {
		kv("Subagents", cli.FormatNumber(int64(len(m.SubagentRefs))))
	}
	if m.HadAutoCompaction {
		kv("Compacted", "yes")
	}
	fmt.Println()

	views := m.Stats.Estimates.Views
	full := views[string(filter.Full)].Tokens
	rows := make([][]string, 0, len(filter.Modes))
	for _, mode := range filter.Modes {
		v, ok := views[string(mode)]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			string(mode),
			cli.FormatNumber(int64(v.Events)),
			cli.FormatTokens(v.Tokens),
			cli.FormatReduction(full, v.Tokens),
			m.Artifacts[string(mode)],
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Views (" + m.Stats.Estimates.Strategy + ")",
		Headers: []string{"Mode", "Events", "Tokens", "Saved", "Artifact"},
		Rows:    rows,
		Left:    []int{4},
	}))

	if len(m.Plans) > 0 {
		rows = rows[:0]
		for _, p := range m.Plans {
			rows = append(rows, []string{model.ShortID(p.PlanID), truncate(p.Title, 40), string(p.Source)})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Plans",
			Headers: []string{"Plan", "Title", "Source"},
			Rows:    rows,
			Left:    []int{1, 2},
		}))
	}
}

var errNoLedger = errors.New("the cache database is unavailable")
