package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/pipeline"
)

var (
	rebuildFromArtifacts bool
	rebuildWorkers       int
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-archive every conversation and regenerate the index",
	Long: `Re-archive every conversation found under the Claude data directory.

With --from-artifacts the index is regenerated from the saved full views in
the archive instead, which works after the original transcripts are gone.
Interrupting a rebuild keeps everything committed so far.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildFromArtifacts, "from-artifacts", false, "Rebuild from saved artifacts instead of transcripts")
	rebuildCmd.Flags().IntVarP(&rebuildWorkers, "workers", "w", 0, "Concurrent workers (default from config)")
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
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

	var jobs []pipeline.Job
	src := pipeline.SourceTranscripts
	if rebuildFromArtifacts {
		src = pipeline.SourceArtifacts
		jobs, err = pipeline.ArtifactJobs(archiveDir())
	} else {
		jobs, err = pipeline.TranscriptJobs(claudeDir(), cfg.General.IncludeSubagents)
	}
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("\n  Nothing to rebuild.")
		return nil
	}

	opts := rebuildOptions(src, ledger)
	if rebuildWorkers > 0 {
		opts.Workers = rebuildWorkers
	}
	progress, done := progressBar("Rebuilding")
	rep, err := proc.Rebuild(cmd.Context(), jobs, opts, progress)
	done()
	if err != nil {
		return err
	}
	return printReport(rep)
}

// printReport renders a run summary and returns an error for runs that
// archived nothing.
func printReport(rep pipeline.Report) error {
	fmt.Println()
	rows := [][]string{
		{"Run", rep.RunID},
		{"Source", rep.Source},
		{"Status", cli.RenderStatus(string(rep.Status))},
		{"---"},
		{"Total", formatNumber(int64(rep.Total))},
		{"Archived", formatNumber(int64(rep.Succeeded))},
		{"Failed", formatNumber(int64(rep.Failed))},
		{"Pending", formatNumber(int64(rep.Pending))},
		{"Warnings", formatNumber(int64(len(rep.Warnings)))},
		{"Took", cli.FormatDurationMs(rep.FinishedAt.Sub(rep.StartedAt).Milliseconds())},
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Field", "Value"},
		Rows:    rows,
	}))

	if len(rep.Failures) > 0 {
		frows := make([][]string, 0, len(rep.Failures))
		for _, f := range rep.Failures {
			frows = append(frows, []string{truncate(f.ConversationID, 36), truncate(f.Error, 60)})
		}
		fmt.Print(cli.RenderTable(cli.Table{
			Title:   "Failures",
			Headers: []string{"Conversation", "Error"},
			Rows:    frows,
			Left:    []int{1},
		}))
	}
	if !flagQuiet {
		for _, w := range rep.Warnings {
			fmt.Println(cli.RenderWarning(w))
		}
	}

	if rep.Status == pipeline.StatusFailed {
		return fmt.Errorf("run %s failed: no conversation was archived", rep.RunID)
	}
	return nil
}
