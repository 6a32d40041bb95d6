package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show recent rebuild and sync runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 10, "Runs to show")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(_ *cobra.Command, args []string) error {
	ledger := openLedger()
	if ledger == nil {
		return errNoLedger
	}
	defer closeLedger(ledger)

	if len(args) == 1 {
		return printRunFailures(ledger, args[0])
	}

	runs, err := ledger.Runs(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("\n  No runs recorded.")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		took := "-"
		if !r.FinishedAt.IsZero() {
			took = cli.FormatDurationMs(r.FinishedAt.Sub(r.StartedAt).Milliseconds())
		}
		rows = append(rows, []string{
			model.ShortID(r.RunID),
			r.Source,
			cli.FormatDateTime(r.StartedAt),
			took,
			cli.RenderStatus(r.Status),
			formatNumber(int64(r.Total)),
			formatNumber(int64(r.Succeeded)),
			formatNumber(int64(r.Failed)),
			formatNumber(int64(r.Warnings)),
		})
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Runs",
		Headers: []string{"Run", "Source", "Started", "Took", "Status", "Total", "OK", "Failed", "Warn"},
		Left:    []int{1, 2, 4},
		Rows:    rows,
	}))
	return nil
}

func printRunFailures(ledger *store.Cache, ref string) error {
	runs, err := ledger.Runs(500)
	if err != nil {
		return err
	}
	var match *store.Run
	for i := range runs {
		if runs[i].RunID == ref || len(ref) >= 4 && strings.HasPrefix(runs[i].RunID, ref) {
			if match != nil {
				return fmt.Errorf("run id %q is ambiguous", ref)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return errors.New("run not found: " + ref)
	}

	failures, err := ledger.RunFailures(match.RunID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle("RUN " + match.RunID))
	fmt.Println()
	fmt.Println(cli.RenderKeyValue("Source", 10, match.Source))
	fmt.Println(cli.RenderKeyValue("Status", 10, cli.RenderStatus(match.Status)))
	fmt.Println(cli.RenderKeyValue("Started", 10, cli.FormatDateTime(match.StartedAt)))
	fmt.Println(cli.RenderKeyValue("Finished", 10, cli.FormatDateTime(match.FinishedAt)))
	if len(failures) == 0 {
		fmt.Println("\n  No failures.")
		return nil
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{model.ShortID(f.ConversationID), truncate(f.Path, 48), truncate(f.Error, 60)})
	}
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   "Failures",
		Headers: []string{"Conversation", "Path", "Error"},
		Left:    []int{1, 2},
		Rows:    rows,
	}))
	return nil
}
