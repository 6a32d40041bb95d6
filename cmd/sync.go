package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Archive conversations whose transcripts changed",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().IntVarP(&rebuildWorkers, "workers", "w", 0, "Concurrent workers (default from config)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	lock, err := lockArchive()
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	ledger := openLedger()
	if ledger == nil {
		return errNoLedger
	}
	defer closeLedger(ledger)

	proc, err := newProcessor()
	if err != nil {
		return err
	}

	opts := rebuildOptions("sync", ledger)
	if rebuildWorkers > 0 {
		opts.Workers = rebuildWorkers
	}
	progress, done := progressBar("Syncing")
	res, err := proc.Sync(cmd.Context(), claudeDir(), cfg.General.IncludeSubagents, ledger, opts, progress)
	done()
	if err != nil {
		return err
	}

	if !flagQuiet {
		fmt.Printf("\n  Scanned %s conversations, %s unchanged\n",
			formatNumber(int64(res.Scanned)), formatNumber(int64(res.Unchanged)))
	}
	return printReport(res.Report)
}
