package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Re-resolve project identities and merge duplicate projects",
	Long: `Re-resolve every archived project against the sidecar index and the
recorded working directories, move plan copies whose project name changed,
and merge projects that share a canonical path. The index is upgraded to the
current schema version on save.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	lock, err := lockArchive()
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	proc, err := newProcessor()
	if err != nil {
		return err
	}
	rep, err := proc.Index.Migrate(proc.Resolver)
	if err != nil {
		return err
	}
	if err := proc.Index.Save(); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}

	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Migration", "Count"},
		Rows: [][]string{
			{"Projects re-resolved", formatNumber(int64(rep.Reresolved))},
			{"Projects merged", formatNumber(int64(rep.Merged))},
			{"Plan copies moved", formatNumber(int64(rep.MovedPlans))},
		},
	}))
	for _, a := range rep.Advisories {
		fmt.Println(cli.RenderWarning(a))
	}
	return nil
}
