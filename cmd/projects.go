package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List archived projects",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}

func runProjects(_ *cobra.Command, _ []string) error {
	ix, err := openIndex()
	if err != nil {
		return err
	}
	projects := ix.Projects()
	if len(projects) == 0 {
		fmt.Println("\n  No projects archived yet.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("PROJECTS  (%d)", len(projects))))
	fmt.Println()

	rows := make([][]string, 0, len(projects))
	heuristic := 0
	for _, p := range projects {
		path := p.Identity.CanonicalPath
		if !p.Identity.Source.Authoritative() {
			path += " ?"
			heuristic++
		}
		rows = append(rows, []string{
			truncate(p.Identity.Slug, 20),
			truncate(path, 48),
			formatNumber(int64(p.Conversations)),
			formatNumber(int64(p.Plans)),
			cli.FormatDate(p.LastActivity),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"Project", "Path", "Conversations", "Plans", "Last Active"},
		Rows:    rows,
		Left:    []int{1},
	}))
	if heuristic > 0 {
		fmt.Println(cli.RenderWarning(fmt.Sprintf(
			"%d paths marked ? were guessed from the directory name; `jacques migrate` re-resolves them", heuristic)))
	}
	return nil
}
