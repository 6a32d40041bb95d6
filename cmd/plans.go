package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

var plansCmd = &cobra.Command{
	Use:   "plans [plan-id]",
	Short: "List archived plans, or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlans,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlans(_ *cobra.Command, args []string) error {
	ix, err := openIndex()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		doc, err := findPlan(ix, args[0])
		if err != nil {
			return err
		}
		printPlan(doc)
		return nil
	}

	docs := ix.Plans().List()
	if len(docs) == 0 {
		fmt.Println("\n  No plans archived yet.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("PLANS  (%d)", len(docs))))
	fmt.Println()

	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{
			model.ShortID(d.ID),
			truncate(d.Title, 44),
			string(d.Source),
			formatNumber(int64(len(d.Sessions))),
			formatNumber(int64(len(d.Variants))),
			cli.FormatDate(d.UpdatedAt),
		})
	}
	fmt.Print(cli.RenderTable(cli.Table{
		Headers: []string{"ID", "Title", "Source", "Conversations", "Variants", "Updated"},
		Rows:    rows,
		Left:    []int{1, 2},
	}))
	return nil
}

// findPlan resolves an exact id, a merged variant, or a unique id prefix.
func findPlan(ix *archive.Index, ref string) (model.PlanDocument, error) {
	doc, err := ix.Plan(ref)
	if err == nil || !errors.Is(err, archive.ErrNotFound) {
		return doc, err
	}
	var match *model.PlanDocument
	docs := ix.Plans().List()
	for i := range docs {
		if !strings.HasPrefix(docs[i].ID, ref) {
			continue
		}
		if match != nil {
			return model.PlanDocument{}, fmt.Errorf("plan prefix %q is ambiguous", ref)
		}
		match = &docs[i]
	}
	if match == nil {
		return model.PlanDocument{}, err
	}
	return *match, nil
}

func printPlan(d model.PlanDocument) {
	fmt.Println()
	fmt.Println(cli.RenderTitle(truncate(d.Title, 50)))
	fmt.Println()
	kv := func(k, v string) { fmt.Println(cli.RenderKeyValue(k, 13, v)) }
	kv("Plan", d.ID)
	kv("Source", string(d.Source))
	kv("Created", cli.FormatDateTime(d.CreatedAt))
	kv("Updated", cli.FormatDateTime(d.UpdatedAt))
	kv("Conversations", strings.Join(d.Sessions, ", "))
	if len(d.Variants) > 1 {
		kv("Variants", formatNumber(int64(len(d.Variants))))
	}
	fmt.Println()
	if !d.ContentAvailable {
		fmt.Println(cli.RenderWarning("plan content was not readable when archived"))
		return
	}
	fmt.Println(d.Content)
}
