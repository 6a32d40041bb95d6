package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/filter"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/model"
)

var (
	showMode   string
	showEvents bool
	showJSON   bool
)

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show an archived conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showMode, "mode", "m", "", "Print events from this view: full, reduced, messages-only")
	showCmd.Flags().BoolVarP(&showEvents, "events", "e", false, "Print events from the reduced view")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the manifest and events as JSON")
	rootCmd.AddCommand(showCmd)
}

func runShow(_ *cobra.Command, args []string) error {
	ix, err := openIndex()
	if err != nil {
		return err
	}
	m, err := findManifest(ix, args[0])
	if err != nil {
		return err
	}

	var events []model.Event
	mode := filter.Reduced
	if showMode != "" || showEvents || showJSON {
		if showMode != "" {
			if mode, err = filter.ParseMode(showMode); err != nil {
				return err
			}
		}
		art, err := ix.LoadEvents(m, mode)
		if err != nil {
			return err
		}
		events = art.Events
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Manifest model.Manifest `json:"manifest"`
			Mode     filter.Mode    `json:"mode"`
			Events   []model.Event  `json:"events"`
		}{m, mode, events})
	}

	printManifest(m)
	if events != nil {
		fmt.Println()
		for _, ev := range events {
			fmt.Println(formatEvent(ev))
		}
	}
	return nil
}

// findManifest resolves an exact conversation id or a unique prefix.
func findManifest(ix *archive.Index, ref string) (model.Manifest, error) {
	m, err := ix.Get(ref)
	if err == nil || !errors.Is(err, archive.ErrNotFound) {
		return m, err
	}
	var match *model.Manifest
	all := ix.Manifests()
	for i := range all {
		if !strings.HasPrefix(all[i].ConversationID, ref) {
			continue
		}
		if match != nil {
			return model.Manifest{}, fmt.Errorf("conversation prefix %q is ambiguous", ref)
		}
		match = &all[i]
	}
	if match == nil {
		return model.Manifest{}, err
	}
	return *match, nil
}

func formatEvent(ev model.Event) string {
	ts := "        "
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.Local().Format("15:04:05")
	}
	p := ev.Payload
	var text string
	switch ev.Kind {
	case model.KindToolCall:
		text = p.ToolName
		if p.Text != "" {
			text += "  " + p.Text
		}
	case model.KindToolResult:
		text = p.ToolOutput
		if p.IsError {
			text = "error: " + text
		}
	case model.KindWebSearchQuery, model.KindWebSearchResult:
		text = p.Query
	case model.KindTurnDuration:
		text = cli.FormatDurationMs(p.DurationMs)
	default:
		text = p.Text
		if text == "" {
			text = p.Subtype
		}
	}
	return fmt.Sprintf("  %s  %-20s %s", ts, ev.Kind, truncate(text, 100))
}
