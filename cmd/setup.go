package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/config"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	// Start from the file only, not from flag overrides.
	saved, err := config.Load()
	if err != nil {
		return err
	}

	found := "No transcripts found yet."
	if files, _ := source.ScanDir(claudeDir()); len(files) > 0 {
		found = fmt.Sprintf("Found %s transcripts in %s (%d projects).",
			formatNumber(int64(len(files))), claudeDir(), source.CountProjects(files))
	}

	claude := saved.ResolveClaudeDir()
	archiveRoot := saved.ResolveArchiveDir()
	subagents := saved.General.IncludeSubagents
	workers := strconv.Itoa(saved.Archive.Workers)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to jacques!").
				Description(found),
			huh.NewInput().
				Title("Claude data directory").
				Value(&claude).
				Validate(nonEmpty),
			huh.NewInput().
				Title("Archive directory").
				Description("Conversations, plans and the index are written here.").
				Value(&archiveRoot).
				Validate(nonEmpty),
			huh.NewConfirm().
				Title("Archive subagent transcripts with their parent conversation?").
				Value(&subagents),
			huh.NewInput().
				Title("Rebuild workers").
				Value(&workers).
				Validate(positiveInt),
		),
	).WithAccessible(!isatty.IsTerminal(os.Stdin.Fd()))

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup canceled, nothing saved.")
			return nil
		}
		return err
	}

	saved.General.ClaudeDir = strings.TrimSpace(claude)
	saved.General.ArchiveDir = strings.TrimSpace(archiveRoot)
	saved.General.IncludeSubagents = subagents
	saved.Archive.Workers, _ = strconv.Atoi(strings.TrimSpace(workers))

	if err := config.Save(saved); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.ConfigPath())
	fmt.Println("  Run `jacques rebuild` to build the archive.")
	fmt.Println()
	return nil
}

func nonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}
