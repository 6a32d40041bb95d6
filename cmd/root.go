// Package cmd implements the jacques CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/archive"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/config"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/fsutil"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/logging"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/pipeline"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/project"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/source"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/store"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/tokens"
)

var (
	flagDataDir     string
	flagArchiveDir  string
	flagQuiet       bool
	flagLogLevel    string
	flagVerbose     bool
	flagNoSubagents bool
)

// cfg is the effective configuration: file, then environment, then flags.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:               "jacques",
	Short:             "Archive and index Claude Code conversations",
	Long:              "Ingest Claude Code transcripts into a durable, searchable archive of conversations and plans.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute is the main entry point called from main.go.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "  error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "Claude data directory (default ~/.claude)")
	rootCmd.PersistentFlags().StringVarP(&flagArchiveDir, "archive-dir", "a", "", "Archive root (default ~/.jacques/archive)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error, off")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Shorthand for --log-level debug")
	rootCmd.PersistentFlags().BoolVar(&flagNoSubagents, "no-subagents", false, "Ignore subagent transcripts")
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.General.ClaudeDir = flagDataDir
	}
	if flags.Changed("archive-dir") {
		cfg.General.ArchiveDir = flagArchiveDir
	}
	if flags.Changed("no-subagents") {
		cfg.General.IncludeSubagents = !flagNoSubagents
	}
	switch {
	case flags.Changed("log-level"):
		cfg.Log.Level = flagLogLevel
	case flagVerbose:
		cfg.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.Setup(os.Stderr, level)
	return nil
}

func claudeDir() string  { return cfg.ResolveClaudeDir() }
func archiveDir() string { return cfg.ResolveArchiveDir() }

// openIndex opens the archive for reading.
func openIndex() (*archive.Index, error) {
	return archive.Open(archiveDir(), cfg.PlanOptions())
}

// newProcessor opens the archive and wires the processing stack.
func newProcessor() (*pipeline.Processor, error) {
	ix, err := openIndex()
	if err != nil {
		return nil, err
	}
	return &pipeline.Processor{
		Index:        ix,
		Resolver:     project.NewResolver(project.FileSidecar(source.ProjectsDir(claudeDir()))),
		Estimator:    tokens.New(cfg.Tokens.Encoding, cfg.Tokens.CharsPerToken),
		Plans:        cfg.PlanOptions(),
		Retry:        cfg.Retry(),
		ProjectLocal: cfg.Archive.CopyProjectLocal,
	}, nil
}

// lockArchive takes the single-writer lock for commands that modify the
// archive.
func lockArchive() (fsutil.Lock, error) {
	dir := archiveDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	lock, err := fsutil.TryLock(filepath.Join(dir, archive.LockFile))
	if errors.Is(err, fsutil.ErrLocked) {
		return nil, fmt.Errorf("%w (is `jacques serve` or another rebuild running?)", err)
	}
	return lock, err
}

// openLedger opens the incremental cache and run ledger. Failure is not
// fatal: commands fall back to running without it.
func openLedger() *store.Cache {
	cache, err := store.Open(filepath.Join(config.CacheDir(), store.DBFile))
	if err != nil {
		log.Warn().Err(err).Msg("cache unavailable, running without it")
		return nil
	}
	return cache
}

func closeLedger(c *store.Cache) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Msg("closing cache")
	}
}

func releaseLock(l fsutil.Lock) {
	if err := l.Release(); err != nil {
		log.Debug().Err(err).Msg("releasing archive lock")
	}
}

func rebuildOptions(src string, ledger *store.Cache) pipeline.RebuildOptions {
	return pipeline.RebuildOptions{
		Workers:         cfg.Archive.Workers,
		CheckpointEvery: cfg.Archive.CheckpointEvery,
		Source:          src,
		Ledger:          ledger,
	}
}

// progressBar returns a progress callback drawing to stderr, or nil when
// quiet. The returned finish func ends the line.
func progressBar(label string) (pipeline.ProgressFunc, func()) {
	if flagQuiet {
		return nil, func() {}
	}
	bar := cli.NewProgressBar(os.Stderr, label)
	return func(p pipeline.Progress) {
		bar.Update(p.Processed, p.Total)
	}, bar.Done
}

func formatNumber(n int64) string {
	return cli.FormatNumber(n)
}

func truncate(s string, n int) string {
	return cli.Truncate(s, n)
}
