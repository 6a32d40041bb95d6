package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregory-lime/jacques-context-manager-sub003/internal/cli"
	"github.com/gregory-lime/jacques-context-manager-sub003/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

var configInit bool

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Write the default configuration file")
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	if configInit {
		return initConfig()
	}

	const w = 24

	fmt.Println()
	fmt.Println(cli.RenderKeyValue("Config file", w, config.ConfigPath()))
	if config.Exists() {
		fmt.Println(cli.RenderKeyValue("Status", w, "loaded"))
	} else {
		fmt.Println(cli.RenderKeyValue("Status", w, "using defaults (no config file)"))
	}
	fmt.Println(cli.RenderKeyValue("Cache", w, config.CacheDir()))
	fmt.Println()

	fmt.Println("  [general]")
	fmt.Println(cli.RenderKeyValue("claude_dir", w, claudeDir()))
	fmt.Println(cli.RenderKeyValue("archive_dir", w, archiveDir()))
	fmt.Println(cli.RenderKeyValue("include_subagents", w, strconv.FormatBool(cfg.General.IncludeSubagents)))
	fmt.Println()

	fmt.Println("  [archive]")
	fmt.Println(cli.RenderKeyValue("workers", w, strconv.Itoa(cfg.Archive.Workers)))
	fmt.Println(cli.RenderKeyValue("checkpoint_every", w, strconv.Itoa(cfg.Archive.CheckpointEvery)))
	fmt.Println(cli.RenderKeyValue("copy_project_local", w, strconv.FormatBool(cfg.Archive.CopyProjectLocal)))
	retry := cfg.Retry()
	fmt.Println(cli.RenderKeyValue("retry", w, fmt.Sprintf("%d attempts, %s apart", retry.Attempts, retry.Delay)))
	fmt.Println()

	po := cfg.PlanOptions()
	fmt.Println("  [plans]")
	fmt.Println(cli.RenderKeyValue("similarity_threshold", w, strconv.FormatFloat(po.SimilarityThreshold, 'f', 2, 64)))
	fmt.Println(cli.RenderKeyValue("length_tolerance", w, strconv.FormatFloat(po.LengthTolerance, 'f', 2, 64)))
	fmt.Println(cli.RenderKeyValue("min_length", w, strconv.Itoa(po.MinLength)))
	fmt.Println(cli.RenderKeyValue("code_density_threshold", w, strconv.FormatFloat(po.CodeDensityThreshold, 'f', 2, 64)))
	fmt.Println(cli.RenderKeyValue("trigger_phrases", w, strconv.Itoa(len(po.TriggerPhrases))))
	fmt.Println()

	fmt.Println("  [tokens]")
	fmt.Println(cli.RenderKeyValue("encoding", w, cfg.Tokens.Encoding))
	fmt.Println(cli.RenderKeyValue("chars_per_token", w, strconv.Itoa(cfg.Tokens.CharsPerToken)))
	fmt.Println()

	fmt.Println("  [server]")
	fmt.Println(cli.RenderKeyValue("addr", w, cfg.Server.Addr))
	fmt.Println()

	fmt.Println("  [log]")
	fmt.Println(cli.RenderKeyValue("level", w, strings.ToLower(cfg.Log.Level)))
	fmt.Println()

	fmt.Println("  Run `jacques setup` to reconfigure.")
	return nil
}

func initConfig() error {
	if config.Exists() {
		return fmt.Errorf("%s already exists; edit it or run `jacques setup`", config.ConfigPath())
	}
	if err := config.Save(config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("  Wrote defaults to %s\n", config.ConfigPath())
	return nil
}
