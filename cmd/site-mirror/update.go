package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sriram-PR/site-mirror/pkg/config"
)

// NewUpdateCmd creates the update command
func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Re-run the last crawl of a mirror",
		Long: `Update repeats the most recent crawl of a mirror directory with the seeds,
rules, error page policy and link conversion setting stored with it. Unchanged resources are
answered with 304 Not Modified and are not downloaded again.

Examples:
  site-mirror update -o ./docs-mirror
  site-mirror update -o ./docs-mirror --enable-delete`,
		Args: cobra.NoArgs,
		RunE: runUpdateCmd,
	}
	addOutputFlags(cmd)
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runUpdateCmd(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd, cmd.ErrOrStderr())
	cfg := &config.AppConfig{}
	applyOutputFlags(cmd, cfg)
	if cfg.StateDir == "" {
		cfg.StateDir = config.DefaultStateDir(cfg.OutputDir)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore(store, log)

	last, err := store.LoadRunInfo()
	if err != nil {
		return fmt.Errorf("cannot update %s: %w", cfg.OutputDir, err)
	}
	log.WithField("run_id", last.RunID).Infof("Repeating run started %s", last.StartedAt.Format("2006-01-02 15:04:05"))
	cfg.Seeds = last.Seeds
	cfg.Rules = last.Rules
	cfg.ErrorResponses = last.ErrorResponses
	convert := last.ConvertLinks
	cfg.ConvertLinks = &convert

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return err
	}
	logConfig(cfg, log)

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	info, err := mirror(ctx, cfg, store, log)
	printRunSummary(cmd.OutOrStdout(), cfg, info)
	return err
}
