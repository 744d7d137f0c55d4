package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	"github.com/Sriram-PR/site-mirror/pkg/crawler"
	"github.com/Sriram-PR/site-mirror/pkg/fetch"
	"github.com/Sriram-PR/site-mirror/pkg/models"
	"github.com/Sriram-PR/site-mirror/pkg/process"
	"github.com/Sriram-PR/site-mirror/pkg/report"
	"github.com/Sriram-PR/site-mirror/pkg/rewrite"
	"github.com/Sriram-PR/site-mirror/pkg/storage"
)

const gcInterval = 10 * time.Minute

// NewCrawlCmd creates the crawl command
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Mirror a site starting from seed URLs",
		Long: `Crawl fetches the seed URLs and every URL the rules allow, writing the
saved resources below the output directory. Running crawl again over the same
output directory only downloads what changed.

Flags override the values of the config file. Rule flags may be repeated and
each replaces the corresponding rule of the config file as a whole.

Examples:
  # Mirror the docs section of a site, with the images it needs
  site-mirror crawl https://example.org/docs/ --follow '+down' -o ./docs-mirror

  # Everything on the seed host up to three links deep, no videos
  site-mirror crawl https://example.org/ \
    --follow '+original-domain -depth>3' --save '+ -extension=mp4,webm'

  # Seeds from a file, rules from a config
  site-mirror crawl -c mirror.yaml -i seeds.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("config", "c", "", "YAML config file")
	cmd.Flags().StringP("from-file", "i", "", "Read seed URLs from a file, one per line")
	cmd.Flags().StringArrayP("follow", "f", nil, "Follow rule tests, e.g. '+same-domain -depth>2'")
	cmd.Flags().StringArrayP("save", "s", nil, "Save rule tests, e.g. '+ -size>10M'")
	cmd.Flags().StringArray("stop", nil, "Stop rule tests, e.g. '+domain-depth>=1'")
	cmd.Flags().Bool("no-link-conversion", false, "Keep links in saved pages as they were fetched")
	cmd.Flags().String("error-responses", "", "How 4xx pages are handled: 'error' or 'rules' (saved when a code test allows it)")
	addOutputFlags(cmd)
	return cmd
}

// addOutputFlags registers the flags shared by crawl and update
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "Mirror directory")
	cmd.Flags().String("state-dir", "", "Directory for the mirror database (default: under XDG_DATA_HOME)")
	cmd.Flags().Bool("enable-delete", false, "Delete mirrored files that were not encountered in this run")
	cmd.Flags().String("report-jsonl", "", "Write one JSON line per URL to this file")
	cmd.Flags().String("report-md", "", "Write a markdown run summary to this file")
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd, cmd.ErrOrStderr())
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return err
	}
	logConfig(cfg, log)

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore(store, log)

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	info, err := mirror(ctx, cfg, store, log)
	printRunSummary(cmd.OutOrStdout(), cfg, info)
	return err
}

// buildConfig loads the config file, if any, and applies flags and seed arguments on top
func buildConfig(cmd *cobra.Command, args []string) (*config.AppConfig, error) {
	flags := cmd.Flags()
	cfg := &config.AppConfig{}
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	seeds := append([]string(nil), args...)
	if path, _ := flags.GetString("from-file"); path != "" {
		fileSeeds, err := readSeedFile(path)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, fileSeeds...)
	}
	if len(seeds) > 0 {
		cfg.Seeds = seeds
	}

	if flags.Changed("follow") {
		cfg.Rules.Follow, _ = flags.GetStringArray("follow")
	}
	if flags.Changed("save") {
		cfg.Rules.Save, _ = flags.GetStringArray("save")
	}
	if flags.Changed("stop") {
		cfg.Rules.Stop, _ = flags.GetStringArray("stop")
	}
	if flags.Changed("error-responses") {
		cfg.ErrorResponses, _ = flags.GetString("error-responses")
	}
	if off, _ := flags.GetBool("no-link-conversion"); off {
		convert := false
		cfg.ConvertLinks = &convert
	}
	applyOutputFlags(cmd, cfg)
	return cfg, nil
}

func applyOutputFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("state-dir") {
		cfg.StateDir, _ = flags.GetString("state-dir")
	}
	if flags.Changed("enable-delete") {
		cfg.EnableDelete, _ = flags.GetBool("enable-delete")
	}
	if flags.Changed("report-jsonl") {
		cfg.ReportJSONL, _ = flags.GetString("report-jsonl")
	}
	if flags.Changed("report-md") {
		cfg.ReportMarkdown, _ = flags.GetString("report-md")
	}
}

// readSeedFile returns the non-blank lines of path. Lines starting with # are comments.
func readSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	defer f.Close()

	var seeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return seeds, nil
}

func logConfig(cfg *config.AppConfig, log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"seeds":         len(cfg.Seeds),
		"output_dir":    cfg.OutputDir,
		"state_dir":     cfg.StateDir,
		"convert_links": cfg.GetEffectiveConvertLinks(),
		"enable_delete": cfg.EnableDelete,
	}).Info("Effective configuration")
	log.Debugf("Rules: follow=%q save=%q stop=%q", cfg.Rules.Follow, cfg.Rules.Save, cfg.Rules.Stop)
	log.Debugf("HTTP: timeout=%v retries=%d delay_per_host=%v", cfg.HTTPClientSettings.Timeout, cfg.MaxRetries, cfg.DelayPerHost)
}

func openStore(cfg *config.AppConfig, log *logrus.Entry) (*storage.BadgerStore, error) {
	return storage.NewBadgerStore(cfg.StateDir, cfg.OutputDir, cfg.KeepOriginals, log)
}

func closeStore(store storage.MirrorStore, log *logrus.Entry) {
	if err := store.Close(); err != nil {
		log.Errorf("Error closing mirror database: %v", err)
	}
}

// signalContext is cancelled on the first SIGINT or SIGTERM. Later signals
// get the default behaviour and terminate the process.
func signalContext(parent context.Context, log *logrus.Entry) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Finishing the current URL, send again to force exit.", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// newSink builds the report sinks the config asks for. Events are always logged.
func newSink(cfg *config.AppConfig, log *logrus.Entry) (report.Sink, error) {
	sinks := report.MultiSink{report.NewLogSink(log)}
	if cfg.ReportJSONL != "" {
		jsonl, err := report.NewJSONLSink(cfg.ReportJSONL, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, jsonl)
	}
	if cfg.ReportMarkdown != "" {
		sinks = append(sinks, report.NewMarkdownSummary(cfg.ReportMarkdown))
	}
	return sinks, nil
}

// mirror wires the crawl components for cfg and runs one crawl, with the
// database garbage collector alongside it
func mirror(ctx context.Context, cfg *config.AppConfig, store storage.MirrorStore, log *logrus.Entry) (*models.RunInfo, error) {
	ruleSet, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}
	sink, err := newSink(cfg, log)
	if err != nil {
		return nil, err
	}

	client := fetch.NewClient(cfg.HTTPClientSettings, log)
	fetcher := fetch.NewHTTPFetcher(client, cfg, fetch.NewRateLimiter(cfg.DelayPerHost, log), log)
	processor := process.NewReferenceProcessor(log)
	var planner crawler.LinkPlanner
	if cfg.GetEffectiveConvertLinks() {
		planner = rewrite.NewPlanner(store, processor, cfg.GetEffectiveWriteIndex(), log)
	}
	c := crawler.NewCrawler(cfg, ruleSet, fetcher, store, processor, planner, sink, log)

	var info *models.RunInfo
	g, gctx := errgroup.WithContext(ctx)
	gcCtx, stopGC := context.WithCancel(gctx)
	g.Go(func() error {
		store.RunGC(gcCtx, gcInterval)
		return nil
	})
	g.Go(func() error {
		defer stopGC()
		var runErr error
		info, runErr = c.Run(gctx, cfg.Seeds)
		return runErr
	})
	err = g.Wait()

	if closeErr := sink.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return info, err
}

func printRunSummary(w io.Writer, cfg *config.AppConfig, info *models.RunInfo) {
	if info == nil {
		return
	}
	fmt.Fprintf(w, "Run %s: %d saved, %d unchanged, %d failed", info.RunID, info.SavedCount, info.NotModified, info.ErrorCount)
	if info.DeleteEnabled {
		fmt.Fprintf(w, ", %d deleted", info.DeletedCount)
	}
	fmt.Fprintf(w, "\nMirror: %s\n", cfg.OutputDir)
}
