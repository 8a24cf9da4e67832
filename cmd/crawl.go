package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/frontier-crawler/internal/app"
)

const closeTimeout = 30 * time.Second

func newCrawlCmd() *cobra.Command {
	var (
		seeds       []string
		maxPages    int
		maxDepth    int
		concurrency int
		delay       time.Duration
		timeout     time.Duration
		offsite     bool
		reset       bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Runs one crawl session until the frontier is exhausted",
		Long: `Seeds the frontier with the configured and given URLs and crawls until
nothing is left to fetch, the page budget is spent, or the process is
interrupted. Unfinished work stays in the frontier for the next run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig(cmd.Context())
			if err != nil {
				return err
			}
			cfg.Crawler.Seeds = append(cfg.Crawler.Seeds, seeds...)
			cfg.Crawler.Seeds = append(cfg.Crawler.Seeds, args...)
			flags := cmd.Flags()
			if flags.Changed("max-pages") {
				cfg.Crawler.MaxPages = maxPages
			}
			if flags.Changed("max-depth") {
				cfg.Crawler.MaxDepth = maxDepth
			}
			if flags.Changed("concurrency") {
				cfg.Crawler.Concurrency = concurrency
			}
			if flags.Changed("delay") {
				cfg.Crawler.Delay = delay
			}
			if flags.Changed("timeout") {
				cfg.Crawler.Timeout = timeout
			}
			if flags.Changed("offsite") {
				cfg.Crawler.AllowOffsite = offsite
			}
			if reset {
				cfg.Crawler.ResetFrontier = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(cmd.Context(), a)

			summary, err := a.Crawl(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summaryView(summary))
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many fetched pages (0 is unlimited)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "deepest link depth that is queued (-1 is unlimited)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 5, "number of fetch workers")
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "minimum spacing between requests to one host")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "timeout per fetch attempt")
	cmd.Flags().BoolVar(&offsite, "offsite", false, "follow links to other hosts")
	cmd.Flags().BoolVar(&reset, "reset-frontier", false, "clear the frontier before seeding")
	return cmd
}

func closeApp(ctx context.Context, a *app.App) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.Logger().Warn("failed to close application", zap.Error(err))
	}
}
