package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/procurescan/scraper-cli/internal/extract"
	"github.com/procurescan/scraper-cli/internal/fetcher"
	"github.com/procurescan/scraper-cli/internal/model"
	"github.com/procurescan/scraper-cli/internal/normalize"
	"github.com/procurescan/scraper-cli/internal/pipeline"
	"github.com/procurescan/scraper-cli/internal/runlog"
)

// Version is recorded on every run row and stamped at build time via
// -ldflags "-X main.Version=...".
var Version = "dev"

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run the tender scrape pipeline",
	Long:  "Walks the portal's listing pages, fetches each tender's detail page, normalizes the record, and upserts it into Postgres. The run's counters and error breakdown are persisted even when the run degrades.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		applyScrapeFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := fetcher.New(fetcher.Options{
			BaseURL:    cfg.Scrape.BaseURL,
			UserAgent:  cfg.Scrape.UserAgent,
			Timeout:    cfg.Scrape.Timeout(),
			MaxRetries: cfg.Scrape.MaxRetries,
			RatePerSec: cfg.Scrape.RateLimit,
		}, zap.L())
		if err != nil {
			return err
		}

		ex, err := extract.NewNprocure(cfg.Scrape.BaseURL, extract.DefaultSelectors())
		if err != nil {
			return err
		}

		tracker := runlog.New(st, Version, cfg.Scrape.Snapshot(), zap.L())
		ctrl := pipeline.New(
			f,
			ex,
			normalize.New(cfg.Scrape.Source),
			st,
			tracker,
			pipeline.Options{
				Source:   cfg.Scrape.Source,
				MaxPages: cfg.Scrape.MaxPages,
				Limit:    cfg.Scrape.Limit,
			},
			zap.L(),
		)

		run, err := ctrl.Run(ctx)
		printRunSummary(run)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}
		return nil
	},
}

// applyScrapeFlags overlays explicitly-set flags onto the loaded config so
// flag > env > file > default ordering holds.
func applyScrapeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.Scrape.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("rate-limit") {
		cfg.Scrape.RateLimit, _ = flags.GetFloat64("rate-limit")
	}
	if flags.Changed("timeout") {
		cfg.Scrape.TimeoutSecs, _ = flags.GetInt("timeout")
	}
	if flags.Changed("retries") {
		cfg.Scrape.MaxRetries, _ = flags.GetInt("retries")
	}
	if flags.Changed("limit") {
		cfg.Scrape.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("max-pages") {
		cfg.Scrape.MaxPages, _ = flags.GetInt("max-pages")
	}
}

func printRunSummary(run model.Run) {
	fmt.Fprintf(os.Stderr, "run %s: %s\n", run.RunID, run.Status)
	fmt.Fprintf(os.Stderr, "  pages visited: %d\n", run.PagesVisited)
	fmt.Fprintf(os.Stderr, "  parsed: %d  saved: %d  deduped: %d  failures: %d\n",
		run.TendersParsed, run.TendersSaved, run.DedupedCount, run.Failures)
	for kind, n := range run.ErrorSummary {
		fmt.Fprintf(os.Stderr, "    %s: %d\n", kind, n)
	}
}

func init() {
	scrapeCmd.Flags().String("base-url", "", "portal base URL")
	scrapeCmd.Flags().Float64("rate-limit", 1.0, "max requests per second")
	scrapeCmd.Flags().Int("timeout", 30, "per-request timeout in seconds")
	scrapeCmd.Flags().Int("retries", 3, "retries per fetch after the first attempt")
	scrapeCmd.Flags().Int("limit", 0, "max tenders to process this run (0 = unlimited)")
	scrapeCmd.Flags().Int("max-pages", 10, "max listing pages to walk")
	rootCmd.AddCommand(scrapeCmd)
}
