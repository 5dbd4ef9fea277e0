package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var errNoSeeds = errors.New("no URLs given and none registered")

type scrapeFlags struct {
	reviewLimit int
	delayMs     int
	minRating   float64
	retries     int
	registered  bool
}

// newScrapeCmd creates the 'scrape' subcommand, which runs one job in the
// foreground and prints its summary.
func newScrapeCmd() *cobra.Command {
	flags := &scrapeFlags{}
	cmd := &cobra.Command{
		Use:   "scrape [urls...]",
		Short: "Runs a scrape job in the foreground",
		Long: `Scrapes the given listing URLs, or every registered seed URL when
--registered is set, storing the companies found. Flags override the
scrape.* defaults from the config file for this run only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrapeCommand(cmd, args, flags)
		},
	}
	defaults := defaultScrapeFlags()
	cmd.Flags().IntVar(&flags.reviewLimit, "review-limit", defaults.reviewLimit, "maximum records per page")
	cmd.Flags().IntVar(&flags.delayMs, "delay", defaults.delayMs, "pause between pages and URLs in milliseconds")
	cmd.Flags().Float64Var(&flags.minRating, "min-rating", defaults.minRating, "drop companies rated below this")
	cmd.Flags().IntVar(&flags.retries, "retries", defaults.retries, "attempts per page")
	cmd.Flags().BoolVar(&flags.registered, "registered", false, "scrape the registered seed URLs")
	return cmd
}

func defaultScrapeFlags() scrapeFlags {
	d := crawler.DefaultSettings()
	return scrapeFlags{reviewLimit: d.ReviewLimit, delayMs: d.DelayMs, minRating: d.MinRating, retries: d.RetryAttempts}
}

func runScrapeCommand(cmd *cobra.Command, args []string, flags *scrapeFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	urls := make([]string, 0, len(args))
	for _, raw := range args {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if flags.registered {
		seeds, err := appInstance.Seeds().List(ctx)
		if err != nil {
			return err
		}
		for _, seed := range seeds {
			urls = append(urls, seed.URL)
		}
	}
	if len(urls) == 0 {
		return errNoSeeds
	}
	for _, u := range urls {
		if err := appInstance.Seeds().Validate(u); err != nil {
			return err
		}
	}

	settings := appInstance.Config().DefaultSettings()
	applyScrapeFlags(cmd, flags, &settings)
	if settings.MinRating < 0 || settings.MinRating > 5 {
		return errors.New("--min-rating must be within [0,5]")
	}

	job, err := appInstance.Orchestrator().Start(ctx, urls, settings)
	if err != nil {
		return fmt.Errorf("run scrape: %w", err)
	}
	stored, err := appInstance.Repository().GetJob(ctx, job.ID)
	if err != nil {
		appInstance.Logger().Warn("reload job failed", zap.String("job_id", job.ID), zap.Error(err))
		stored = job
	}
	formatJobSummary(cmd.OutOrStdout(), stored)
	return nil
}

// applyScrapeFlags overlays only the flags the user actually set.
func applyScrapeFlags(cmd *cobra.Command, flags *scrapeFlags, settings *crawler.Settings) {
	if cmd.Flags().Changed("review-limit") && flags.reviewLimit > 0 {
		settings.ReviewLimit = flags.reviewLimit
	}
	if cmd.Flags().Changed("delay") && flags.delayMs >= 0 {
		settings.DelayMs = flags.delayMs
	}
	if cmd.Flags().Changed("min-rating") {
		settings.MinRating = flags.minRating
	}
	if cmd.Flags().Changed("retries") && flags.retries > 0 {
		settings.RetryAttempts = flags.retries
	}
}

func formatJobSummary(w io.Writer, job crawler.Job) {
	fmt.Fprintf(w, "job:        %s\n", job.ID)
	fmt.Fprintf(w, "status:     %s\n", job.Status)
	fmt.Fprintf(w, "urls:       %d/%d\n", job.ProcessedURLs, job.TotalURLs)
	fmt.Fprintf(w, "companies:  %d\n", job.TotalCompanies)
	fmt.Fprintf(w, "errors:     %d\n", job.ErrorCount)
	if job.StartedAt != nil && job.CompletedAt != nil {
		fmt.Fprintf(w, "duration:   %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
}
