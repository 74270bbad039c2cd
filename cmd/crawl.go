// Package cmd defines and implements the CLI commands for the crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
)

type crawlOptions struct {
	section string
	restart bool
	fresh   bool
	country string
	label   string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs the crawl in the foreground",
		Long: `Runs the crawl until every selected section is written, the API forces a
pause, or the process is interrupted. Without flags it continues from the
saved state, clearing any pause first.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, appInstance App) error {
			return runCrawl(cmd, appInstance, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.section, "section", "", "crawl a single section key, or __all__ for every section")
	cmd.Flags().BoolVar(&opts.restart, "restart", false, "discard traversal progress and refetch the catalog")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "delete the saved state before starting")
	cmd.Flags().StringVar(&opts.country, "country", "", "switch the country scope before crawling")
	cmd.Flags().StringVar(&opts.label, "label", "", "display label for --country")
	return cmd
}

func runCrawl(cmd *cobra.Command, appInstance App, opts *crawlOptions) error {
	ctx := cmd.Context()
	logger := appInstance.Logger()
	orch := appInstance.Orchestrator()

	if opts.fresh {
		orch.Clear(ctx)
	}
	if opts.country != "" {
		change, err := orch.SetCountry(ctx, opts.country, opts.label)
		if err != nil {
			return err
		}
		logger.Info("country scope selected",
			zap.String("country", change.Country.Code),
			zap.Bool("changed", change.Changed),
		)
	}
	if opts.section != "" || opts.restart || opts.fresh {
		start := crawler.StartOptions{SectionKey: opts.section, Restart: opts.restart}
		if err := orch.Prepare(ctx, start); err != nil {
			return fmt.Errorf("prepare crawl: %w", err)
		}
	} else {
		orch.Unpause(ctx)
	}

	res, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("crawl interrupted; progress saved", zap.String("run_id", res.RunID))
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if res.Outcome == crawler.OutcomePaused {
		return fmt.Errorf("crawl paused: %s", res.PauseReason)
	}
	return nil
}
