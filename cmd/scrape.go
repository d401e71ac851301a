package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	"github.com/lukman83/watchfinder/internal/ui"
	"github.com/spf13/cobra"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape all sources for new watch listings",
	Example: `  watchfinder scrape
  watchfinder scrape --pages 5 --target-year 2007
  watchfinder scrape --source "Reddit r/Watchexchange" --dry-run`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().Int("pages", 0, "Pages per source (default from settings, then config)")
	scrapeCmd.Flags().Int("target-year", 0, "Production year to price (default from settings, then config)")
	scrapeCmd.Flags().StringArray("source", nil, "Only scrape this source (repeatable)")
	scrapeCmd.Flags().Bool("dry-run", false, "Keep results in memory instead of the database")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	pages, _ := cmd.Flags().GetInt("pages")
	year, _ := cmd.Flags().GetInt("target-year")
	sources, _ := cmd.Flags().GetStringArray("source")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStoreOrMemory(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	orch, err := newOrchestrator(st)
	if err != nil {
		return err
	}

	opts := orch.Resolve(ctx, orchestrator.RunOptions{Pages: pages, TargetYear: year, Sources: sources})
	fmt.Fprintf(os.Stderr, "Scraping %d page(s) per source, pricing %d listings...\n", opts.Pages, opts.TargetYear)

	spin := ui.NewSpinner()
	spin.Start("Starting...")
	opts.Progress = spin.Progress
	stats := orch.Run(ctx, opts)
	spin.Stop()

	printRunStats(cmd.OutOrStdout(), stats)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

func printRunStats(w io.Writer, stats models.CombinedStats) {
	for _, s := range stats.Sources {
		line := fmt.Sprintf("%-24s pages %d  items %d  new %d  updated %d  priced %d  errors %d",
			s.Source, s.Pages, s.Items, s.New, s.Updated, s.Priced, s.Errors)
		if s.Blocked {
			line += "  [blocked]"
		}
		if s.Err != "" {
			line += "  (" + s.Err + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Total: %d new, %d updated, %d priced, %d errors\n", stats.New, stats.Updated, stats.Priced, stats.Errors)
}
