package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recover prices for unpriced listings from later comments",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().Int("target-year", 0, "Production year (default from settings, then config)")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	year, _ := cmd.Flags().GetInt("target-year")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	orch, err := newOrchestrator(st)
	if err != nil {
		return err
	}

	stats := orch.Backfill(ctx, year)
	fmt.Fprintf(cmd.OutOrStdout(), "Backfill: %d updated, %d skipped, %d errors\n", stats.Updated, stats.Skipped, stats.Errors)
	return ctx.Err()
}
