package cmd

import (
	"fmt"
	"strings"

	"github.com/lukman83/watchfinder/internal/pricing"
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:     "price BRAND",
	Short:   "Rate an asking price against the WatchCharts market price",
	Example: `  watchfinder price Rolex --reference 16610 --asking 9500`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runPrice,
}

func init() {
	priceCmd.Flags().String("model", "", "Model name, used when no reference is given")
	priceCmd.Flags().String("reference", "", "Reference number")
	priceCmd.Flags().Float64("asking", 0, "Asking price in USD")
	priceCmd.MarkFlagRequired("asking")
	rootCmd.AddCommand(priceCmd)
}

func runPrice(cmd *cobra.Command, args []string) error {
	var q pricing.Query
	q.Brand = strings.Join(args, " ")
	q.Model, _ = cmd.Flags().GetString("model")
	q.Reference, _ = cmd.Flags().GetString("reference")
	q.Asking, _ = cmd.Flags().GetFloat64("asking")
	if q.Asking <= 0 {
		return fmt.Errorf("--asking must be positive")
	}

	pricer, err := buildPricer()
	if err != nil {
		return err
	}
	res := pricer.Check(cmd.Context(), q)

	w := cmd.OutOrStdout()
	if res.Rating == pricing.NoData {
		fmt.Fprintln(w, "No market price found.")
		return nil
	}
	fmt.Fprintf(w, "Rating: %s\n", res.Rating)
	fmt.Fprintf(w, "Market: %s (%s)\n", formatPrice(res.MarketPrice, ""), res.Source)
	fmt.Fprintf(w, "Asking: %s, %.1f%% of market\n", formatPrice(q.Asking, ""), res.PctOfMarket)
	if res.URL != "" {
		fmt.Fprintln(w, res.URL)
	}
	return nil
}
