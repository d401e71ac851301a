package cmd

import (
	"fmt"

	"github.com/lukman83/watchfinder/internal/store"
	"github.com/spf13/cobra"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Show stored listings",
	Example: `  watchfinder listings --year 2007 --rating Great --rating Good
  watchfinder listings --brand Rolex --format json`,
	RunE: runListings,
}

func init() {
	listingsCmd.Flags().String("brand", "", "Filter by brand (case-insensitive)")
	listingsCmd.Flags().Int("year", 0, "Filter by production year")
	listingsCmd.Flags().StringArray("rating", nil, "Filter by price rating (repeatable)")
	listingsCmd.Flags().String("search", "", "Search titles and descriptions")
	listingsCmd.Flags().String("sort", "date_found", "Sort by: date_found, price, year, brand, price_rating, title")
	listingsCmd.Flags().Int("limit", 20, "Maximum listings to show")
	listingsCmd.Flags().String("format", "table", "Output format: table, json")
	rootCmd.AddCommand(listingsCmd)
}

func runListings(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	var f store.ListingFilter
	f.Brand, _ = cmd.Flags().GetString("brand")
	f.Year, _ = cmd.Flags().GetInt("year")
	f.Ratings, _ = cmd.Flags().GetStringArray("rating")
	f.Search, _ = cmd.Flags().GetString("search")
	f.Sort, _ = cmd.Flags().GetString("sort")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	st, err := openStore(cmd.Context())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	listings, err := st.Listings(cmd.Context(), f.Normalized())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(w, listings)
	}
	if len(listings) == 0 {
		fmt.Fprintln(w, "No listings found.")
		return nil
	}
	printListingsTable(w, listings)
	return nil
}
