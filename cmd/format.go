package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lukman83/watchfinder/internal/models"
)

// printListingsTable prints listings in a human-friendly card layout.
func printListingsTable(w io.Writer, listings []models.Listing) {
	for i, l := range listings {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, " %d. %s\n", i+1, truncate(l.Title, 90))

		var facts []string
		if l.Brand != "" {
			facts = append(facts, l.Brand)
		}
		if l.Reference != "" {
			facts = append(facts, "ref "+l.Reference)
		}
		if l.Year > 0 {
			facts = append(facts, fmt.Sprintf("%d", l.Year))
		}
		if l.Condition != "" {
			facts = append(facts, l.Condition)
		}
		if len(facts) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.Join(facts, " | "))
		}

		priceLine := "    Price: " + formatPrice(l.Price, l.Currency)
		if l.PriceRating != "" {
			priceLine += "  [" + l.PriceRating + "]"
		}
		if l.MarketPrice > 0 {
			priceLine += fmt.Sprintf("  (market %s, %.1f%%)", formatPrice(l.MarketPrice, l.Currency), l.PriceDeltaPct)
		}
		fmt.Fprintln(w, priceLine)

		seen := l.DateFound
		if l.DateListed != nil {
			seen = *l.DateListed
		}
		meta := "    " + l.SourceName
		if l.Seller != "" {
			meta += " by " + l.Seller
		}
		if !seen.IsZero() {
			meta += ", " + humanize.Time(seen)
		}
		fmt.Fprintln(w, meta)
		fmt.Fprintf(w, "    %s\n", l.URL)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatPrice formats a price as "USD 12,500" or "unpriced".
func formatPrice(p float64, currency string) string {
	if p <= 0 {
		return "unpriced"
	}
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return currency + " " + humanize.CommafWithDigits(p, 2)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
