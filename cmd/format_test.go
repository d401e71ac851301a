package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lukman83/watchfinder/internal/models"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price    float64
		currency string
		want     string
	}{
		{12500, "USD", "USD 12,500"},
		{9500.5, "", "USD 9,500.5"},
		{0, "USD", "unpriced"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.price, tt.currency); got != tt.want {
			t.Errorf("formatPrice(%v, %q) = %q, want %q", tt.price, tt.currency, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Rolex Submariner", 8); got != "Rolex..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestRedactDSN(t *testing.T) {
	if got := redactDSN("postgres://watch:secret@db:5432/watchfinder"); strings.Contains(got, "secret") {
		t.Errorf("password leaked: %q", got)
	}
	if got := redactDSN("watches.db"); got != "watches.db" {
		t.Errorf("redactDSN(path) = %q", got)
	}
}

func TestPrintListingsTable(t *testing.T) {
	var buf bytes.Buffer
	printListingsTable(&buf, []models.Listing{{
		Title:       "FS: Rolex Submariner 16610",
		Brand:       "Rolex",
		Reference:   "16610",
		Year:        2007,
		Price:       9500,
		Currency:    "USD",
		PriceRating: "Good",
		SourceName:  "RolexForums BST",
		URL:         "https://www.rolexforums.com/showthread.php?t=101",
	}})
	out := buf.String()
	for _, want := range []string{"Rolex | ref 16610 | 2007", "USD 9,500  [Good]", "showthread.php?t=101"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintRunStats(t *testing.T) {
	var stats models.CombinedStats
	stats.Add(models.RunStats{Source: "Reddit r/Watchexchange", Pages: 1, Errors: 1, Blocked: true})
	var buf bytes.Buffer
	printRunStats(&buf, stats)
	if !strings.Contains(buf.String(), "[blocked]") || !strings.Contains(buf.String(), "1 errors") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
