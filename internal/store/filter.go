package store

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/lukman83/watchfinder/internal/models"
)

const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

var sortColumns = map[string]string{
	"date_found":   "l.date_found",
	"price":        "l.price",
	"year":         "l.year",
	"brand":        "l.brand",
	"price_rating": "l.price_rating",
	"title":        "l.title",
}

// ListingFilter narrows a listing query. Zero fields do not filter.
type ListingFilter struct {
	Brand           string
	Year            int
	YearMin         int
	YearMax         int
	PriceMin        float64
	PriceMax        float64
	Ratings         []string
	Condition       string
	Source          string
	Search          string
	Sort            string
	Order           string
	Limit           int
	Offset          int
	IncludeInactive bool
}

// Normalized returns f with the sort key whitelisted and paging clamped.
func (f ListingFilter) Normalized() ListingFilter {
	if _, ok := sortColumns[f.Sort]; !ok {
		f.Sort = "date_found"
	}
	if strings.EqualFold(f.Order, "asc") {
		f.Order = "ASC"
	} else {
		f.Order = "DESC"
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	f.Limit = min(f.Limit, MaxLimit)
	f.Offset = max(f.Offset, 0)
	return f
}

// SQL renders the WHERE and ORDER BY clauses for the listings table
// aliased l joined to sources s. ph renders the n-th (1-based) placeholder.
func (f ListingFilter) SQL(ph func(n int) string) (string, []any) {
	f = f.Normalized()
	var clauses []string
	var args []any
	add := func(expr string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			expr = strings.Replace(expr, "?", ph(len(args)), 1)
		}
		clauses = append(clauses, expr)
	}

	if !f.IncludeInactive {
		add("l.is_active = TRUE")
	}
	if f.Brand != "" {
		add("LOWER(l.brand) = LOWER(?)", f.Brand)
	}
	if f.Year > 0 {
		add("l.year = ?", f.Year)
	} else {
		if f.YearMin > 0 {
			add("l.year >= ?", f.YearMin)
		}
		if f.YearMax > 0 {
			add("l.year <= ?", f.YearMax)
		}
	}
	if f.PriceMin > 0 {
		add("l.price >= ?", f.PriceMin)
	}
	if f.PriceMax > 0 {
		add("l.price <= ?", f.PriceMax)
	}
	if len(f.Ratings) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Ratings)), ",")
		vals := make([]any, len(f.Ratings))
		for i, r := range f.Ratings {
			vals[i] = r
		}
		add("l.price_rating IN ("+marks+")", vals...)
	}
	if f.Condition != "" {
		add("LOWER(l.condition) LIKE ?", "%"+strings.ToLower(f.Condition)+"%")
	}
	if f.Source != "" {
		add("LOWER(s.name) LIKE ?", "%"+strings.ToLower(f.Source)+"%")
	}
	if f.Search != "" {
		term := "%" + strings.ToLower(f.Search) + "%"
		add("(LOWER(l.title) LIKE ? OR LOWER(l.model) LIKE ? OR LOWER(l.reference) LIKE ?)", term, term, term)
	}

	var sb strings.Builder
	if len(clauses) > 0 {
		sb.WriteString("WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
		sb.WriteString(" ")
	}
	fmt.Fprintf(&sb, "ORDER BY %s %s, l.id %s", sortColumns[f.Sort], f.Order, f.Order)
	fmt.Fprintf(&sb, " LIMIT %s OFFSET %s", ph(len(args)+1), ph(len(args)+2))
	args = append(args, f.Limit, f.Offset)
	return sb.String(), args
}

// Match applies f to an in-memory listing.
func (f ListingFilter) Match(l *models.Listing) bool {
	if !f.IncludeInactive && !l.IsActive {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(l.Brand, f.Brand) {
		return false
	}
	if f.Year > 0 {
		if l.Year != f.Year {
			return false
		}
	} else if (f.YearMin > 0 && l.Year < f.YearMin) || (f.YearMax > 0 && (l.Year == 0 || l.Year > f.YearMax)) {
		return false
	}
	if (f.PriceMin > 0 && l.Price < f.PriceMin) || (f.PriceMax > 0 && (l.Price == 0 || l.Price > f.PriceMax)) {
		return false
	}
	if len(f.Ratings) > 0 && !slices.Contains(f.Ratings, l.PriceRating) {
		return false
	}
	if f.Condition != "" && !containsFold(l.Condition, f.Condition) {
		return false
	}
	if f.Source != "" && !containsFold(l.SourceName, f.Source) {
		return false
	}
	if f.Search != "" && !containsFold(l.Title, f.Search) && !containsFold(l.Model, f.Search) && !containsFold(l.Reference, f.Search) {
		return false
	}
	return true
}

// Apply filters, sorts and pages listings in memory.
func (f ListingFilter) Apply(all []models.Listing) []models.Listing {
	f = f.Normalized()
	out := make([]models.Listing, 0, len(all))
	for i := range all {
		if f.Match(&all[i]) {
			out = append(out, all[i])
		}
	}
	slices.SortStableFunc(out, func(a, b models.Listing) int {
		c := compareBy(f.Sort, &a, &b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if f.Order == "DESC" {
			return -c
		}
		return c
	})
	if f.Offset >= len(out) {
		return []models.Listing{}
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func compareBy(key string, a, b *models.Listing) int {
	switch key {
	case "price":
		return cmp.Compare(a.Price, b.Price)
	case "year":
		return cmp.Compare(a.Year, b.Year)
	case "brand":
		return cmp.Compare(a.Brand, b.Brand)
	case "price_rating":
		return cmp.Compare(a.PriceRating, b.PriceRating)
	case "title":
		return cmp.Compare(a.Title, b.Title)
	default:
		return a.DateFound.Compare(b.DateFound)
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
