// Package extract turns free-form listing text into typed watch attributes.
// Every function is pure and deterministic.
package extract

import "strings"

// Fields is the combined result of running every extractor.
type Fields struct {
	Brand     string
	Model     string
	Reference string
	Year      int
	Price     float64
	Condition string
}

// Parse extracts fields from a title and body. The title decides the
// brand when it names one, so rivals mentioned in the body do not win.
func Parse(title, body string) Fields {
	combined := strings.TrimSpace(title + " " + body)

	f := Fields{
		Brand:     Brand(title),
		Reference: Reference(combined),
		Condition: Condition(combined),
	}
	if f.Brand == "" {
		f.Brand = Brand(combined)
	}
	if f.Brand != "" {
		f.Model = Model(combined, f.Brand)
	}
	if y, ok := Year(combined); ok {
		f.Year = y
	}
	if p, ok := Price(combined); ok {
		f.Price = p
	}
	return f
}
