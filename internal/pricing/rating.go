package pricing

import (
	"math"
	"sort"
)

type Rating string

const (
	Great  Rating = "Great"
	Good   Rating = "Good"
	Fair   Rating = "Fair"
	High   Rating = "High"
	NoData Rating = "N/A"
)

// Ratio thresholds against market price, inclusive.
const (
	greatMax = 0.90
	goodMax  = 1.00
	fairMax  = 1.10
)

// Rate classifies an asking price against a market price and returns the ratio.
func Rate(asking, market float64) (Rating, float64) {
	if market <= 0 {
		return NoData, 0
	}
	ratio := asking / market
	switch {
	case ratio <= greatMax:
		return Great, ratio
	case ratio <= goodMax:
		return Good, ratio
	case ratio <= fairMax:
		return Fair, ratio
	default:
		return High, ratio
	}
}

// Median sorts prices ascending and returns the element at len/2.
// For even counts that is the upper of the two central values, not their mean.
func Median(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
