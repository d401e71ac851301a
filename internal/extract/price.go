package extract

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	MinPrice = 100
	MaxPrice = 500_000
)

type priceRule struct {
	name string
	re   *regexp.Regexp
	// kilo rules consume the "k" themselves.
	kilo bool
}

var priceRules = []priceRule{
	{name: "dollar-prefix", re: regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d{1,2})?)`)},
	{name: "usd-suffix", re: regexp.MustCompile(`(?i)([\d,]+(?:\.\d{1,2})?)\s*USD`)},
	{name: "thousands", re: regexp.MustCompile(`(?i)([\d,.]+)\s*k\b`), kilo: true},
	{name: "usd-prefix", re: regexp.MustCompile(`(?i)USD\s*([\d,]+(?:\.\d{1,2})?)`)},
	{name: "asking", re: regexp.MustCompile(`(?i)(?:asking|priced?\s*(?:at|:)?)\s*\$?\s*([\d,]+(?:\.\d{1,2})?)`)},
	{name: "qualified", re: regexp.MustCompile(`(?i)([\d,]+(?:\.\d{1,2})?)\s*(?:obo|shipped|firm|tyd)\b`)},
}

// karatTokens after a "k" mean gold purity or case material, not thousands.
var karatTokens = []string{"yg", "wg", "rg", "ss", "gold", "white", "yellow", "rose", "ct", "carat", "karat"}

var decimalCommaRE = regexp.MustCompile(`^\d+,\d{1,2}$`)

type priceCandidate struct {
	start, end int
	raw        string
	kilo       bool
	rule       int
}

// Price returns the first plausible asking price in text, scanning
// candidates in text order. ok is false when nothing valid matched.
func Price(text string) (float64, bool) {
	for _, c := range priceCandidates(text) {
		if v, ok := c.value(text); ok {
			return v, true
		}
	}
	return 0, false
}

// HasPriceCandidate reports whether any price rule matches, valid or not.
func HasPriceCandidate(text string) bool {
	for _, r := range priceRules {
		if r.re.MatchString(text) {
			return true
		}
	}
	return false
}

func priceCandidates(text string) []priceCandidate {
	var out []priceCandidate
	for i, r := range priceRules {
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			if r.kilo && karatGuarded(text[m[1]:]) {
				continue
			}
			out = append(out, priceCandidate{
				start: m[0],
				end:   m[1],
				raw:   text[m[2]:m[3]],
				kilo:  r.kilo,
				rule:  i,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].start != out[j].start {
			return out[i].start < out[j].start
		}
		return out[i].rule < out[j].rule
	})
	return out
}

func (c priceCandidate) value(text string) (float64, bool) {
	kilo := c.kilo
	if !kilo && c.end < len(text) && (text[c.end] == 'k' || text[c.end] == 'K') {
		window := text[c.end+1:]
		if len(window) > 8 {
			window = window[:8]
		}
		kilo = !karatGuarded(window)
	}

	raw := c.raw
	if kilo && decimalCommaRE.MatchString(raw) {
		raw = strings.Replace(raw, ",", ".", 1)
	} else {
		raw = strings.ReplaceAll(raw, ",", "")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if kilo {
		v *= 1000
	}
	if v < MinPrice || v > MaxPrice {
		return 0, false
	}
	return math.Round(v*100) / 100, true
}

// karatGuarded reports whether rest, the text right after a "k", starts
// with a purity or material token, allowing a "/" and spaces first.
func karatGuarded(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	rest = strings.TrimPrefix(rest, "/")
	rest = strings.ToLower(strings.TrimLeft(rest, " \t\r\n"))
	for _, tok := range karatTokens {
		if strings.HasPrefix(rest, tok) {
			return true
		}
	}
	return false
}
