package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MinYear = 1950
	MaxYear = 2029

	// MaxDescription bounds stored descriptions, in runes.
	MaxDescription = 2000
)

var yearRE = regexp.MustCompile(`\b(19[5-9]\d|20[0-2]\d)\b`)

type referenceShape struct {
	name    string
	pattern string
}

// referenceShapes are tried as one alternation, generic catch-all last.
var referenceShapes = []referenceShape{
	{"rolex-modern", `1\d{4,5}[A-Z]{0,3}`},
	{"panerai", `PAM\s?\d{3,4}`},
	{"iwc", `IW\s?\d{6}`},
	{"ap-royal-oak", `15[234]\d{2}[A-Z]?`},
	{"patek", `5[0-9]{3}[A-Z0-9]{1,4}`},
	{"generic", `\d{4}[A-Z]{1,3}[\d.]*`},
}

var referenceRE = func() *regexp.Regexp {
	parts := make([]string, len(referenceShapes))
	for i, s := range referenceShapes {
		parts[i] = s.pattern
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
}()

var wantedRE = regexp.MustCompile(`(?i)\b(wtb|iso|in search of|want to buy|wantto buy)\b`)

var (
	modelTables     = buildModelTables()
	conditionsByLen = longestFirst(ConditionAliases)
)

func buildModelTables() map[string][]Alias {
	out := make(map[string][]Alias, len(ModelAliases))
	for brand, aliases := range ModelAliases {
		out[brand] = longestFirst(aliases)
	}
	return out
}

// Year returns the first four-digit token inside the production band.
func Year(text string) (int, bool) {
	for _, m := range yearRE.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err == nil && y >= MinYear && y <= MaxYear {
			return y, true
		}
	}
	return 0, false
}

// Reference returns the first reference-code shaped token, uppercased.
func Reference(text string) string {
	m := referenceRE.FindString(text)
	return strings.ToUpper(m)
}

// Brand returns the brand whose keyword appears leftmost in text.
// Ties on position go to the earlier table entry.
func Brand(text string) string {
	folded := Fold(text)
	best, bestPos := "", -1
	for _, a := range BrandAliases {
		pos := strings.Index(folded, a.Keyword)
		if pos < 0 {
			continue
		}
		if bestPos < 0 || pos < bestPos {
			best, bestPos = a.Label, pos
		}
	}
	return best
}

// Model resolves a model name for a known brand, most specific keyword first.
func Model(text, brand string) string {
	table, ok := modelTables[brand]
	if !ok {
		return ""
	}
	return firstContained(Fold(text), table)
}

func Condition(text string) string {
	return firstContained(Fold(text), conditionsByLen)
}

// IsForSale is false for "want to buy" posts.
func IsForSale(title string) bool {
	return !wantedRE.MatchString(title)
}

func firstContained(folded string, table []Alias) string {
	for _, a := range table {
		if strings.Contains(folded, a.Keyword) {
			return a.Label
		}
	}
	return ""
}

// Fold lowercases text and strips diacritics so "Söhne" matches "sohne".
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	return strings.ToLower(out)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
