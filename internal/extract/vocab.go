package extract

import "sort"

// Alias maps a lowercase keyword to its canonical label.
type Alias struct {
	Keyword string
	Label   string
}

// BrandAliases is scanned for the leftmost keyword occurrence.
// Model names that only one maker uses resolve to that maker.
var BrandAliases = []Alias{
	{"audemars piguet", "Audemars Piguet"},
	{"patek philippe", "Patek Philippe"},
	{"vacheron constantin", "Vacheron Constantin"},
	{"grand seiko", "Grand Seiko"},
	{"tag heuer", "TAG Heuer"},
	{"jaeger-lecoultre", "Jaeger-LeCoultre"},
	{"jaeger lecoultre", "Jaeger-LeCoultre"},
	{"a. lange", "A. Lange & Söhne"},
	{"lange & sohne", "A. Lange & Söhne"},
	{"gmt-master", "Rolex"},
	{"gmt master", "Rolex"},
	{"datejust", "Rolex"},
	{"submariner", "Rolex"},
	{"daytona", "Rolex"},
	{"sea-dweller", "Rolex"},
	{"sky-dweller", "Rolex"},
	{"milgauss", "Rolex"},
	{"yacht-master", "Rolex"},
	{"day-date", "Rolex"},
	{"air-king", "Rolex"},
	{"explorer", "Rolex"},
	{"rolex", "Rolex"},
	{"tudor", "Tudor"},
	{"omega", "Omega"},
	{"breitling", "Breitling"},
	{"navitimer", "Breitling"},
	{"panerai", "Panerai"},
	{"luminor", "Panerai"},
	{"radiomir", "Panerai"},
	{"cartier", "Cartier"},
	{"blancpain", "Blancpain"},
	{"zenith", "Zenith"},
	{"hublot", "Hublot"},
	{"patek", "Patek Philippe"},
	{"seiko", "Seiko"},
	{"audemars", "Audemars Piguet"},
	{"royal oak", "Audemars Piguet"},
	{"vacheron", "Vacheron Constantin"},
	{"iwc", "IWC"},
	{"jaeger", "Jaeger-LeCoultre"},
	{"jlc", "Jaeger-LeCoultre"},
	{"lange", "A. Lange & Söhne"},
}

// ModelAliases lists model keywords per canonical brand.
var ModelAliases = map[string][]Alias{
	"Rolex": {
		{"datejust", "Datejust"},
		{"submariner", "Submariner"},
		{"daytona", "Daytona"},
		{"gmt-master ii", "GMT-Master II"},
		{"gmt-master", "GMT-Master II"},
		{"gmt master", "GMT-Master II"},
		{"explorer ii", "Explorer II"},
		{"explorer", "Explorer"},
		{"air-king", "Air-King"},
		{"milgauss", "Milgauss"},
		{"sea-dweller", "Sea-Dweller"},
		{"sky-dweller", "Sky-Dweller"},
		{"yacht-master", "Yacht-Master"},
		{"day-date", "Day-Date"},
		{"president", "Day-Date"},
		{"cellini", "Cellini"},
		{"pearlmaster", "Pearlmaster"},
		{"oysterquartz", "Oysterquartz"},
	},
	"Omega": {
		{"speedmaster", "Speedmaster"},
		{"seamaster", "Seamaster"},
		{"planet ocean", "Seamaster Planet Ocean"},
		{"aqua terra", "Seamaster Aqua Terra"},
		{"constellation", "Constellation"},
		{"de ville", "De Ville"},
	},
	"Tudor": {
		{"black bay", "Black Bay"},
		{"pelagos", "Pelagos"},
		{"ranger", "Ranger"},
		{"north flag", "North Flag"},
	},
	"Audemars Piguet": {
		{"royal oak offshore", "Royal Oak Offshore"},
		{"royal oak", "Royal Oak"},
		{"code 11.59", "Code 11.59"},
	},
	"Patek Philippe": {
		{"nautilus", "Nautilus"},
		{"aquanaut", "Aquanaut"},
		{"calatrava", "Calatrava"},
	},
}

// ConditionAliases maps colloquial phrases to the fixed label set.
var ConditionAliases = []Alias{
	{"new/unworn", "New/Unworn"},
	{"new unworn", "New/Unworn"},
	{"unworn", "New/Unworn"},
	{"brand new", "New/Unworn"},
	{"mint", "Mint"},
	{"excellent", "Excellent"},
	{"very good", "Very Good"},
	{"good", "Good"},
	{"fair", "Fair"},
}

// longestFirst returns a copy ordered by descending keyword length.
// Equal lengths keep table order.
func longestFirst(aliases []Alias) []Alias {
	out := make([]Alias, len(aliases))
	copy(out, aliases)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Keyword) > len(out[j].Keyword)
	})
	return out
}
