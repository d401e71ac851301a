package extract

import (
	"strings"
	"testing"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  float64
		found bool
	}{
		{"dollar with cents", "$1,234.56", 1234.56, true},
		{"thousands shorthand", "8.5k", 8500, true},
		{"karat guard", "18k gold", 0, false},
		{"karat guard with slash", "18k/YG Day-Date $32,000", 32000, true},
		{"below band", "$50", 0, false},
		{"above band", "$600,000", 0, false},
		{"decimal comma k", "5,5k", 5500, true},
		{"asking qualified", "Asking 8500 obo", 8500, true},
		{"dollar followed by k", "$8.5k shipped", 8500, true},
		{"dollar then karat", "$18k gold bracelet", 0, false},
		{"usd suffix", "9500 USD", 9500, true},
		{"usd prefix", "USD 4200", 4200, true},
		{"firm", "4,200 firm", 4200, true},
		{"priced colon", "price: 12,500", 12500, true},
		{"kt is not thousands", "Rolex 14kt bracelet", 0, false},
		{"skips invalid first candidate", "$20 off, asking $3,100", 3100, true},
		{"no numbers", "Rolex Submariner", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Price(tt.text)
			if ok != tt.found {
				t.Fatalf("Price(%q) found = %v, want %v (value %v)", tt.text, ok, tt.found, got)
			}
			if got != tt.want {
				t.Errorf("Price(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestHasPriceCandidate(t *testing.T) {
	if !HasPriceCandidate("sold for $20") {
		t.Error("expected a candidate for an out-of-band dollar amount")
	}
	if HasPriceCandidate("lovely watch, dm me") {
		t.Error("expected no candidate")
	}
}

func TestYear(t *testing.T) {
	tests := []struct {
		text  string
		want  int
		found bool
	}{
		{"2007 Rolex Explorer II", 2007, true},
		{"ref 1675 from 1968", 1968, true},
		{"made in 1949, serviced 2031", 0, false},
		{"serial 12007", 0, false},
		{"full set 2024 papers", 2024, true},
	}
	for _, tt := range tests {
		got, ok := Year(tt.text)
		if ok != tt.found || got != tt.want {
			t.Errorf("Year(%q) = %d, %v; want %d, %v", tt.text, got, ok, tt.want, tt.found)
		}
	}
}

func TestReference(t *testing.T) {
	tests := map[string]string{
		"Rolex 116610LN Submariner": "116610LN",
		"Panerai PAM 312 Luminor":   "PAM 312",
		"IWC IW371446 chrono":       "IW371446",
		"AP 15202ST Jumbo":          "15202ST",
		"no reference here":         "",
	}
	for text, want := range tests {
		if got := Reference(text); got != want {
			t.Errorf("Reference(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestBrandLeftmostWins(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Rolex Submariner, would trade for a Royal Oak", "Rolex"},
		{"Royal Oak 15202 with a Rolex box", "Audemars Piguet"},
		{"Lovely Submariner no date", "Rolex"},
		{"A. Lange & Söhne Lange 1", "A. Lange & Söhne"},
		{"lange & sohne saxonia", "A. Lange & Söhne"},
		{"Grand Seiko SBGA211", "Grand Seiko"},
		{"JLC Reverso", "Jaeger-LeCoultre"},
		{"vintage dress watch", ""},
	}
	for _, tt := range tests {
		if got := Brand(tt.text); got != tt.want {
			t.Errorf("Brand(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestModel(t *testing.T) {
	tests := []struct {
		text, brand, want string
	}{
		{"Rolex GMT-Master II 126710BLRO", "Rolex", "GMT-Master II"},
		{"Rolex Explorer II 16570 polar", "Rolex", "Explorer II"},
		{"Rolex Explorer 214270", "Rolex", "Explorer"},
		{"Rolex President 18038", "Rolex", "Day-Date"},
		{"Omega Speedmaster Professional", "Omega", "Speedmaster"},
		{"AP Royal Oak Offshore diver", "Audemars Piguet", "Royal Oak Offshore"},
		{"Submariner without brand", "", ""},
		{"Hublot Big Bang", "Hublot", ""},
	}
	for _, tt := range tests {
		if got := Model(tt.text, tt.brand); got != tt.want {
			t.Errorf("Model(%q, %q) = %q, want %q", tt.text, tt.brand, got, tt.want)
		}
	}
}

func TestCondition(t *testing.T) {
	tests := map[string]string{
		"condition: very good, light wear": "Very Good",
		"New unworn with stickers":         "New/Unworn",
		"Brand new, never sized":           "New/Unworn",
		"EXCELLENT overall":                "Excellent",
		"some scratches":                   "",
	}
	for text, want := range tests {
		if got := Condition(text); got != want {
			t.Errorf("Condition(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestIsForSale(t *testing.T) {
	tests := map[string]bool{
		"WTB Rolex Daytona":           false,
		"[WTS] Omega Seamaster 300":   true,
		"ISO a Tudor Black Bay 58":    false,
		"want to buy: Explorer 14270": false,
		"Isolated gem, Datejust 1601": true,
	}
	for title, want := range tests {
		if got := IsForSale(title); got != want {
			t.Errorf("IsForSale(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	title := "Rolex Datejust 16234 - 1995"
	body := "Asking $5,200 shipped. Excellent condition. Would trade for an Omega."

	got := Parse(title, body)
	want := Fields{
		Brand:     "Rolex",
		Model:     "Datejust",
		Reference: "16234",
		Year:      1995,
		Price:     5200,
		Condition: "Excellent",
	}
	if got != want {
		t.Errorf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParseTitleBrandBeatsBody(t *testing.T) {
	got := Parse("Tudor Pelagos 25600TB", "Comes in a Rolex travel pouch")
	if got.Brand != "Tudor" {
		t.Errorf("brand = %q, want Tudor", got.Brand)
	}
	if got.Model != "Pelagos" {
		t.Errorf("model = %q, want Pelagos", got.Model)
	}
}

func TestExtractorsAreDeterministic(t *testing.T) {
	texts := []string{
		"Rolex Submariner 16610 2007 $8.5k obo mint",
		"18k gold Day-Date, asking 24,000 firm",
		"WTB anything",
	}
	for _, text := range texts {
		first := Parse(text, text)
		for i := 0; i < 5; i++ {
			if again := Parse(text, text); again != first {
				t.Fatalf("Parse(%q) changed between calls: %+v vs %+v", text, first, again)
			}
		}
	}
}

func TestFoldAndTruncate(t *testing.T) {
	if got := Fold("Söhne ÉDITION"); got != "sohne edition" {
		t.Errorf("Fold() = %q", got)
	}
	long := strings.Repeat("é", MaxDescription+10)
	if got := []rune(Truncate(long, MaxDescription)); len(got) != MaxDescription {
		t.Errorf("Truncate() length = %d, want %d", len(got), MaxDescription)
	}
	if got := Truncate("short", MaxDescription); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
}
