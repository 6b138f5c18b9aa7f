package supplier

import "testing"

func TestParseMoney(t *testing.T) {
	// WHAT: both report locales parse to the same value, currency prefixes
	// and blanks included.
	// WHY: the portal renders numbers in the account's locale; a silent
	// misparse corrupts every downstream aggregate.
	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"-", 0},
		{"0", 0},
		{"12", 12},
		{"12.50", 12.5},
		{"12,50", 12.5},
		{"1,234.56", 1234.56},
		{"1.234,56", 1234.56},
		{"1.234", 1234},
		{"1,234", 1234},
		{"0.234", 0.234},
		{"$ 1,234.56", 1234.56},
		{"R$ 1.234,56", 1234.56},
		{"MXN 99", 99},
		{"-15,75", -15.75},
	}
	for _, c := range cases {
		if got := parseMoney(c.in); got != c.want {
			t.Errorf("parseMoney(%q): got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseCount(t *testing.T) {
	// WHAT: integer cells drop grouping separators.
	// WHY: stock and order counts come through the same locale rendering.
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"7", 7},
		{"1,234", 1234},
		{"1.234", 1234},
	}
	for _, c := range cases {
		if got := parseCount(c.in); got != c.want {
			t.Errorf("parseCount(%q): got %d, want %d", c.in, got, c.want)
		}
	}
}
