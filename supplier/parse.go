package supplier

import (
	"strconv"
	"strings"
)

// parseMoney reads a report cell into a float. The portal renders numbers in
// whatever locale the account is set to, so both `1.234,56` and `1,234.56`
// appear in the wild, sometimes with a currency prefix. Blank cells are zero.
func parseMoney(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0
	}

	// Strip everything that is not a digit, separator, or sign.
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" || s == "-" {
		return 0
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Comma only: decimal when it leaves 1-2 trailing digits, thousands otherwise.
		if len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// 1.234 style grouping; 0.xxx stays a decimal.
		if len(s)-lastDot-1 == 3 && strings.Count(s, ".") == 1 &&
			lastDot > 0 && !strings.HasPrefix(s, "0.") && !strings.HasPrefix(s, "-0.") {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseCount reads an integer cell, dropping grouping separators.
func parseCount(s string) int {
	return int(parseMoney(s))
}
