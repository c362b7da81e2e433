// Package coerce converts scraped cell values into usable numbers.
// Source tables mix formats freely ("1,500", "42%", "n/a", "—") so
// every conversion resolves to a defined fallback instead of failing.
package coerce

import (
	"strconv"
	"strings"
)

// values above this are treated as data-entry errors rather than real
// percentages or counts-of-thousands
const maxSaneFloat = 999

var missingMarkers = map[string]bool{
	"":        true,
	"n/a":     true,
	"na":      true,
	"unknown": true,
	"-":       true,
	"—":       true,
	"–":       true,
}

func cleanNumeric(v string) (string, bool) {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, ",", "")
	v = strings.ReplaceAll(v, " ", "")
	if missingMarkers[strings.ToLower(v)] {
		return "", false
	}
	return v, true
}

// ToInt parses v as an integer, stripping thousands separators and
// whitespace. Float-looking strings ("42.0") truncate. Missing markers,
// unparseable input and negative values all resolve to 0.
func ToInt(v string) int {
	cleaned, ok := cleanNumeric(v)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	if f < 0 || f > float64(int64(1)<<53) {
		return 0
	}
	return int(f)
}

// ToFloat parses v as a float, stripping percent signs, thousands
// separators and whitespace. Missing markers, unparseable input,
// negative values and implausibly large magnitudes resolve to 0: bad
// input is safer treated as "no data" than fed into an average.
func ToFloat(v string) float64 {
	cleaned, ok := cleanNumeric(v)
	if !ok {
		return 0
	}
	cleaned = strings.ReplaceAll(cleaned, "%", "")
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	if f < 0 || f > maxSaneFloat {
		return 0
	}
	return f
}
