package sku

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity compares two tokens case-insensitively: 1.0 when equal, 0.8 when
// one contains the other, otherwise one minus the Levenshtein distance over
// the longer string's length.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	distance := levenshtein.ComputeDistance(a, b)
	return clamp(1 - float64(distance)/float64(longest))
}

func exact(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
