package sku

import "strings"

type Category string

const (
	CategoryPhone    Category = "phone"
	CategoryWatch    Category = "watch"
	CategoryTablet   Category = "tablet"
	CategoryComputer Category = "computer"
)

// prefix is the leading key token for non-phone categories.
func (c Category) prefix() string {
	switch c {
	case CategoryWatch:
		return "WATCH"
	case CategoryTablet:
		return "TAB"
	case CategoryComputer:
		return "COMP"
	default:
		return ""
	}
}

func categoryFromPrefix(token string) (Category, bool) {
	switch token {
	case "WATCH":
		return CategoryWatch, true
	case "TAB":
		return CategoryTablet, true
	case "COMP":
		return CategoryComputer, true
	default:
		return CategoryPhone, false
	}
}

// detectCategory checks watch, tablet and computer keywords in that order.
// The first keyword hit wins; anything else is a phone.
func (t tables) detectCategory(texts ...string) Category {
	haystack := " " + collapse(strings.Join(texts, " ")) + " "
	if containsAny(haystack, t.cfg.WatchKeywords) {
		return CategoryWatch
	}
	if containsAny(haystack, t.cfg.TabletKeywords) {
		return CategoryTablet
	}
	if containsAny(haystack, t.cfg.ComputerKeywords) {
		return CategoryComputer
	}
	return CategoryPhone
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		kw = collapse(kw)
		if kw != "" && strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
