package sku

import (
	"strings"

	"github.com/smallbiznis/stockline/internal/config"
)

type Method string

const (
	MethodExactModel       Method = "exact_model"
	MethodFuzzyModel       Method = "fuzzy_model"
	MethodCategoryMismatch Method = "category_mismatch"
	MethodPartialMatch     Method = "partial_match"
	MethodNoMatch          Method = "no_match"
)

type Status string

const (
	StatusMatched      Status = "matched"
	StatusManualReview Status = "manual_review"
	StatusNoMatch      Status = "no_match"
)

// Result is the outcome of matching one candidate against a catalog.
type Result struct {
	OriginalSku string
	MatchedSku  *string
	Score       float64
	Method      Method
	Status      Status
}

// Engine generates catalog keys from device attributes and scores them
// against a catalog. Tables are read from the source on every call so a
// reloaded config takes effect without a restart.
type Engine struct {
	source MatchingSource
}

func NewEngine(source MatchingSource) *Engine {
	if source == nil {
		source = config.NewStaticMatchingConfigHolder(config.DefaultMatchingConfig())
	}
	return &Engine{source: source}
}

func (e *Engine) tables() tables {
	return buildTables(e.source.Get())
}

// DetectCategory classifies free text by keyword.
func (e *Engine) DetectCategory(texts ...string) Category {
	return e.tables().detectCategory(texts...)
}

// Generate derives the candidate components for a device.
func (e *Engine) Generate(attrs Attributes) Components {
	return e.tables().generate(attrs)
}

// Parse splits a catalog key into components.
func (e *Engine) Parse(key string) Components {
	return e.tables().parse(key, "")
}

// Score compares two component sets. Components missing on either side are
// left out of both the weighted sum and the weight total.
func (e *Engine) Score(a, b Components) float64 {
	return e.tables().score(a, b)
}

// Match parses candidateKey and matches it against catalog.
func (e *Engine) Match(candidateKey string, catalog []Entry) Result {
	return e.tables().match(strings.ToUpper(strings.TrimSpace(candidateKey)), "", catalog)
}

// MatchComponents matches generated components against catalog. The
// candidate is scored in its key form so it parses like the catalog does.
func (e *Engine) MatchComponents(candidate Components, catalog []Entry) Result {
	return e.tables().match(candidate.Key(), candidate.Category, catalog)
}

func (t tables) score(a, b Components) float64 {
	w := t.cfg.Weights
	var sum, total float64
	add := func(weight, similarity float64) {
		sum += weight * similarity
		total += weight
	}

	add(w.Category, exact(string(a.Category), string(b.Category)))
	if am, bm := a.ModelName(), b.ModelName(); am != "" && bm != "" {
		add(w.Model, Similarity(am, bm))
	}
	if a.Capacity != "" && b.Capacity != "" {
		add(w.Capacity, exact(a.Capacity, b.Capacity))
	}
	if a.Color != "" && b.Color != "" {
		add(w.Color, Similarity(a.Color, b.Color))
	}
	if a.Carrier != "" && b.Carrier != "" {
		add(w.Carrier, exact(a.Carrier, b.Carrier))
	}

	if total <= 0 {
		return 0
	}
	return clamp(sum / total)
}

// match keeps the highest score. Equal scores resolve to the key identical to
// the candidate, then to the lexically smaller key, so the result does not
// depend on catalog order.
func (t tables) match(originalKey string, hint Category, catalog []Entry) Result {
	candidate := t.parse(originalKey, hint)
	result := Result{
		OriginalSku: originalKey,
		Method:      MethodNoMatch,
		Status:      StatusNoMatch,
	}

	bestScore := -1.0
	var bestKey string
	var bestComponents Components
	for _, entry := range catalog {
		key := strings.ToUpper(strings.TrimSpace(entry.Key))
		if key == "" {
			continue
		}
		parsed := t.parse(key, entry.Category)
		s := t.score(candidate, parsed)
		if s > bestScore || (s == bestScore && preferKey(key, bestKey, originalKey)) {
			bestScore = s
			bestKey = key
			bestComponents = parsed
		}
	}
	if bestScore < 0 {
		return result
	}

	result.Score = bestScore
	switch {
	case bestScore >= t.cfg.MatchedThreshold:
		result.Status = StatusMatched
	case bestScore >= t.cfg.ReviewThreshold:
		result.Status = StatusManualReview
	default:
		return result
	}

	matched := bestKey
	result.MatchedSku = &matched
	result.Method = t.method(candidate, bestComponents)
	return result
}

func preferKey(key, best, original string) bool {
	if exact, bestExact := key == original, best == original; exact != bestExact {
		return exact
	}
	return key < best
}

func (t tables) method(candidate, best Components) Method {
	if candidate.Category != best.Category {
		return MethodCategoryMismatch
	}
	cm, bm := candidate.ModelName(), best.ModelName()
	if cm == "" || bm == "" {
		return MethodPartialMatch
	}
	switch sim := Similarity(cm, bm); {
	case sim == 1:
		return MethodExactModel
	case sim >= 0.8:
		return MethodFuzzyModel
	default:
		return MethodPartialMatch
	}
}
