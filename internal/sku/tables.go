package sku

import (
	"strings"

	"github.com/smallbiznis/stockline/internal/config"
)

// MatchingSource supplies the current matching tables; implementations may reload.
type MatchingSource interface {
	Get() config.MatchingConfig
}

// tables is the lookup form of config.MatchingConfig with normalized keys.
type tables struct {
	cfg            config.MatchingConfig
	colorSynonyms  map[string]string
	carrierAliases map[string]string
	omitCarriers   map[string]struct{}
	colors         map[string]struct{}
	carriers       map[string]struct{}
	variants       map[string]struct{}
}

func buildTables(cfg config.MatchingConfig) tables {
	t := tables{
		cfg:            cfg,
		colorSynonyms:  make(map[string]string, len(cfg.ColorSynonyms)),
		carrierAliases: make(map[string]string, len(cfg.CarrierAliases)),
		omitCarriers:   toSet(cfg.OmitCarriers),
		colors:         toSet(cfg.Colors),
		carriers:       map[string]struct{}{},
		variants:       toSet(cfg.Variants),
	}
	for k, v := range cfg.ColorSynonyms {
		canonical := compact(v)
		t.colorSynonyms[collapse(k)] = canonical
		t.colors[canonical] = struct{}{}
	}
	for k, v := range cfg.CarrierAliases {
		canonical := strings.ToUpper(strings.TrimSpace(v))
		t.carrierAliases[collapse(k)] = canonical
		t.carrierAliases[compact(k)] = canonical
		if _, omitted := t.omitCarriers[canonical]; !omitted {
			t.carriers[canonical] = struct{}{}
		}
	}
	return t
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = collapse(v)
		if v == "" {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}

// collapse uppercases and joins whitespace runs with a single space.
func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// compact uppercases and strips all whitespace.
func compact(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), "")
}
