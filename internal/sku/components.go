package sku

import "strings"

// Components is the structured form of a catalog key.
type Components struct {
	Category Category
	Model    string
	Variant  string
	Capacity string
	Color    string
	Carrier  string
}

// ModelName is the model with its variant tokens, used for similarity.
func (c Components) ModelName() string {
	return c.Model + strings.ReplaceAll(c.Variant, "-", "")
}

// Key assembles the catalog key in category-specific token order:
//
//	phone:    MODEL[-VARIANT]-CAPACITY-COLOR-CARRIER
//	watch:    WATCH-MODEL-SIZE[-CARRIER]-COLOR
//	tablet:   TAB-MODEL[-VARIANT]-CAPACITY-COLOR[-CARRIER]
//	computer: COMP-MODEL[-VARIANT]-CAPACITY-COLOR
func (c Components) Key() string {
	var parts []string
	switch c.Category {
	case CategoryWatch:
		parts = []string{CategoryWatch.prefix(), c.Model, c.Variant, c.Capacity, c.Carrier, c.Color}
	case CategoryTablet:
		parts = []string{CategoryTablet.prefix(), c.Model, c.Variant, c.Capacity, c.Color, c.Carrier}
	case CategoryComputer:
		parts = []string{CategoryComputer.prefix(), c.Model, c.Variant, c.Capacity, c.Color}
	default:
		parts = []string{c.Model, c.Variant, c.Capacity, c.Color, c.Carrier}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "-")
}
