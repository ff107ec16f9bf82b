package sku

import (
	"regexp"
	"strings"
)

// Attributes are the device fields the generator reads.
type Attributes struct {
	Brand       string
	Model       string
	ModelNumber string
	Storage     string
	Color       string
	Carrier     string
	Description string
}

var (
	capacityToken = regexp.MustCompile(`^(\d+)(GB|TB)$`)
	sizeToken     = regexp.MustCompile(`^(\d{2})MM$`)
	capacityText  = regexp.MustCompile(`(\d+)\s*(GB|TB|G|T)?`)
	sizeText      = regexp.MustCompile(`(\d{2})\s*MM`)
	nonKeyChars   = regexp.MustCompile(`[^A-Z0-9&+]+`)
)

var watchNoise = map[string]struct{}{
	"WATCH":      {},
	"SMARTWATCH": {},
	"GPS":        {},
	"CELLULAR":   {},
	"LTE":        {},
}

func (t tables) generate(attrs Attributes) Components {
	category := t.detectCategory(attrs.Description, attrs.Model, attrs.Brand)

	modelText := attrs.Model
	if strings.TrimSpace(modelText) == "" {
		modelText = attrs.ModelNumber
	}
	tokens := tokenize(modelText)
	tokens = dropTokens(tokens, tokenize(attrs.Brand))

	c := Components{Category: category}

	var capacityFromModel, sizeFromModel string
	kept := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case capacityToken.MatchString(tok):
			capacityFromModel = tok
			continue
		case sizeToken.MatchString(tok):
			sizeFromModel = tok
			continue
		case i+1 < len(tokens) && isDigits(tok) && tokens[i+1] == "MM" && category == CategoryWatch:
			sizeFromModel = tok + "MM"
			i++
			continue
		}
		if category == CategoryWatch {
			if _, noise := watchNoise[tok]; noise {
				continue
			}
		}
		kept = append(kept, tok)
	}

	// Trailing variant words split off the base model.
	cut := len(kept)
	for cut > 1 {
		if _, ok := t.variants[kept[cut-1]]; !ok {
			break
		}
		cut--
	}
	c.Model = strings.Join(kept[:cut], "")
	c.Variant = strings.Join(kept[cut:], "-")

	if category == CategoryWatch {
		c.Capacity = firstNonEmpty(sizeFromModel, watchSize(attrs.Storage), watchSize(attrs.Description))
	} else {
		c.Capacity = firstNonEmpty(normalizeCapacity(attrs.Storage), capacityFromModel)
	}
	c.Color = t.normalizeColor(attrs.Color)
	c.Carrier = t.normalizeCarrier(attrs.Carrier)
	return c
}

func tokenize(s string) []string {
	s = nonKeyChars.ReplaceAllString(strings.ToUpper(s), " ")
	return strings.Fields(s)
}

func dropTokens(tokens, drop []string) []string {
	if len(drop) == 0 {
		return tokens
	}
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := skip[tok]; ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// normalizeCapacity turns "256 GB", "256gb", "1 TB" or a bare "256" into 256GB / 1TB.
func normalizeCapacity(raw string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	m := capacityText.FindStringSubmatch(value)
	if m == nil || m[1] == "" || m[1] == "0" {
		return ""
	}
	unit := "GB"
	if strings.HasPrefix(m[2], "T") {
		unit = "TB"
	}
	return strings.TrimLeft(m[1], "0") + unit
}

func watchSize(raw string) string {
	m := sizeText.FindStringSubmatch(strings.ToUpper(raw))
	if m == nil {
		return ""
	}
	return m[1] + "MM"
}

func (t tables) normalizeColor(raw string) string {
	value := collapse(raw)
	if value == "" {
		return ""
	}
	if mapped, ok := t.colorSynonyms[value]; ok {
		return mapped
	}
	return nonKeyChars.ReplaceAllString(value, "")
}

func (t tables) normalizeCarrier(raw string) string {
	value := collapse(raw)
	if value == "" {
		return ""
	}
	canonical, ok := t.carrierAliases[value]
	if !ok {
		canonical, ok = t.carrierAliases[compact(value)]
	}
	if !ok {
		canonical = strings.ReplaceAll(compact(value), "-", "")
	}
	if _, omitted := t.omitCarriers[canonical]; omitted {
		return ""
	}
	return canonical
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
