package sku

import "strings"

// Entry is a catalog key with the category stored for it. An empty Category
// leaves the key prefix to decide.
type Entry struct {
	Key      string
	Category Category
}

// EntriesOf wraps bare keys whose category comes from their prefix.
func EntriesOf(keys ...string) []Entry {
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k})
	}
	return out
}

// parse splits a key by position, following the layouts in Components.Key.
// A category prefix wins over hint; without either the key is a phone.
//
// Tokens before the capacity are the model and its variants. Without a
// capacity only known variant words follow the model. The remaining tail is
// color and carrier in the category's order.
func (t tables) parse(key string, hint Category) Components {
	tokens := splitKey(key)

	c := Components{Category: CategoryPhone}
	if hint != "" {
		c.Category = hint
	}
	if len(tokens) == 0 {
		return c
	}
	if category, ok := categoryFromPrefix(tokens[0]); ok {
		c.Category = category
		tokens = tokens[1:]
	}

	var head, tail []string
	if at := capacityIndex(tokens); at >= 0 {
		head, c.Capacity, tail = tokens[:at], tokens[at], tokens[at+1:]
	} else {
		n := min(1, len(tokens))
		for n < len(tokens) {
			if _, ok := t.variants[tokens[n]]; !ok {
				break
			}
			n++
		}
		head, tail = tokens[:n], tokens[n:]
	}
	if len(head) > 0 {
		c.Model = head[0]
		c.Variant = strings.Join(head[1:], "-")
	}
	c.Color, c.Carrier = t.splitTail(c.Category, tail)
	return c
}

func (t tables) splitTail(category Category, tail []string) (color, carrier string) {
	switch {
	case len(tail) == 0:
		return "", ""
	case category == CategoryComputer:
		return strings.Join(tail, ""), ""
	case len(tail) == 1:
		_, isCarrier := t.carriers[tail[0]]
		_, isColor := t.colors[tail[0]]
		if isCarrier && !isColor {
			return "", tail[0]
		}
		return tail[0], ""
	case category == CategoryWatch:
		return strings.Join(tail[1:], ""), tail[0]
	default:
		last := len(tail) - 1
		return strings.Join(tail[:last], ""), tail[last]
	}
}

func splitKey(key string) []string {
	raw := strings.Split(strings.ToUpper(strings.TrimSpace(key)), "-")
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func capacityIndex(tokens []string) int {
	for i, tok := range tokens {
		if capacityToken.MatchString(tok) || sizeToken.MatchString(tok) {
			return i
		}
	}
	return -1
}
