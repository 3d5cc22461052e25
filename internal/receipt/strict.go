package receipt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// strictJSON decodes the first usable JSON object embedded in the response
type strictJSON struct{}

func (strictJSON) Name() string { return "strict" }

func (strictJSON) Extract(text string) (*draft, bool) {
	fragments := jsonFragments(text)
	skipped := 0
	for i, fragment := range fragments {
		dec := json.NewDecoder(strings.NewReader(fragment))
		dec.UseNumber()

		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			skipped++
			continue
		}

		d := draftFromObject(obj)
		if !d.usable() {
			skipped++
			continue
		}

		if skipped > 0 {
			d.notes = append(d.notes, fmt.Sprintf("skipped %d unusable JSON fragment(s)", skipped))
		}
		if rest := len(fragments) - i - 1; rest > 0 {
			d.notes = append(d.notes, fmt.Sprintf("ignored %d later JSON fragment(s)", rest))
		}
		return d, true
	}
	return nil, false
}

// jsonFragments returns every outermost balanced {...} substring in order.
// Braces inside JSON strings are not counted. A brace that never closes, such
// as one in the prose before the object, is skipped and the scan resumes
// just after it.
func jsonFragments(text string) []string {
	var fragments []string
	for pos := 0; pos < len(text); {
		start, end := nextFragment(text, pos)
		switch {
		case end > 0:
			fragments = append(fragments, text[start:end])
			pos = end
		case start >= 0:
			pos = start + 1
		default:
			return fragments
		}
	}
	return fragments
}

// nextFragment finds the first balanced fragment at or after from. With no
// opening brace it returns -1, -1; with an unclosed one it returns its
// position and -1.
func nextFragment(text string, from int) (int, int) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := from; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return start, -1
}

func draftFromObject(obj map[string]any) *draft {
	d := &draft{}
	for _, key := range sortedKeys(obj) {
		value := obj[key]
		switch lookupField(key) {
		case fieldStore:
			if s, ok := scalarString(value); ok && d.store == "" {
				d.store = strings.TrimSpace(s)
			}
		case fieldDate:
			if s, ok := scalarString(value); ok && d.date == "" {
				d.date = s
			}
		case fieldCurrency:
			if s, ok := scalarString(value); ok && d.currency == "" {
				d.currency = s
			}
		case fieldTotal:
			// "total" beats the looser "amount" when both are present
			if s, ok := scalarString(value); ok && (d.total == nil || normalizeLabel(key) != "amount") {
				d.total = &s
			}
		case fieldItems:
			if list, ok := value.([]any); ok && d.items == nil {
				d.items = itemsFromList(list)
			}
		}
	}

	// Some models wrap the receipt, e.g. {"receipt": {...}}
	if !d.usable() && len(obj) == 1 {
		for _, value := range obj {
			if nested, ok := value.(map[string]any); ok {
				return draftFromObject(nested)
			}
		}
	}
	return d
}

func itemsFromList(list []any) []rawItem {
	items := make([]rawItem, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case map[string]any:
			var item rawItem
			for _, key := range sortedKeys(v) {
				value := v[key]
				label := normalizeLabel(key)
				s, ok := scalarString(value)
				if !ok {
					continue
				}
				if itemDescriptionKeys[label] && item.description == "" {
					item.description = strings.TrimSpace(s)
				} else if itemAmountKeys[label] && item.amount == "" {
					item.amount = s
				}
			}
			items = append(items, item)
		case string:
			if desc, amount, ok := splitItemLine(v); ok {
				items = append(items, rawItem{description: desc, amount: amount})
			} else {
				items = append(items, rawItem{description: strings.TrimSpace(v)})
			}
		}
	}
	return items
}

// scalarString renders JSON strings and numbers as text; null, bools and
// containers are treated as absent.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
