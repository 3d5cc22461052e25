package receipt

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	labeledLine   = regexp.MustCompile(`^([^:：=]{1,40}?)\s*[:：=]\s*(.*?)\s*$`)
	bulletPrefix  = regexp.MustCompile(`^\s*(?:[-*•・]|\d+[.)])\s+`)
	amountPattern = `(?:[-−▲(]\s*)?(?:US\$|[¥￥$€£])?\s*\d[\d,.]*(?:\s*円|-|\))?`
	amountToken   = regexp.MustCompile(amountPattern)
	trailingPrice = regexp.MustCompile(`^(.*?\S)\s+(` + amountPattern + `)$`)
	currencyMark  = regexp.MustCompile(`[¥￥$€£]|円|(?i:(?:^|[^a-z])(?:jpy|usd|eur|gbp|yen)\b)`)
	spacedLabel   = regexp.MustCompile(`^(\S{1,20})\s+(\S.*)$`)
	bareDate      = regexp.MustCompile(`^\d{4}[/.\-年]\d{1,2}[/.\-月]\d{1,2}日?$`)
)

// looseLines recovers labeled fields from line-oriented prose such as
// "store: Foo Mart" or "合計：¥1,200".
type looseLines struct{}

func (looseLines) Name() string { return "loose" }

func (looseLines) Extract(text string) (*draft, bool) {
	d := &draft{}
	unrecognized := 0
	firstLine := ""
	content := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		content++
		bulleted := bulletPrefix.MatchString(line)
		line = bulletPrefix.ReplaceAllString(line, "")

		label, value, ok := splitLabel(line)
		if !ok {
			// receipts print "TOTAL ¥1,200" or "合計 1,200円" without a colon
			if desc, amount, ok := splitItemLine(line); ok {
				if lookupField(desc) == fieldTotal {
					if d.total == nil {
						d.total = &amount
					}
					continue
				}
				if bulleted {
					d.items = append(d.items, rawItem{description: desc, amount: amount})
					continue
				}
			}
			if bareDate.MatchString(line) && d.date == "" {
				d.date = line
				continue
			}
			if content == 1 {
				firstLine = line
			}
			unrecognized++
			continue
		}

		if absentValue(value) {
			continue
		}
		switch lookupField(label) {
		case fieldStore:
			if d.store == "" {
				d.store = value
			}
		case fieldDate:
			if d.date == "" {
				d.date = value
			}
		case fieldCurrency:
			if d.currency == "" {
				d.currency = value
			}
		case fieldTotal:
			if d.total == nil {
				total := pickAmount(value)
				d.total = &total
			}
		case fieldItems:
			if desc, amount, ok := splitItemLine(value); ok {
				d.items = append(d.items, rawItem{description: desc, amount: amount})
			} else {
				d.items = append(d.items, rawItem{description: value})
			}
		case fieldSkip:
		default:
			// "Milk: ¥198" is an item; "Register: 2" is not
			if looksLikeAmount(value) && (bulleted || currencyMark.MatchString(value)) {
				d.items = append(d.items, rawItem{description: label, amount: value})
				continue
			}
			unrecognized++
		}
	}

	if !d.usable() {
		return nil, false
	}
	// the shop name heads a printed receipt
	if d.store == "" && strings.IndexFunc(firstLine, unicode.IsLetter) >= 0 && !strings.ContainsAny(firstLine, "0123456789{}[]") {
		d.store = firstLine
		unrecognized--
		d.notes = append(d.notes, "store name taken from the first line")
	}
	if unrecognized > 0 {
		d.notes = append(d.notes, fmt.Sprintf("ignored %d unrecognized line(s)", unrecognized))
	}
	return d, true
}

// splitLabel splits "label: value" lines. A label followed only by a space,
// as in "合計 ¥1,200", is also accepted when the label is a known field and
// the value is not an amount, so that "Date 2024/03/01" is read.
func splitLabel(line string) (string, string, bool) {
	if m := labeledLine.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1]), strings.Trim(m[2], `"',`), true
	}
	if m := spacedLabel.FindStringSubmatch(line); m != nil {
		switch lookupField(m[1]) {
		case fieldStore, fieldDate, fieldCurrency:
			return m[1], strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// absentValue reports values models use for "not on the receipt"
func absentValue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "null", "nil", "none", "n/a", "na", "-", "unknown", "[]", "[", "{}", "{":
		return true
	}
	return false
}

// pickAmount returns the value itself when it is a clean amount, otherwise
// the first amount-like token in it. With no token the value is returned
// unchanged so that validation reports it.
func pickAmount(value string) string {
	if looksLikeAmount(value) {
		return value
	}
	if token := strings.TrimSpace(amountToken.FindString(value)); token != "" {
		return token
	}
	return value
}

// splitItemLine splits "Milk 2L ¥198" into its description and trailing amount
func splitItemLine(s string) (string, string, bool) {
	m := trailingPrice.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", false
	}
	desc := strings.TrimRight(strings.TrimSpace(m[1]), ":：-")
	if desc == "" || !looksLikeAmount(m[2]) {
		return "", "", false
	}
	return strings.TrimSpace(desc), m[2], true
}
