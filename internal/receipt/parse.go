package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// DefaultCurrency is used when neither the response nor the options name one
const DefaultCurrency = "JPY"

// Options configures normalization
type Options struct {
	DefaultCurrency string
	// Tolerance is the largest accepted gap between the stated total and the line item sum
	Tolerance   decimal.Decimal
	DateFormats []string
}

// Parser turns untrusted model output into a validated Record. It holds no
// mutable state and is safe for concurrent use.
type Parser struct {
	opts       Options
	strategies []strategy
}

// NewParser creates a Parser trying strict JSON first and labeled lines second
func NewParser(opts Options) *Parser {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = DefaultCurrency
	}
	opts.DefaultCurrency = strings.ToUpper(opts.DefaultCurrency)
	if len(opts.DateFormats) == 0 {
		opts.DateFormats = DefaultDateFormats
	}
	if opts.Tolerance.IsNegative() {
		opts.Tolerance = decimal.Zero
	}
	return &Parser{
		opts:       opts,
		strategies: []strategy{strictJSON{}, looseLines{}},
	}
}

// Parse returns an accepted Record or a *ParseError
func (p *Parser) Parse(text string) (*Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Kind: Unrecoverable, Reason: "empty response", Raw: text}
	}

	for _, s := range p.strategies {
		d, ok := s.Extract(text)
		if !ok {
			continue
		}
		record, err := p.normalize(d, text)
		if err != nil {
			return nil, err
		}
		record.Strategy = s.Name()
		return record, nil
	}

	return nil, &ParseError{Kind: Unrecoverable, Reason: "no total or line items found", Raw: text}
}

type parsedAmount struct {
	raw       string
	value     decimal.Decimal
	currency  string
	ambiguous bool
	err       error
}

func newParsedAmount(raw string) parsedAmount {
	value, currency, ambiguous, err := scanAmount(raw, true)
	return parsedAmount{raw: raw, value: value, currency: currency, ambiguous: ambiguous, err: err}
}

// settle rereads "1.250" with a decimal point when the currency has cents
func (a *parsedAmount) settle(currency string) string {
	if !a.ambiguous || a.err != nil || noMinorUnit[currency] {
		return ""
	}
	value, _, _, err := scanAmount(a.raw, false)
	if err != nil {
		return ""
	}
	a.value = value
	return fmt.Sprintf("ambiguous amount %q read as %s %s", a.raw, value, currency)
}

func (p *Parser) normalize(d *draft, raw string) (*Record, error) {
	notes := append([]string(nil), d.notes...)

	var total *parsedAmount
	if d.total != nil {
		t := newParsedAmount(*d.total)
		total = &t
	}
	items := make([]parsedAmount, len(d.items))
	for i, item := range d.items {
		items[i] = newParsedAmount(item.amount)
	}

	currency, note := p.resolveCurrency(d.currency, total, items)
	if note != "" {
		notes = append(notes, note)
	}
	if total != nil {
		if note := total.settle(currency); note != "" {
			notes = append(notes, note)
		}
	}
	for i := range items {
		if note := items[i].settle(currency); note != "" {
			notes = append(notes, note)
		}
	}

	check := func(a parsedAmount) error {
		switch {
		case a.err != nil:
			return a.err
		case a.value.IsNegative():
			return errNegativeAmount
		case a.currency != "" && a.currency != currency:
			return fmt.Errorf("currency %s conflicts with %s", a.currency, currency)
		}
		return nil
	}

	lineItems := make([]LineItem, 0, len(d.items))
	dropped := 0
	for i, item := range d.items {
		if err := check(items[i]); err != nil {
			dropped++
			notes = append(notes, fmt.Sprintf("dropped item %q (amount %q: %v)", item.description, item.amount, err))
			continue
		}
		lineItems = append(lineItems, LineItem{
			Description: strings.TrimSpace(item.description),
			Amount:      items[i].value,
		})
	}
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("%d line item(s) dropped", dropped))
	}

	sum := decimal.Zero
	for _, item := range lineItems {
		sum = sum.Add(item.Amount)
	}

	var totalAmount decimal.Decimal
	switch {
	case total != nil && check(*total) == nil:
		totalAmount = total.value
		if len(lineItems) > 0 && sum.Sub(totalAmount).Abs().GreaterThan(p.opts.Tolerance) {
			notes = append(notes, fmt.Sprintf("line items sum to %s but stated total is %s; kept stated total", sum, totalAmount))
		}
	case total != nil:
		err := check(*total)
		if len(lineItems) == 0 {
			return nil, &ParseError{Kind: InvalidAmount, Field: "total", Value: total.raw, Reason: err.Error(), Raw: raw}
		}
		totalAmount = sum
		notes = append(notes, fmt.Sprintf("stated total %q rejected (%v); recomputed from line items", total.raw, err))
	default:
		if len(lineItems) == 0 {
			return nil, &ParseError{Kind: InvalidAmount, Field: "items", Reason: fmt.Sprintf("all %d line item(s) invalid and no total", dropped), Raw: raw}
		}
		totalAmount = sum
		notes = append(notes, "total missing; computed from line items")
	}

	date := UnknownDate()
	if strings.TrimSpace(d.date) == "" {
		notes = append(notes, "purchase date missing")
	} else if parsed, ok := parseDate(d.date, p.opts.DateFormats); ok {
		date = parsed
	} else {
		notes = append(notes, fmt.Sprintf("unparsable date %q", d.date))
	}

	return &Record{
		StoreName:    strings.TrimSpace(d.store),
		PurchaseDate: date,
		LineItems:    lineItems,
		TotalAmount:  totalAmount,
		Currency:     currency,
		SourceNote:   strings.Join(notes, "; "),
	}, nil
}

// resolveCurrency prefers an explicit currency field, then the first symbol
// seen on the total or an item, then the configured default.
func (p *Parser) resolveCurrency(explicit string, total *parsedAmount, items []parsedAmount) (string, string) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if code := currencyCode(explicit); code != "" {
			return code, ""
		}
		return p.opts.DefaultCurrency, fmt.Sprintf("unrecognized currency %q; using %s", explicit, p.opts.DefaultCurrency)
	}
	if total != nil && total.err == nil && total.currency != "" {
		return total.currency, ""
	}
	for _, item := range items {
		if item.err == nil && item.currency != "" {
			return item.currency, ""
		}
	}
	return p.opts.DefaultCurrency, ""
}

func currencyCode(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	for _, cs := range currencySymbols {
		if s == cs.symbol {
			return cs.currency
		}
	}
	upper := strings.ToUpper(s)
	if upper == "YEN" {
		return "JPY"
	}
	if len(upper) == 3 && strings.Trim(upper, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == "" {
		return upper
	}
	return ""
}
