package receipt

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	errEmptyAmount    = errors.New("empty")
	errNotANumber     = errors.New("not a number")
	errNegativeAmount = errors.New("negative")
)

var currencySymbols = []struct {
	symbol   string
	currency string
}{
	{"US$", "USD"},
	{"¥", "JPY"},
	{"円", "JPY"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"₩", "KRW"},
	{"元", "CNY"},
}

var (
	// the code may follow digits directly, as in "1200yen"
	currencyCodePattern = regexp.MustCompile(`(?i)(?:^|[^a-z])(jpy|usd|eur|gbp|cny|krw|yen)\b`)

	commaThousands = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
	dotThousands   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+(?:,\d+)?$`)
	commaDecimal   = regexp.MustCompile(`^\d+,\d{1,2}$`)
	plainNumber    = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	singleDotGroup = regexp.MustCompile(`^\d{1,3}\.\d{3}$`)
)

// noMinorUnit lists currencies whose amounts are whole numbers, so "1.250"
// can only mean one thousand two hundred fifty
var noMinorUnit = map[string]bool{"JPY": true, "KRW": true}

// parseAmount cleans a model-supplied amount and parses it as a decimal.
// It returns the currency implied by any symbol or code found in the value.
// Negative values are returned as-is; callers decide whether to accept them.
func parseAmount(raw string) (decimal.Decimal, string, error) {
	d, currency, _, err := scanAmount(raw, true)
	return d, currency, err
}

// scanAmount is parseAmount with control over "1.250". With groupDots the
// dot is a thousands separator; otherwise it is a decimal point. ambiguous
// reports that the value had that shape.
func scanAmount(raw string, groupDots bool) (d decimal.Decimal, currency string, ambiguous bool, err error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return decimal.Zero, "", false, errEmptyAmount
	}

	if m := currencyCodePattern.FindStringSubmatchIndex(s); m != nil {
		currency = strings.ToUpper(s[m[2]:m[3]])
		if currency == "YEN" {
			currency = "JPY"
		}
		s = s[:m[2]] + s[m[3]:]
	}
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			if currency == "" {
				currency = cs.currency
			}
			s = strings.ReplaceAll(s, cs.symbol, "")
		}
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\t', '\'':
			return -1
		case '−', '–', '—', '▲', '△':
			return '-'
		}
		return r
	}, s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimPrefix(s, "+")
	}
	// "1,200-" is a common way to print prices on Japanese receipts
	s = strings.TrimSuffix(s, "-")
	s = strings.TrimSuffix(s, ".")

	ambiguous = singleDotGroup.MatchString(s)
	switch {
	case s == "":
		return decimal.Zero, currency, false, errNotANumber
	case commaThousands.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case dotThousands.MatchString(s) && (groupDots || !ambiguous):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case commaDecimal.MatchString(s):
		s = strings.ReplaceAll(s, ",", ".")
	case plainNumber.MatchString(s):
	default:
		return decimal.Zero, currency, false, errNotANumber
	}

	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, currency, false, errNotANumber
	}
	if negative {
		d = d.Neg()
	}
	return d, currency, ambiguous, nil
}

// looksLikeAmount reports whether s is a bare amount, optionally with a currency marker
func looksLikeAmount(s string) bool {
	_, _, err := parseAmount(s)
	return err == nil
}
