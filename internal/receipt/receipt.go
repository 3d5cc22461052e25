package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// UnknownDateText is how an unparsable purchase date is rendered
const UnknownDateText = "unknown"

// Record is a normalized, validated receipt ready for the sink
type Record struct {
	StoreName    string          `json:"store_name"`
	PurchaseDate Date            `json:"purchase_date"`
	LineItems    []LineItem      `json:"line_items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	SourceNote   string          `json:"source_note,omitempty"`
	Strategy     string          `json:"strategy"` // extraction strategy that produced the record
}

// LineItem is a single purchased item
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ItemsTotal sums the line item amounts
func (r *Record) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range r.LineItems {
		sum = sum.Add(item.Amount)
	}
	return sum
}

// Date is a calendar date that may be unknown
type Date struct {
	t     time.Time
	known bool
}

// DateOf returns a known date truncated to the day
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), known: true}
}

// UnknownDate returns the sentinel for an unparsable date
func UnknownDate() Date {
	return Date{}
}

// Known reports whether the date was recognized
func (d Date) Known() bool { return d.known }

// Time returns the date at midnight UTC, or the zero time when unknown
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if !d.known {
		return UnknownDateText
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" || s == UnknownDateText {
		*d = UnknownDate()
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	*d = DateOf(t)
	return nil
}
