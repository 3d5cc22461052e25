package sheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// Layout selects how line items map onto rows
type Layout string

const (
	// SingleRow writes one row per receipt with item descriptions joined
	SingleRow Layout = "single_row"
	// OneRowPerItem writes one row per line item, repeating the receipt fields
	OneRowPerItem Layout = "one_row_per_item"
)

// DefaultSeparator joins item descriptions in the SingleRow layout
const DefaultSeparator = ", "

// DefaultSheetName is used when no sheet name is configured
const DefaultSheetName = "Receipts"

// monthLayout names monthly worksheets
const monthLayout = "2006-01"

// Columns is the fixed column order of every row
var Columns = []string{"date", "store", "items", "total", "currency", "note"}

// Row is one spreadsheet row in Columns order
type Row []string

// Writer appends rows to a named worksheet
type Writer interface {
	AppendRows(ctx context.Context, sheet string, rows []Row) error
}

// ParseLayout validates a layout name
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case SingleRow, OneRowPerItem:
		return l, nil
	case "":
		return SingleRow, nil
	default:
		return "", fmt.Errorf("unknown row layout %q (want %s or %s)", s, SingleRow, OneRowPerItem)
	}
}

// Adapter maps accepted records to rows. It holds no mutable state.
type Adapter struct {
	layout    Layout
	separator string
	sheetName string
	monthly   bool
}

// Option configures an Adapter
type Option func(*Adapter)

// WithSheetName sets the worksheet rows go to when monthly routing is off
// or the purchase date is unknown
func WithSheetName(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.sheetName = name
		}
	}
}

// WithMonthlySheets routes each record to a worksheet named after its purchase month
func WithMonthlySheets(on bool) Option {
	return func(a *Adapter) {
		a.monthly = on
	}
}

// NewAdapter creates an Adapter
func NewAdapter(layout Layout, separator string, opts ...Option) *Adapter {
	if layout == "" {
		layout = SingleRow
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	a := &Adapter{layout: layout, separator: separator, sheetName: DefaultSheetName}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Layout returns the configured layout
func (a *Adapter) Layout() Layout {
	return a.layout
}

// ToRows renders a record as display-ready rows
func (a *Adapter) ToRows(rec *receipt.Record) []Row {
	if rec == nil {
		return nil
	}

	if a.layout == OneRowPerItem && len(rec.LineItems) > 0 {
		rows := make([]Row, 0, len(rec.LineItems))
		for _, item := range rec.LineItems {
			rows = append(rows, a.row(rec, item.Description))
		}
		return rows
	}

	descriptions := make([]string, 0, len(rec.LineItems))
	for _, item := range rec.LineItems {
		descriptions = append(descriptions, item.Description)
	}
	items := ""
	if a.layout == SingleRow {
		items = strings.Join(descriptions, a.separator)
	}
	return []Row{a.row(rec, items)}
}

func (a *Adapter) row(rec *receipt.Record, items string) Row {
	return Row{
		rec.PurchaseDate.String(),
		rec.StoreName,
		items,
		rec.TotalAmount.String(),
		rec.Currency,
		rec.SourceNote,
	}
}

// SheetTitle returns the worksheet a record belongs to
func (a *Adapter) SheetTitle(rec *receipt.Record) string {
	if a.monthly && rec != nil && rec.PurchaseDate.Known() {
		return rec.PurchaseDate.Time().Format(monthLayout)
	}
	return a.sheetName
}
