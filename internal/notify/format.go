package notify

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"golang.org/x/text/number"

	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

// message keys
const (
	keyAccepted        = "accepted"
	keyTotal           = "total"
	keyItems           = "items"
	keyNote            = "note"
	keyUnknownStore    = "unknown store"
	keyUnknownDate     = "unknown date"
	keyUnsupported     = "unsupported format"
	keyUnreachable     = "endpoint unreachable"
	keyEndpointStatus  = "endpoint status"
	keyUnrecoverable   = "unrecoverable"
	keyInvalidAmount   = "invalid amount"
	keyInvalidTotal    = "invalid total"
	keyInvalidItems    = "invalid items"
	keyGenericFailure  = "generic failure"
	keyNothingRecorded = "nothing recorded"
)

var supported = []language.Tag{language.English, language.Japanese}

var messages = map[language.Tag]map[string]string{
	language.English: {
		keyAccepted:        "Recorded receipt from %s on %s",
		keyTotal:           "Total: %s %s",
		keyItems:           "Items: %d",
		keyNote:            "Note: %s",
		keyUnknownStore:    "an unknown store",
		keyUnknownDate:     "an unknown date",
		keyUnsupported:     "Could not read the image. Please send a JPEG, PNG, HEIC or PDF.",
		keyUnreachable:     "The receipt reader is unavailable. Please try again later.",
		keyEndpointStatus:  "The receipt reader returned an error (status %d).",
		keyUnrecoverable:   "Could not find any receipt details in the reader's answer.",
		keyInvalidAmount:   "Could not read the amount %q.",
		keyInvalidTotal:    "Could not read the total %q and there were no line items to add up.",
		keyInvalidItems:    "No total and no readable line item amounts were found.",
		keyGenericFailure:  "The receipt could not be processed.",
		keyNothingRecorded: "Nothing was recorded.",
	},
	language.Japanese: {
		keyAccepted:        "%s（%s）のレシートを記録しました",
		keyTotal:           "合計: %s %s",
		keyItems:           "品目数: %d",
		keyNote:            "備考: %s",
		keyUnknownStore:    "店名不明",
		keyUnknownDate:     "日付不明",
		keyUnsupported:     "画像を読み込めませんでした。JPEG・PNG・HEIC・PDFで送ってください。",
		keyUnreachable:     "解析サーバーに接続できません。しばらくしてから再度お試しください。",
		keyEndpointStatus:  "解析サーバーがエラーを返しました (ステータス %d)。",
		keyUnrecoverable:   "解析結果からレシートの情報を見つけられませんでした。",
		keyInvalidAmount:   "金額 %q を読み取れませんでした。",
		keyInvalidTotal:    "合計 %q を読み取れず、明細もありませんでした。",
		keyInvalidItems:    "合計も読み取れる明細金額も見つかりませんでした。",
		keyGenericFailure:  "レシートを処理できませんでした。",
		keyNothingRecorded: "記録されたものはありません。",
	},
}

// Formatter renders pipeline outcomes as chat or console text. It holds no
// mutable state and is safe for concurrent use.
type Formatter struct {
	tag     language.Tag
	catalog catalog.Catalog
}

// NewFormatter creates a Formatter for the closest supported language to tag
func NewFormatter(tag language.Tag) *Formatter {
	_, index, _ := language.NewMatcher(supported).Match(tag)

	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for lang, msgs := range messages {
		for key, msg := range msgs {
			// keys and messages are static; SetString only fails on malformed input
			_ = b.SetString(lang, key, msg)
		}
	}

	return &Formatter{tag: supported[index], catalog: b}
}

// Language returns the language messages are rendered in
func (f *Formatter) Language() language.Tag {
	return f.tag
}

// Format renders an accepted record when err is nil, otherwise the error
func (f *Formatter) Format(rec *receipt.Record, err error) string {
	p := message.NewPrinter(f.tag, message.Catalog(f.catalog))

	if err != nil {
		return f.formatError(p, err)
	}
	if rec == nil {
		return p.Sprintf(keyNothingRecorded)
	}

	store := rec.StoreName
	if store == "" {
		store = p.Sprintf(keyUnknownStore)
	}
	date := rec.PurchaseDate.String()
	if !rec.PurchaseDate.Known() {
		date = p.Sprintf(keyUnknownDate)
	}

	lines := []string{
		p.Sprintf(keyAccepted, store, date),
		p.Sprintf(keyTotal, formatAmount(p, rec.TotalAmount), rec.Currency),
	}
	if len(rec.LineItems) > 0 {
		lines = append(lines, p.Sprintf(keyItems, len(rec.LineItems)))
	}
	if rec.SourceNote != "" {
		lines = append(lines, p.Sprintf(keyNote, rec.SourceNote))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) formatError(p *message.Printer, err error) string {
	var (
		parseErr    *receipt.ParseError
		endpointErr *scanning.EndpointError
	)

	switch {
	case errors.Is(err, scanning.ErrUnsupportedFormat):
		return p.Sprintf(keyUnsupported)
	case errors.Is(err, scanning.ErrEndpointUnreachable):
		return p.Sprintf(keyUnreachable)
	case errors.As(err, &endpointErr):
		return p.Sprintf(keyEndpointStatus, endpointErr.StatusCode)
	case errors.As(err, &parseErr):
		return f.formatParseError(p, parseErr)
	default:
		return p.Sprintf(keyGenericFailure)
	}
}

func (f *Formatter) formatParseError(p *message.Printer, err *receipt.ParseError) string {
	if err.Kind != receipt.InvalidAmount {
		return p.Sprintf(keyUnrecoverable)
	}
	switch err.Field {
	case "total":
		return p.Sprintf(keyInvalidTotal, err.Value)
	case "items":
		return p.Sprintf(keyInvalidItems)
	default:
		return p.Sprintf(keyInvalidAmount, err.Value)
	}
}

// formatAmount groups digits for the printer's locale and keeps the
// amount's own decimal places
func formatAmount(p *message.Printer, amount decimal.Decimal) string {
	if amount.IsInteger() {
		return p.Sprintf("%d", amount.IntPart())
	}
	places := -amount.Exponent()
	if places < 0 {
		places = 0
	}
	return p.Sprint(number.Decimal(amount.InexactFloat64(), number.Scale(int(places))))
}
