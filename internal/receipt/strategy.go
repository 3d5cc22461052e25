package receipt

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// draft holds raw field values recovered from a model response before validation
type draft struct {
	store    string
	date     string
	currency string
	total    *string
	items    []rawItem
	notes    []string
}

type rawItem struct {
	description string
	amount      string
}

// usable reports whether the draft has enough data to attempt normalization
func (d *draft) usable() bool {
	return d.total != nil || len(d.items) > 0
}

// strategy recovers a draft from response text, reporting false when it cannot
type strategy interface {
	Name() string
	Extract(text string) (*draft, bool)
}

type field int

const (
	fieldUnknown field = iota
	fieldStore
	fieldDate
	fieldTotal
	fieldCurrency
	fieldItems
	fieldSkip
)

// Labels are matched after normalizeLabel, so "Total Amount", "total_amount"
// and "TOTAL-AMOUNT" are the same key.
var recordFields = map[string]field{
	"store": fieldStore, "storename": fieldStore, "shop": fieldStore, "shopname": fieldStore,
	"merchant": fieldStore, "merchantname": fieldStore, "vendor": fieldStore, "title": fieldStore,
	"business": fieldStore, "店名": fieldStore, "店舗": fieldStore, "店舗名": fieldStore, "お店": fieldStore,

	"date": fieldDate, "purchasedate": fieldDate, "transactiondate": fieldDate, "receiptdate": fieldDate,
	"日付": fieldDate, "日時": fieldDate, "取引日": fieldDate, "購入日": fieldDate, "取引日時": fieldDate,

	"total": fieldTotal, "totalamount": fieldTotal, "grandtotal": fieldTotal, "amount": fieldTotal,
	"amountdue": fieldTotal, "totaldue": fieldTotal, "合計": fieldTotal, "総額": fieldTotal,
	"合計金額": fieldTotal, "支払金額": fieldTotal, "お支払い": fieldTotal, "お支払金額": fieldTotal,
	"ご請求額": fieldTotal, "請求額": fieldTotal,

	"currency": fieldCurrency, "currencycode": fieldCurrency, "通貨": fieldCurrency,

	"items": fieldItems, "lineitems": fieldItems, "lines": fieldItems, "products": fieldItems,
	"item": fieldItems, "product": fieldItems, "商品": fieldItems, "明細": fieldItems, "品目": fieldItems,

	"subtotal": fieldSkip, "tax": fieldSkip, "vat": fieldSkip, "change": fieldSkip, "cash": fieldSkip,
	"tendered": fieldSkip, "points": fieldSkip, "discount": fieldSkip, "time": fieldSkip, "tel": fieldSkip,
	"phone": fieldSkip, "confidence": fieldSkip, "reason": fieldSkip, "小計": fieldSkip, "消費税": fieldSkip,
	"税": fieldSkip, "内税": fieldSkip, "外税": fieldSkip, "お預り": fieldSkip, "お預かり": fieldSkip,
	"お釣り": fieldSkip, "おつり": fieldSkip, "ポイント": fieldSkip, "時刻": fieldSkip, "電話": fieldSkip,
}

var itemDescriptionKeys = map[string]bool{
	"description": true, "desc": true, "name": true, "item": true, "product": true,
	"title": true, "label": true, "品名": true, "商品名": true, "商品": true,
}

var itemAmountKeys = map[string]bool{
	"amount": true, "price": true, "total": true, "value": true, "cost": true,
	"金額": true, "価格": true, "値段": true,
}

func normalizeLabel(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.', '\t', '"', '\'', '*':
			return -1
		}
		return r
	}, s)
}

func lookupField(label string) field {
	return recordFields[normalizeLabel(label)]
}
