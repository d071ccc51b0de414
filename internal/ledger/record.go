package ledger

import (
	"strconv"
	"strings"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/shopspring/decimal"
)

// Columns is the fixed on-disk column order; downstream readers depend on it.
var Columns = []string{
	"order_id", "product_name", "product_id", "quantity",
	"product_price", "order_total", "order_paid_amount", "currency_code",
}

// Record is one ledger line: one item of a financial order event.
type Record struct {
	OrderID         string
	ProductName     string
	ProductID       string
	Quantity        int
	ProductPrice    decimal.Decimal
	OrderTotal      decimal.Decimal
	OrderPaidAmount decimal.Decimal
	CurrencyCode    string
}

func RecordsFrom(ev orders.OrderEvent) []Record {
	out := make([]Record, 0, len(ev.Items))
	for _, it := range ev.Items {
		out = append(out, Record{
			OrderID:         ev.OrderID,
			ProductName:     it.ProductName,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			ProductPrice:    it.UnitPrice,
			OrderTotal:      ev.OrderTotal,
			OrderPaidAmount: ev.OrderPaid,
			CurrencyCode:    ev.CurrencyCode,
		})
	}
	return out
}

// Line renders the record without quoting, matching the header order.
func (r Record) Line() string {
	return strings.Join([]string{
		r.OrderID,
		r.ProductName,
		r.ProductID,
		strconv.Itoa(r.Quantity),
		r.ProductPrice.String(),
		r.OrderTotal.String(),
		r.OrderPaidAmount.String(),
		r.CurrencyCode,
	}, ",")
}

func headerLine() string { return strings.Join(Columns, ",") }
