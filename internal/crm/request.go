package crm

import (
	"encoding/json"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/shopspring/decimal"
)

// OrderUpdateRequest is the body of PUT /customers/{customerId}/orders.
type OrderUpdateRequest struct {
	ExternalOrderID string     `json:"externalOrderId"`
	Status          string     `json:"status"`
	Financials      Financials `json:"financials"`
	Items           []Item     `json:"items"`
}

type Financials struct {
	CurrencyCode string      `json:"currencyCode"`
	OrderTotal   json.Number `json:"orderTotal"`
	OrderPaid    json.Number `json:"orderPaid"`
}

type Item struct {
	Product  Product     `json:"product"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func NewOrderUpdateRequest(ev orders.OrderEvent) OrderUpdateRequest {
	items := make([]Item, 0, len(ev.Items))
	for _, it := range ev.Items {
		items = append(items, Item{
			Product:  Product{ID: it.ProductID, Name: it.ProductName},
			Price:    number(it.UnitPrice),
			Quantity: it.Quantity,
		})
	}
	return OrderUpdateRequest{
		ExternalOrderID: ev.OrderID,
		Status:          ev.Status.String(),
		Financials: Financials{
			CurrencyCode: ev.CurrencyCode,
			OrderTotal:   number(ev.OrderTotal),
			OrderPaid:    number(ev.OrderPaid),
		},
		Items: items,
	}
}

// number keeps amounts as JSON numbers without going through float64.
func number(d decimal.Decimal) json.Number { return json.Number(d.String()) }
