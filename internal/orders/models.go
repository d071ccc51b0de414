package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent is one lifecycle update of an order as published on the queue.
// All events sharing an OrderID form one ordering group.
type OrderEvent struct {
	OrderID      string          `json:"orderId" validate:"required"`
	CustomerID   string          `json:"customerId"`
	Status       Status          `json:"status" validate:"required"`
	CurrencyCode string          `json:"currencyCode"`
	OrderPaid    decimal.Decimal `json:"orderPaid"`
	OrderTotal   decimal.Decimal `json:"orderTotal"`
	Items        []Item          `json:"orderItems" validate:"dive"`
	CreatedAt    Timestamp       `json:"creationTimestamp"`
	UpdatedAt    Timestamp       `json:"updatedTimestamp"`
}

type Item struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
}

// Timestamp decodes both RFC 3339 and zone-less ISO local date-times
// ("2024-01-15T10:30:00"); the latter are taken as UTC.
type Timestamp struct{ time.Time }

const localDateTime = "2006-01-02T15:04:05.999999999"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(localDateTime) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.ParseInLocation(localDateTime, s, time.UTC)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}
