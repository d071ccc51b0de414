package orders

import (
	"encoding/json"
	"fmt"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUpdated   Status = "updated"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var knownStatus = map[Status]bool{
	StatusPending:   true,
	StatusUpdated:   true,
	StatusConfirmed: true,
	StatusPaid:      true,
	StatusShipped:   true,
	StatusCancelled: true,
}

func ParseStatus(code string) (Status, error) {
	s := Status(code)
	if !knownStatus[s] {
		return "", fmt.Errorf("unknown order status %q", code)
	}
	return s, nil
}

func (s Status) String() string { return string(s) }

// IsFinancial: hanya paid & cancelled yang masuk ledger keuangan.
func (s Status) IsFinancial() bool {
	return s == StatusPaid || s == StatusCancelled
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var code string
	if err := json.Unmarshal(b, &code); err != nil {
		return fmt.Errorf("order status: %w", err)
	}
	parsed, err := ParseStatus(code)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
