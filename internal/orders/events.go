package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrDecode = errors.New("decode order event")

// DecodeError: pesan inbound rusak, ditolak sebelum masuk resequencer.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates one inbound message body.
func Decode(b []byte) (OrderEvent, error) {
	var ev OrderEvent
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&ev); err != nil {
		return OrderEvent{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if dec.More() {
		return OrderEvent{}, &DecodeError{Reason: "trailing data after event"}
	}
	if err := validate.Struct(ev); err != nil {
		return OrderEvent{}, &DecodeError{Reason: "invalid event", Err: err}
	}
	return ev, nil
}

// ---- dead letter ----

// DeadLetter wraps an event that failed processing so it can be replayed
// from the DLQ topic.
type DeadLetter struct {
	ReceiptID     string          `json:"receipt_id"`
	OrderID       string          `json:"order_id"`
	Seq           uint64          `json:"seq"`
	OriginalTopic string          `json:"original_topic"`
	Partition     int             `json:"partition"`
	Offset        int64           `json:"offset"`
	Reason        string          `json:"reason"` // DECODE | NOTIFY | LEDGER | UNKNOWN
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
	Producer      string          `json:"producer"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RawPayload    string          `json:"raw_payload,omitempty"`
}

// SetPayload keeps valid JSON as-is and anything else as a string, so a
// dead letter always marshals.
func (d *DeadLetter) SetPayload(b []byte) {
	if json.Valid(b) {
		d.Payload, d.RawPayload = json.RawMessage(b), ""
		return
	}
	d.Payload, d.RawPayload = nil, string(b)
}
