package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
)

var ErrNotify = errors.New("crm notify")

// NotifyError is returned for transport failures (StatusCode 0) and for
// any non-2xx response.
type NotifyError struct {
	OrderID    string
	StatusCode int
	Err        error
}

func (e *NotifyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: order %s: unexpected status %d", ErrNotify, e.OrderID, e.StatusCode)
	}
	return fmt.Sprintf("%s: order %s: %v", ErrNotify, e.OrderID, e.Err)
}

func (e *NotifyError) Unwrap() []error { return []error{ErrNotify, e.Err} }

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// SendOrderUpdate pushes the order state to the CRM. The call is an
// idempotent PUT; no retry happens here.
func (c *Client) SendOrderUpdate(ctx context.Context, ev orders.OrderEvent) error {
	body, err := json.Marshal(NewOrderUpdateRequest(ev))
	if err != nil {
		return &NotifyError{OrderID: ev.OrderID, Err: fmt.Errorf("encode request: %w", err)}
	}
	u := c.BaseURL + "/customers/" + url.PathEscape(ev.CustomerID) + "/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{OrderID: ev.OrderID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NotifyError{OrderID: ev.OrderID, Err: err}
	}
	// drain supaya koneksi bisa dipakai ulang
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NotifyError{OrderID: ev.OrderID, StatusCode: resp.StatusCode}
	}
	return nil
}
