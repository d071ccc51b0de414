package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []orders.Status
	err   error
}

func (f *fakeNotifier) SendOrderUpdate(_ context.Context, ev orders.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev.Status)
	return f.err
}

type fakeLedger struct {
	mu    sync.Mutex
	calls []orders.Status
	err   error
}

func (f *fakeLedger) Write(_ context.Context, ev orders.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ev.Status)
	return f.err
}

type fakeDedup struct {
	marked  map[string]bool
	seenErr error
}

func (f *fakeDedup) Seen(_ context.Context, id string) (bool, error) {
	return f.marked[id], f.seenErr
}

func (f *fakeDedup) Mark(_ context.Context, id string) error {
	f.marked[id] = true
	return nil
}

func event(status orders.Status) orders.OrderEvent {
	return orders.OrderEvent{
		OrderID:    "ORD-1",
		CustomerID: "CUST-1",
		Status:     status,
		UpdatedAt:  orders.Timestamp{Time: time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)},
	}
}

func TestProcessRoutesByStatus(t *testing.T) {
	cases := []struct {
		status orders.Status
		ledger bool
	}{
		{orders.StatusPending, false},
		{orders.StatusUpdated, false},
		{orders.StatusConfirmed, false},
		{orders.StatusPaid, true},
		{orders.StatusShipped, false},
		{orders.StatusCancelled, true},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			n, l := &fakeNotifier{}, &fakeLedger{}
			require.NoError(t, NewService(n, l).Process(context.Background(), event(tc.status)))

			assert.Equal(t, []orders.Status{tc.status}, n.calls)
			if tc.ledger {
				assert.Equal(t, []orders.Status{tc.status}, l.calls)
			} else {
				assert.Empty(t, l.calls)
			}
		})
	}
}

func TestNotifyFailureSkipsLedger(t *testing.T) {
	boom := errors.New("503")
	n, l := &fakeNotifier{err: boom}, &fakeLedger{}

	err := NewService(n, l).Process(context.Background(), event(orders.StatusPaid))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "ORD-1")
	assert.Empty(t, l.calls)
}

func TestLedgerFailurePropagates(t *testing.T) {
	boom := errors.New("disk full")
	n, l := &fakeNotifier{}, &fakeLedger{err: boom}

	err := NewService(n, l).Process(context.Background(), event(orders.StatusCancelled))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, n.calls, 1)
}

func TestDedupSkipsAppliedEvents(t *testing.T) {
	n, l := &fakeNotifier{}, &fakeLedger{}
	d := &fakeDedup{marked: map[string]bool{}}
	svc := NewService(n, l, WithDedup(d))

	require.NoError(t, svc.Process(context.Background(), event(orders.StatusPaid)))
	require.NoError(t, svc.Process(context.Background(), event(orders.StatusPaid)))
	assert.Len(t, n.calls, 1)
	assert.Len(t, l.calls, 1)

	// a different transition of the same order is not a duplicate
	require.NoError(t, svc.Process(context.Background(), event(orders.StatusShipped)))
	assert.Len(t, n.calls, 2)
}

func TestDedupNotMarkedOnFailure(t *testing.T) {
	n, l := &fakeNotifier{err: errors.New("down")}, &fakeLedger{}
	d := &fakeDedup{marked: map[string]bool{}}
	svc := NewService(n, l, WithDedup(d))

	require.Error(t, svc.Process(context.Background(), event(orders.StatusPaid)))
	assert.Empty(t, d.marked)

	n.err = nil
	require.NoError(t, svc.Process(context.Background(), event(orders.StatusPaid)))
	assert.Len(t, n.calls, 2)
	assert.Len(t, d.marked, 1)
}

func TestDedupLookupErrorStillProcesses(t *testing.T) {
	n, l := &fakeNotifier{}, &fakeLedger{}
	d := &fakeDedup{marked: map[string]bool{}, seenErr: errors.New("redis timeout")}

	require.NoError(t, NewService(n, l, WithDedup(d)).Process(context.Background(), event(orders.StatusPaid)))
	assert.Len(t, n.calls, 1)
}

func TestDedupNeedsUpdatedTimestamp(t *testing.T) {
	n, l := &fakeNotifier{}, &fakeLedger{}
	d := &fakeDedup{marked: map[string]bool{}}
	svc := NewService(n, l, WithDedup(d))

	first := event(orders.StatusPaid)
	first.UpdatedAt = orders.Timestamp{}
	first.Items = []orders.Item{{ProductID: "P-1", Quantity: 1}}
	second := first
	second.Items = []orders.Item{{ProductID: "P-2", Quantity: 3}}

	require.NoError(t, svc.Process(context.Background(), first))
	require.NoError(t, svc.Process(context.Background(), second))

	assert.Len(t, n.calls, 2)
	assert.Len(t, l.calls, 2)
	assert.Empty(t, d.marked)
}
