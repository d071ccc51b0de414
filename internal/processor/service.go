// Package processor applies one order event to the downstream systems: the
// CRM is always notified, the financial ledger only for paid and cancelled
// orders.
package processor

import (
	"context"
	"fmt"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/ariefcatur/order-relay/internal/redisx"
	"go.uber.org/zap"
)

type Notifier interface {
	SendOrderUpdate(ctx context.Context, ev orders.OrderEvent) error
}

type Ledger interface {
	Write(ctx context.Context, ev orders.OrderEvent) error
}

// Deduper remembers events that were already applied.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

type Service struct {
	notifier Notifier
	ledger   Ledger
	dedup    Deduper
	log      *zap.Logger
}

type Option func(*Service)

// WithDedup skips events already marked as applied. The mark is written
// only after the event was fully processed.
func WithDedup(d Deduper) Option { return func(s *Service) { s.dedup = d } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(n Notifier, l Ledger, opts ...Option) *Service {
	s := &Service{notifier: n, ledger: l, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("processor")
	return s
}

func (s *Service) Process(ctx context.Context, ev orders.OrderEvent) error {
	// tanpa updatedTimestamp dua event berbeda tidak bisa dibedakan: selalu proses
	dedup := s.dedup != nil && !ev.UpdatedAt.IsZero()
	var id string
	if dedup {
		id = redisx.EventID(ev.OrderID, ev.Status.String(), ev.UpdatedAt.Time)
		seen, err := s.dedup.Seen(ctx, id)
		if err != nil {
			// tetap proses; dedup hanya optimasi
			s.log.Warn("dedup lookup failed", zap.String("order_id", ev.OrderID), zap.Error(err))
		} else if seen {
			s.log.Info("skip duplicate event", zap.String("order_id", ev.OrderID), zap.String("status", ev.Status.String()))
			return nil
		}
	}

	if err := s.notifier.SendOrderUpdate(ctx, ev); err != nil {
		return fmt.Errorf("notify crm for order %s: %w", ev.OrderID, err)
	}
	if ev.Status.IsFinancial() {
		if err := s.ledger.Write(ctx, ev); err != nil {
			return fmt.Errorf("ledger for order %s: %w", ev.OrderID, err)
		}
	}

	if dedup {
		if err := s.dedup.Mark(ctx, id); err != nil {
			s.log.Warn("dedup mark failed", zap.String("order_id", ev.OrderID), zap.Error(err))
		}
	}
	return nil
}
