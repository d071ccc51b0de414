package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/order-relay/internal/crm"
	kafkax "github.com/ariefcatur/order-relay/internal/kafka"
	"github.com/ariefcatur/order-relay/internal/ledger"
	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/ariefcatur/order-relay/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type committer interface {
	Commit(ctx context.Context, msgs ...kafkago.Message) error
}

type deadLetterSender interface {
	Send(ctx context.Context, msgs ...kafkago.Message) error
}

type failureJournal interface {
	Record(ctx context.Context, f orders.Failure) error
}

// resultSink settles every message that left the pipeline: success is
// committed, failure is dead-lettered and journaled first. A failure whose
// dead letter could not be written stays open, and so does every later
// offset of its partition.
type resultSink struct {
	commits committer
	offsets *kafkax.OffsetTracker
	dlq     deadLetterSender
	journal failureJournal // nil: journal mati
	service string
	log     *zap.Logger

	commitMu sync.Mutex
}

func (s *resultSink) handle(o pipeline.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, hasMsg := o.Meta.(kafkago.Message)
	if o.Err != nil && !s.deadLetter(ctx, o, m) {
		return
	}
	if !hasMsg {
		return
	}
	s.settle(ctx, o.ReceiptID, m)
}

// settle commits up to the end of the partition's settled prefix. Commits
// are serialized so the committed offset only moves forward.
func (s *resultSink) settle(ctx context.Context, receipt string, m kafkago.Message) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	upTo, ok := s.offsets.Done(m)
	if !ok {
		return
	}
	if err := s.commits.Commit(ctx, upTo); err != nil {
		s.log.Error("commit failed",
			zap.String("receipt_id", receipt),
			zap.Int("partition", upTo.Partition),
			zap.Int64("offset", upTo.Offset),
			zap.Error(err),
		)
	}
}

func (s *resultSink) deadLetter(ctx context.Context, o pipeline.Outcome, m kafkago.Message) bool {
	now := time.Now().UTC()
	dl := orders.DeadLetter{
		ReceiptID: o.ReceiptID,
		OrderID:   o.OrderID,
		Seq:       o.Seq,
		Reason:    reason(o.Err),
		Error:     o.Err.Error(),
		FailedAt:  now,
		Producer:  s.service,
	}
	kafkax.Source(&dl, m)
	dl.SetPayload(o.Payload)

	if s.journal != nil {
		err := s.journal.Record(ctx, orders.Failure{
			ReceiptID: o.ReceiptID,
			OrderID:   o.OrderID,
			Status:    o.Event.Status,
			Seq:       o.Seq,
			Reason:    dl.Reason,
			Error:     dl.Error,
			FailedAt:  now,
		})
		if err != nil {
			s.log.Warn("journal failure", zap.String("receipt_id", o.ReceiptID), zap.Error(err))
		}
	}

	if err := s.dlq.Send(ctx, kafkax.DeadLetterMessage(dl)); err != nil {
		s.log.Error("dead letter failed, leaving message uncommitted",
			zap.String("receipt_id", o.ReceiptID),
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		return false
	}
	s.log.Warn("event dead-lettered",
		zap.String("receipt_id", o.ReceiptID),
		zap.String("order_id", o.OrderID),
		zap.Uint64("seq", o.Seq),
		zap.String("reason", dl.Reason),
	)
	return true
}

func reason(err error) string {
	switch {
	case errors.Is(err, orders.ErrDecode):
		return "DECODE"
	case errors.Is(err, crm.ErrNotify):
		return "NOTIFY"
	case errors.Is(err, ledger.ErrLedgerWrite), errors.Is(err, ledger.ErrRotationCollision):
		return "LEDGER"
	default:
		return "UNKNOWN"
	}
}
