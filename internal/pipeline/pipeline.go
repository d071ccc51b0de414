// Package pipeline wires intake, resequencing and dispatch:
//
//	Admit (single reader) -> decode -> stamp -> intake workers -> Offer
//	  -> release in key order -> dispatch pool -> Processor -> OnResult
//
// Every admitted or rejected message ends in exactly one OnResult call. A
// message whose Admit was cancelled was never admitted and gets none.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ariefcatur/order-relay/internal/dispatch"
	"github.com/ariefcatur/order-relay/internal/metrics"
	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/ariefcatur/order-relay/internal/resequencer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("pipeline stopped")

type Processor interface {
	Process(ctx context.Context, ev orders.OrderEvent) error
}

// Inbound is one raw message from the queue. Meta is returned untouched
// in the Outcome (e.g. the kafka message to commit).
type Inbound struct {
	Value []byte
	Meta  any
}

type Outcome struct {
	ReceiptID string
	OrderID   string
	Seq       uint64
	Event     orders.OrderEvent
	Meta      any
	Payload   []byte
	Err       error
	Duration  time.Duration
}

// Rejected reports whether the message never made it past decoding.
func (o Outcome) Rejected() bool { return errors.Is(o.Err, orders.ErrDecode) }

type Config struct {
	IntakeWorkers int
	IntakeBuffer  int
	GroupTimeout  time.Duration
	IdleTimeout   time.Duration
	Dispatch      dispatch.Config
	Logger        *zap.Logger
}

type Pipeline struct {
	log      *zap.Logger
	onResult func(Outcome)

	reseq *resequencer.Resequencer
	pool  *dispatch.Pool

	mu      sync.RWMutex
	stopped bool
	intake  chan resequencer.Message
	wg      sync.WaitGroup
}

type meta struct {
	payload []byte
	user    any
}

func New(ctx context.Context, cfg Config, proc Processor, onResult func(Outcome)) *Pipeline {
	if cfg.IntakeWorkers <= 0 {
		cfg.IntakeWorkers = 10
	}
	if cfg.IntakeBuffer <= 0 {
		cfg.IntakeBuffer = cfg.IntakeWorkers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if onResult == nil {
		onResult = func(Outcome) {}
	}
	p := &Pipeline{
		log:      cfg.Logger.Named("pipeline"),
		onResult: onResult,
		intake:   make(chan resequencer.Message, cfg.IntakeBuffer),
	}

	cfg.Dispatch.Logger = cfg.Logger
	p.pool = dispatch.New(ctx, cfg.Dispatch, func(ctx context.Context, t dispatch.Task) error {
		return proc.Process(ctx, t.Event)
	}, p.dispatched)

	p.reseq = resequencer.New(resequencer.Config{
		GroupTimeout: cfg.GroupTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		Logger:       cfg.Logger,
	}, p.release)

	for i := 0; i < cfg.IntakeWorkers; i++ {
		p.wg.Add(1)
		go p.intakeWorker()
	}
	return p
}

func (p *Pipeline) Resequencer() *resequencer.Resequencer { return p.reseq }

// Admit decodes and stamps one message. It must be called from a single
// goroutine in queue order. It blocks while the intake buffer is full.
func (p *Pipeline) Admit(ctx context.Context, in Inbound) error {
	receipt := uuid.NewString()
	ev, err := orders.Decode(in.Value)
	if err != nil {
		metrics.EventsReceived.WithLabelValues("rejected").Inc()
		p.log.Warn("reject undecodable event", zap.String("receipt_id", receipt), zap.Error(err))
		p.onResult(Outcome{ReceiptID: receipt, Meta: in.Meta, Payload: in.Value, Err: err})
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	m := resequencer.Message{
		Key:       ev.OrderID,
		Seq:       p.reseq.Stamp(ev.OrderID),
		ReceiptID: receipt,
		Event:     ev,
		Meta:      meta{payload: in.Value, user: in.Meta},
	}

	select {
	case p.intake <- m:
		metrics.EventsReceived.WithLabelValues("admitted").Inc()
		p.log.Debug("event admitted",
			zap.String("receipt_id", receipt),
			zap.String("order_id", ev.OrderID),
			zap.String("status", ev.Status.String()),
			zap.Uint64("seq", m.Seq),
		)
		return nil
	case <-ctx.Done():
		// never processed: no outcome, so the message stays uncommitted and
		// is redelivered; the number goes back so no gap is left behind
		p.reseq.Unstamp(m.Key, m.Seq)
		p.log.Info("admit cancelled, leaving event for redelivery",
			zap.String("receipt_id", receipt),
			zap.String("order_id", ev.OrderID),
			zap.Uint64("seq", m.Seq),
		)
		return ctx.Err()
	}
}

func (p *Pipeline) intakeWorker() {
	defer p.wg.Done()
	for m := range p.intake {
		if err := p.reseq.Offer(m); err != nil {
			p.log.Error("offer failed", zap.String("order_id", m.Key), zap.Uint64("seq", m.Seq), zap.Error(err))
			p.onResult(outcome(m, err, 0))
		}
	}
}

// release runs under the key's group lock; Submit blocking here is the
// backpressure from the pool into the resequencer.
func (p *Pipeline) release(m resequencer.Message) {
	err := p.pool.Submit(context.Background(), dispatch.Task{
		Key:       m.Key,
		Seq:       m.Seq,
		ReceiptID: m.ReceiptID,
		Event:     m.Event,
		Meta:      m.Meta,
	})
	if err != nil {
		p.log.Error("submit failed", zap.String("order_id", m.Key), zap.Uint64("seq", m.Seq), zap.Error(err))
		p.onResult(outcome(m, err, 0))
	}
}

func (p *Pipeline) dispatched(r dispatch.Result) {
	m := resequencer.Message{
		Key:       r.Task.Key,
		Seq:       r.Task.Seq,
		ReceiptID: r.Task.ReceiptID,
		Event:     r.Task.Event,
		Meta:      r.Task.Meta,
	}
	if r.Err != nil {
		p.log.Error("event processing failed",
			zap.String("receipt_id", m.ReceiptID),
			zap.String("order_id", m.Key),
			zap.Uint64("seq", m.Seq),
			zap.Int("worker", r.Worker),
			zap.Error(r.Err),
		)
	}
	p.onResult(outcome(m, r.Err, r.Duration))
}

func outcome(m resequencer.Message, err error, d time.Duration) Outcome {
	o := Outcome{
		ReceiptID: m.ReceiptID,
		OrderID:   m.Key,
		Seq:       m.Seq,
		Event:     m.Event,
		Err:       err,
		Duration:  d,
	}
	if md, ok := m.Meta.(meta); ok {
		o.Meta, o.Payload = md.user, md.payload
	}
	return o
}

// Shutdown stops intake, flushes the resequencer into the pool and drains
// the pool. Call it after the reader stopped calling Admit.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.intake)
	p.mu.Unlock()

	p.wg.Wait()
	err := p.reseq.Close(ctx)
	p.pool.Close()
	p.log.Info("pipeline stopped")
	return err
}
