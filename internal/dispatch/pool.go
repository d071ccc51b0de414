// Package dispatch runs released order events on a fixed set of workers.
// Events are sharded by key, so one key always lands on the same worker and
// executes in submission order while distinct keys run in parallel.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ariefcatur/order-relay/internal/metrics"
	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("dispatch pool closed")

type Task struct {
	Key       string
	Seq       uint64
	ReceiptID string
	Event     orders.OrderEvent
	Meta      any
}

type Result struct {
	Task     Task
	Worker   int
	Err      error
	Duration time.Duration
}

// Handler processes one task. Returning nil marks it ok.
type Handler func(ctx context.Context, t Task) error

// ResultFunc sees every task outcome, success or failure.
type ResultFunc func(Result)

type Config struct {
	Size      int // workers, default 10
	QueueSize int // per worker, default 64
	Logger    *zap.Logger
}

type Pool struct {
	handler  Handler
	onResult ResultFunc
	ctx      context.Context
	log      *zap.Logger

	queues []chan Task
	depth  []prometheus.Gauge

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts the workers. ctx is handed to the handler; cancellation of it
// is detached so Close can drain queued work.
func New(ctx context.Context, cfg Config, h Handler, onResult ResultFunc) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if onResult == nil {
		onResult = func(Result) {}
	}
	p := &Pool{
		handler:  h,
		onResult: onResult,
		ctx:      context.WithoutCancel(ctx),
		log:      cfg.Logger.Named("dispatch"),
		queues:   make([]chan Task, cfg.Size),
		depth:    make([]prometheus.Gauge, cfg.Size),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, cfg.QueueSize)
		p.depth[i] = metrics.DispatchQueueDepth.WithLabelValues(strconv.Itoa(i))
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("dispatch pool started", zap.Int("workers", cfg.Size), zap.Int("queue_size", cfg.QueueSize))
	return p
}

func (p *Pool) Size() int { return len(p.queues) }

// Shard returns the worker index serving key.
func (p *Pool) Shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.queues)))
}

// Submit enqueues t on its key's worker, blocking while that queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	i := p.Shard(t.Key)
	q := p.queues[i]
	select {
	case q <- t:
		p.depth[i].Set(float64(len(q)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	q := p.queues[id]
	for t := range q {
		p.depth[id].Set(float64(len(q)))
		start := time.Now()
		err := p.run(t)
		res := Result{Task: t, Worker: id, Err: err, Duration: time.Since(start)}

		metrics.DispatchLatency.Observe(res.Duration.Seconds())
		if err != nil {
			metrics.DispatchProcessed.WithLabelValues("failed").Inc()
		} else {
			metrics.DispatchProcessed.WithLabelValues("ok").Inc()
		}
		p.onResult(res)
	}
}

// run shields the worker from a panicking handler; the task counts as failed.
func (p *Pool) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic", zap.String("order_id", t.Key), zap.Any("panic", r))
			err = errors.New("dispatch handler panic")
		}
	}()
	return p.handler(p.ctx, t)
}

// Close stops intake and waits until every queued and in-flight task ran.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.log.Info("dispatch pool drained")
}
