// Package resequencer restores per-key order between a single reader that
// sees messages in their true order and a concurrent stage that may hand
// them over in any order.
//
// The reader stamps each message with the next sequence number of its key
// (Stamp). Concurrent workers then Offer the stamped messages. For a given
// key, message N is released only after message N-1 was released; keys do
// not wait on each other. A group timeout bounds how long a key waits for a
// missing sequence number before the gap is given up on.
package resequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/order-relay/internal/metrics"
	"github.com/ariefcatur/order-relay/internal/orders"
	"go.uber.org/zap"
)

var (
	ErrClosed            = errors.New("resequencer closed")
	ErrDuplicateSequence = errors.New("sequence already waiting")
	ErrEmptyKey          = errors.New("empty resequencing key")
)

// Message is one stamped event. Meta is carried through untouched.
type Message struct {
	Key       string
	Seq       uint64
	ReceiptID string
	Event     orders.OrderEvent
	Meta      any
}

// ReleaseFunc receives messages in sequence order per key. It runs with the
// key's group locked, so it may block (backpressure) without reordering;
// it must not call back into the Resequencer for the same key.
type ReleaseFunc func(Message)

const minSweepInterval = 10 * time.Millisecond

type Config struct {
	GroupTimeout  time.Duration // default 5s
	IdleTimeout   time.Duration // drained groups older than this are evicted; default GroupTimeout
	SweepInterval time.Duration // default IdleTimeout / 2
	Logger        *zap.Logger
}

type Resequencer struct {
	cfg     Config
	release ReleaseFunc
	log     *zap.Logger

	mu     sync.RWMutex
	groups map[string]*group

	closed   atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	timeouts atomic.Uint64
}

func New(cfg Config, release ReleaseFunc) *Resequencer {
	if cfg.GroupTimeout <= 0 {
		cfg.GroupTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = cfg.GroupTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.IdleTimeout / 2
	}
	if cfg.SweepInterval < minSweepInterval {
		cfg.SweepInterval = minSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Resequencer{
		cfg:     cfg,
		release: release,
		log:     cfg.Logger.Named("resequencer"),
		groups:  make(map[string]*group),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.janitor()
	return r
}

// lock returns the live group for key with its mutex held, creating it when
// needed. A group evicted between lookup and lock is skipped so the key
// starts over in a fresh group.
func (r *Resequencer) lock(key string) *group {
	for {
		r.mu.RLock()
		g := r.groups[key]
		r.mu.RUnlock()
		if g == nil {
			r.mu.Lock()
			if g = r.groups[key]; g == nil {
				g = newGroup(key, time.Now())
				r.groups[key] = g
				metrics.ResequencerGroups.Set(float64(len(r.groups)))
			}
			r.mu.Unlock()
		}
		g.mu.Lock()
		if !g.evicted {
			return g
		}
		g.mu.Unlock()
	}
}

// Stamp hands out the next arrival sequence number for key. Call it from
// the single reader, in the order messages were consumed, and only for
// messages that will be offered.
func (r *Resequencer) Stamp(key string) uint64 {
	g := r.lock(key)
	defer g.mu.Unlock()
	seq := g.nextStamp
	g.nextStamp++
	g.lastActive = time.Now()
	return seq
}

// Unstamp gives back seq when it was the last number Stamp handed out for
// key and the message will never be offered. It reports whether the number
// was returned.
func (r *Resequencer) Unstamp(key string, seq uint64) bool {
	g := r.lock(key)
	defer g.mu.Unlock()
	if g.nextStamp != seq+1 || seq < g.nextRelease {
		return false
	}
	if _, waiting := g.buffer[seq]; waiting {
		return false
	}
	g.nextStamp = seq
	return true
}

// Offer admits a stamped message. It is released at once when it is the
// next one for its key, together with any waiting successors; otherwise it
// waits for the gap to fill or for the group timeout.
func (r *Resequencer) Offer(m Message) error {
	if m.Key == "" {
		return ErrEmptyKey
	}
	g := r.lock(m.Key)
	defer g.mu.Unlock()

	// checked under the group lock so Close either flushes this message or
	// rejects it, never loses it
	if r.closed.Load() {
		return ErrClosed
	}
	if _, dup := g.buffer[m.Seq]; dup {
		return ErrDuplicateSequence
	}

	g.lastActive = time.Now()
	g.offered++
	if m.Seq >= g.nextStamp {
		g.nextStamp = m.Seq + 1
	}

	progressed := false
	switch {
	case m.Seq < g.nextRelease:
		// its slot was given up on by a timeout; forward rather than drop
		r.log.Warn("late message after partial release",
			zap.String("order_id", m.Key),
			zap.Uint64("seq", m.Seq),
			zap.Uint64("next_release", g.nextRelease),
			zap.String("receipt_id", m.ReceiptID),
		)
		metrics.ResequencerLate.Inc()
		r.emit(g, m)
	case m.Seq == g.nextRelease:
		r.emit(g, m)
		g.nextRelease++
		r.releaseContiguous(g)
		progressed = true
	default:
		g.buffer[m.Seq] = m
		r.log.Debug("message waiting for predecessor",
			zap.String("order_id", m.Key),
			zap.Uint64("seq", m.Seq),
			zap.Uint64("next_release", g.nextRelease),
		)
	}

	// the window restarts whenever the group makes progress
	switch {
	case len(g.buffer) == 0:
		g.stopTimer()
	case g.timer == nil || progressed:
		r.arm(g)
	}
	return nil
}

func (r *Resequencer) emit(g *group, m Message) {
	g.released++
	metrics.ResequencerReleased.Inc()
	r.release(m)
}

func (r *Resequencer) releaseContiguous(g *group) int {
	n := 0
	for {
		m, ok := g.buffer[g.nextRelease]
		if !ok {
			return n
		}
		delete(g.buffer, g.nextRelease)
		r.emit(g, m)
		g.nextRelease++
		n++
	}
}

func (r *Resequencer) arm(g *group) {
	g.stopTimer()
	gen := g.timerGen
	g.windowStart = time.Now()
	g.timer = time.AfterFunc(r.cfg.GroupTimeout, func() { r.expire(g, gen) })
}

// expire is the group timeout: release what is contiguous, otherwise give
// up on the first gap and continue from the lowest waiting sequence.
func (r *Resequencer) expire(g *group, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.evicted || gen != g.timerGen || r.closed.Load() {
		return
	}
	g.timer = nil
	if len(g.buffer) == 0 {
		return
	}

	r.timeouts.Add(1)
	metrics.ResequencerTimeouts.Inc()

	n := r.releaseContiguous(g)
	if n == 0 {
		low, _ := g.lowestWaiting()
		skipped := low - g.nextRelease
		r.log.Warn("group timeout, releasing partial sequence",
			zap.String("order_id", g.key),
			zap.Uint64("missing_from", g.nextRelease),
			zap.Uint64("missing_to", low-1),
			zap.Int("waiting", len(g.buffer)),
			zap.Duration("waited", time.Since(g.windowStart)),
		)
		metrics.ResequencerSkipped.Add(float64(skipped))
		g.nextRelease = low
		r.releaseContiguous(g)
	}
	if len(g.buffer) > 0 {
		r.arm(g)
	}
}

func (r *Resequencer) janitor() {
	defer close(r.done)
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.sweep(time.Now())
		}
	}
}

// sweep evicts drained, idle groups. Busy groups (lock held, e.g. blocked in
// release) are skipped rather than waited on.
func (r *Resequencer) sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, g := range r.groups {
		if !g.mu.TryLock() {
			continue
		}
		if g.drained() && g.lastActive.Before(cutoff) {
			g.evicted = true
			g.stopTimer()
			delete(r.groups, key)
			evicted++
		}
		g.mu.Unlock()
	}
	metrics.ResequencerGroups.Set(float64(len(r.groups)))
	if evicted > 0 {
		r.log.Debug("evicted idle groups", zap.Int("evicted", evicted), zap.Int("live", len(r.groups)))
	}
	return evicted
}

// Close stops accepting messages and flushes every group that still has
// waiting messages, in sequence order. Groups not reached before ctx ends
// are abandoned with a warning.
func (r *Resequencer) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	<-r.done

	r.mu.RLock()
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			r.abandon(groups[i:])
			return err
		}
		g.mu.Lock()
		g.stopTimer()
		if len(g.buffer) > 0 {
			r.log.Warn("flushing incomplete group on shutdown",
				zap.String("order_id", g.key),
				zap.Uint64("next_release", g.nextRelease),
				zap.Int("waiting", len(g.buffer)),
			)
			for _, seq := range g.waitingInOrder() {
				m := g.buffer[seq]
				delete(g.buffer, seq)
				g.nextRelease = seq + 1
				r.emit(g, m)
			}
		}
		g.mu.Unlock()
	}
	return nil
}

func (r *Resequencer) abandon(groups []*group) {
	for _, g := range groups {
		g.mu.Lock()
		g.stopTimer()
		if n := len(g.buffer); n > 0 {
			r.log.Warn("abandoning waiting messages on shutdown",
				zap.String("order_id", g.key),
				zap.Int("waiting", n),
			)
		}
		g.mu.Unlock()
	}
}

// Stats is a point-in-time view for the admin endpoint.
type Stats struct {
	Groups   int    `json:"groups"`
	Waiting  int    `json:"waiting"`
	Busy     int    `json:"busy"`
	Timeouts uint64 `json:"timeouts"`
}

// GroupInfo describes one live group.
type GroupInfo struct {
	Key         string    `json:"order_id"`
	NextRelease uint64    `json:"next_release"`
	Released    uint64    `json:"released"`
	Waiting     int       `json:"waiting"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
}

func (r *Resequencer) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Groups: len(r.groups), Timeouts: r.timeouts.Load()}
	for _, g := range r.groups {
		if !g.mu.TryLock() {
			s.Busy++
			continue
		}
		s.Waiting += len(g.buffer)
		g.mu.Unlock()
	}
	return s
}

// Group returns the state of key's group, if it is live and not busy.
func (r *Resequencer) Group(key string) (GroupInfo, bool) {
	r.mu.RLock()
	g := r.groups[key]
	r.mu.RUnlock()
	if g == nil || !g.mu.TryLock() {
		return GroupInfo{}, false
	}
	defer g.mu.Unlock()
	if g.evicted {
		return GroupInfo{}, false
	}
	return GroupInfo{
		Key:         g.key,
		NextRelease: g.nextRelease,
		Released:    g.released,
		Waiting:     len(g.buffer),
		CreatedAt:   g.createdAt,
		LastActive:  g.lastActive,
	}, true
}
