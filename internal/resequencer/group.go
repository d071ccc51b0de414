package resequencer

import (
	"sort"
	"sync"
	"time"
)

// group holds the ordering state of one key. Every field is guarded by mu.
type group struct {
	mu  sync.Mutex
	key string

	nextStamp   uint64             // next sequence handed out by Stamp
	nextRelease uint64             // sequence the group is waiting for
	offered     uint64             // messages that reached Offer
	released    uint64             // messages handed to the release func
	buffer      map[uint64]Message // waiting, keyed by sequence

	timer       *time.Timer
	timerGen    uint64 // invalidates callbacks of stopped timers
	windowStart time.Time
	createdAt   time.Time
	lastActive  time.Time

	evicted bool
}

func newGroup(key string, now time.Time) *group {
	return &group{
		key:        key,
		buffer:     make(map[uint64]Message),
		createdAt:  now,
		lastActive: now,
	}
}

// drained means nothing waits and no stamped message is still on its way.
func (g *group) drained() bool {
	return len(g.buffer) == 0 && g.offered >= g.nextStamp
}

func (g *group) lowestWaiting() (uint64, bool) {
	var (
		low   uint64
		found bool
	)
	for seq := range g.buffer {
		if !found || seq < low {
			low, found = seq, true
		}
	}
	return low, found
}

func (g *group) waitingInOrder() []uint64 {
	seqs := make([]uint64, 0, len(g.buffer))
	for seq := range g.buffer {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func (g *group) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.timerGen++
}
