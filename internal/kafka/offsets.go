package kafka

import (
	"slices"
	"sync"

	"github.com/segmentio/kafka-go"
)

// OffsetTracker knows, per partition, up to which message everything fetched
// has been settled. Messages finish out of fetch order once they fan out
// over workers; committing a later offset first would mark earlier, still
// running messages as consumed.
type OffsetTracker struct {
	mu    sync.Mutex
	parts map[partition]*partitionState
}

type partition struct {
	topic string
	id    int
}

type partitionState struct {
	pending []int64 // ascending, fetch order
	done    map[int64]kafka.Message
}

func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{parts: make(map[partition]*partitionState)}
}

// Track registers a fetched message. It must be called in fetch order. An
// offset at or below the last pending one means the partition was assigned
// again and is read from its committed offset: earlier state is dropped.
func (t *OffsetTracker) Track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partition{m.Topic, m.Partition}
	st := t.parts[k]
	if st == nil || (len(st.pending) > 0 && m.Offset <= st.pending[len(st.pending)-1]) {
		st = &partitionState{done: make(map[int64]kafka.Message)}
		t.parts[k] = st
	}
	st.pending = append(st.pending, m.Offset)
}

// Done marks m settled and returns the highest message that can be committed
// now, i.e. the end of the contiguous settled prefix. ok is false while an
// earlier message of the partition is still open.
func (t *OffsetTracker) Done(m kafka.Message) (upTo kafka.Message, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.parts[partition{m.Topic, m.Partition}]
	if st == nil {
		return kafka.Message{}, false
	}
	if _, tracked := slices.BinarySearch(st.pending, m.Offset); !tracked {
		// sisa dari assignment lama
		return kafka.Message{}, false
	}
	st.done[m.Offset] = m
	for len(st.pending) > 0 {
		head, settled := st.done[st.pending[0]]
		if !settled {
			break
		}
		delete(st.done, st.pending[0])
		st.pending = st.pending[1:]
		upTo, ok = head, true
	}
	return upTo, ok
}

// Pending returns how many tracked messages of the partition are not yet
// committable.
func (t *OffsetTracker) Pending(topic string, id int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.parts[partition{topic, id}]; st != nil {
		return len(st.pending)
	}
	return 0
}
