package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "order.events", Partition: partition, Offset: offset}
}

func TestOffsetTrackerCommitsContiguousPrefix(t *testing.T) {
	tr := NewOffsetTracker()
	for off := int64(10); off <= 13; off++ {
		tr.Track(msg(0, off))
	}

	_, ok := tr.Done(msg(0, 12))
	assert.False(t, ok)
	_, ok = tr.Done(msg(0, 11))
	assert.False(t, ok)

	upTo, ok := tr.Done(msg(0, 10))
	require.True(t, ok)
	assert.Equal(t, int64(12), upTo.Offset)
	assert.Equal(t, 1, tr.Pending("order.events", 0))

	upTo, ok = tr.Done(msg(0, 13))
	require.True(t, ok)
	assert.Equal(t, int64(13), upTo.Offset)
	assert.Equal(t, 0, tr.Pending("order.events", 0))
}

func TestOffsetTrackerPartitionsAreIndependent(t *testing.T) {
	tr := NewOffsetTracker()
	tr.Track(msg(0, 5))
	tr.Track(msg(1, 5))
	tr.Track(msg(1, 6))

	upTo, ok := tr.Done(msg(1, 5))
	require.True(t, ok)
	assert.Equal(t, 1, upTo.Partition)
	assert.Equal(t, 1, tr.Pending("order.events", 0))
}

func TestOffsetTrackerResetsOnRefetch(t *testing.T) {
	tr := NewOffsetTracker()
	tr.Track(msg(0, 20))
	tr.Track(msg(0, 21))

	// partition reassigned, reading again from the committed offset
	tr.Track(msg(0, 20))
	assert.Equal(t, 1, tr.Pending("order.events", 0))

	_, ok := tr.Done(msg(0, 21))
	assert.False(t, ok, "offset from the previous assignment")
	upTo, ok := tr.Done(msg(0, 20))
	require.True(t, ok)
	assert.Equal(t, int64(20), upTo.Offset)
}

func TestOffsetTrackerIgnoresUntracked(t *testing.T) {
	tr := NewOffsetTracker()
	_, ok := tr.Done(msg(3, 1))
	assert.False(t, ok)
}
