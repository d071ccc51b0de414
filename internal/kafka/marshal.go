package kafka

import (
	"encoding/json"
	"strconv"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderReceiptID = "receipt-id"
	HeaderReason    = "failure-reason"
	HeaderSource    = "source"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func Header(key, value string) kafka.Header {
	return kafka.Header{Key: key, Value: []byte(value)}
}

// DeadLetterMessage builds the DLQ record for a message that failed.
// Decode failures have no order id; they are keyed by receipt instead.
func DeadLetterMessage(dl orders.DeadLetter) kafka.Message {
	key := dl.OrderID
	if key == "" {
		key = dl.ReceiptID
	}
	return kafka.Message{
		Key:   orders.PartitionKey(key),
		Value: MustMarshal(dl),
		Headers: []kafka.Header{
			Header(HeaderReceiptID, dl.ReceiptID),
			Header(HeaderReason, dl.Reason),
			Header(HeaderSource, dl.OriginalTopic+"/"+strconv.Itoa(dl.Partition)+"/"+strconv.FormatInt(dl.Offset, 10)),
		},
	}
}

// Source fills the origin fields of a dead letter from the inbound message.
func Source(dl *orders.DeadLetter, m kafka.Message) {
	dl.OriginalTopic = m.Topic
	dl.Partition = m.Partition
	dl.Offset = m.Offset
}
