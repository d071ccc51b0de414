package redisx

import (
	"strings"
	"time"
)

const (
	// Dedup event processing: dedup:{service}:{id}
	// id = orderId:status:updatedTimestamp, lihat EventID
	KeyDedup = "dedup:%s:%s"
)

var TTLDedup = 48 * time.Hour

// EventID identifies one lifecycle transition of an order. A redelivered
// message yields the same id, a new transition a different one.
func EventID(orderID, status string, updatedAt time.Time) string {
	var b strings.Builder
	b.WriteString(orderID)
	b.WriteByte(':')
	b.WriteString(status)
	b.WriteByte(':')
	if updatedAt.IsZero() {
		b.WriteByte('-')
	} else {
		b.WriteString(updatedAt.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}
