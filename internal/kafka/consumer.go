package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler menerima pesan satu per satu, dalam urutan baca.
type Handler func(ctx context.Context, m kafka.Message) error

// Consumer reads with a single goroutine so the handler sees messages in
// queue order. Offsets are committed explicitly through Commit once the
// message is fully handled downstream.
type Consumer struct {
	r   *kafka.Reader
	log *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return &Consumer{r: r, log: log.Named("consumer")}
}

// Run reads until ctx ends. A handler error is logged and the loop backs
// off briefly; the message itself stays uncommitted.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := h(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("handler error",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			time.Sleep(200 * time.Millisecond) // backoff ringan
		}
	}
}

func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
