package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer writes synchronously; callers act on the broker's answer (the
// relay only commits a failed message once its dead letter is stored).
type Producer struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewProducer(brokers []string, topic string, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // key = order id, satu partisi per order
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log.Named("producer").With(zap.String("topic", topic)),
	}
}

func (p *Producer) Send(ctx context.Context, msgs ...kafka.Message) error {
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("write failed", zap.Int("messages", len(msgs)), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes pending batches and closes the writer.
func (p *Producer) Close() error { return p.w.Close() }
