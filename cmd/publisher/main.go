// Command publisher replays order events (one JSON object per line) onto
// the inbound topic, keyed by orderId so every event of an order lands on
// the same partition.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/order-relay/internal/config"
	kafkax "github.com/ariefcatur/order-relay/internal/kafka"
	"github.com/ariefcatur/order-relay/internal/logger"
	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	file := pflag.StringP("file", "f", "-", "JSON lines to publish, - for stdin")
	topic := pflag.StringP("topic", "t", cfg.KafkaTopic, "target topic")
	brokers := pflag.StringSlice("brokers", cfg.KafkaBrokers, "kafka brokers")
	delay := pflag.Duration("delay", 0, "pause between messages")
	pflag.Parse()

	log := logger.New(cfg.LogLevel).Named("publisher")
	defer func() { _ = log.Sync() }()

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal("open input", zap.Error(err))
		}
		defer f.Close()
		in = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prod := kafkax.NewProducer(*brokers, *topic, log)
	defer func() { _ = prod.Close() }()

	n, err := publish(ctx, in, prod, *delay)
	if err != nil {
		log.Error("publish stopped", zap.Int("published", n), zap.Error(err))
		return
	}
	log.Info("done", zap.Int("published", n), zap.String("topic", *topic))
}

type sender interface {
	Send(ctx context.Context, msgs ...kafkago.Message) error
}

// publish sends line by line so the broker sees the input order.
func publish(ctx context.Context, in io.Reader, s sender, delay time.Duration) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		value := append([]byte(nil), line...)
		msg := kafkago.Message{
			Key:     orders.PartitionKey(orderID(value)),
			Value:   value,
			Time:    time.Now(),
			Headers: []kafkago.Header{kafkax.Header("x-message-id", uuid.NewString())},
		}
		if err := s.Send(ctx, msg); err != nil {
			return n, err
		}
		n++
		if delay > 0 {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return n, sc.Err()
}

// orderID is best effort: malformed lines are still published (the relay
// rejects them) under an empty key.
func orderID(b []byte) string {
	var v struct {
		OrderID string `json:"orderId"`
	}
	_ = json.Unmarshal(b, &v)
	return v.OrderID
}
