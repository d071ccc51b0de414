package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/order-relay/internal/config"
	"github.com/ariefcatur/order-relay/internal/crm"
	"github.com/ariefcatur/order-relay/internal/dispatch"
	"github.com/ariefcatur/order-relay/internal/httpx"
	kafkax "github.com/ariefcatur/order-relay/internal/kafka"
	"github.com/ariefcatur/order-relay/internal/ledger"
	"github.com/ariefcatur/order-relay/internal/logger"
	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/ariefcatur/order-relay/internal/pipeline"
	"github.com/ariefcatur/order-relay/internal/postgres"
	"github.com/ariefcatur/order-relay/internal/processor"
	"github.com/ariefcatur/order-relay/internal/redisx"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.LogLevel).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Error("relay stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger + CRM
	writer, err := ledger.NewWriter(ledger.Config{
		OutputDir:   cfg.LedgerOutputDir,
		FilePattern: cfg.LedgerFilePattern,
		MaxRecords:  cfg.LedgerMaxRecords,
	}, ledger.WithLogger(log))
	if err != nil {
		return err
	}
	notifier := crm.NewClient(cfg.CRMAPIURL, cfg.CRMTimeout)

	// Redis (optional): dedup redelivery
	opts := []processor.Option{processor.WithLogger(log)}
	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, processor.WithDedup(redisx.NewDedup(rdb, "relay")))
	}
	svc := processor.NewService(notifier, writer, opts...)

	// DB (optional): failure journal
	admin := &httpx.AdminHandler{Log: log}
	offsets := kafkax.NewOffsetTracker()
	sink := &resultSink{offsets: offsets, service: cfg.ServiceName, log: log.Named("results")}
	if cfg.PostgresDSN != "" {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := &orders.FailureRepo{DB: db}
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		admin.Failures = repo
		sink.journal = repo
	}

	// Kafka
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic, log)
	defer cons.Close()
	dlq := kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic, log)
	sink.commits, sink.dlq = cons, dlq

	pipe := pipeline.New(ctx, pipeline.Config{
		IntakeWorkers: cfg.IntakeWorkers,
		GroupTimeout:  cfg.GroupTimeout,
		IdleTimeout:   cfg.IdleTimeout,
		Dispatch:      dispatch.Config{Size: cfg.DispatchPoolSize, QueueSize: cfg.DispatchQueueSize},
		Logger:        log,
	}, svc, sink.handle)
	admin.Groups = pipe.Resequencer()

	router := httpx.NewRouter()
	admin.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consumer started",
			zap.String("topic", cfg.KafkaTopic),
			zap.String("group", cfg.KafkaGroup),
			zap.Int("intake_workers", cfg.IntakeWorkers),
			zap.Int("dispatch_workers", cfg.DispatchPoolSize),
		)
		return cons.Run(gctx, func(ctx context.Context, m kafkago.Message) error {
			offsets.Track(m)
			return pipe.Admit(ctx, pipeline.Inbound{Value: m.Value, Meta: m})
		})
	})
	g.Go(func() error {
		log.Info("admin http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	runErr := g.Wait()

	// reader sudah berhenti: flush resequencer, drain pool, baru tutup DLQ
	log.Info("shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pipe.Shutdown(sctx); err != nil {
		log.Warn("pipeline shutdown incomplete", zap.Error(err))
	}
	if err := dlq.Close(); err != nil {
		log.Warn("dlq writer close", zap.Error(err))
	}
	return runErr
}
