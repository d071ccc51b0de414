package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string
	LogLevel    string
	HTTPAddr    string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	KafkaDLQTopic string
	IntakeWorkers int

	CRMAPIURL  string
	CRMTimeout time.Duration

	LedgerOutputDir   string
	LedgerFilePattern string
	LedgerMaxRecords  int

	GroupTimeout      time.Duration
	IdleTimeout       time.Duration
	DispatchPoolSize  int
	DispatchQueueSize int

	// optional: kosong = dedup / failure journal mati
	RedisAddr   string
	PostgresDSN string
}

var defaults = map[string]any{
	"SERVICE_NAME":        "order-relay",
	"LOG_LEVEL":           "info",
	"HTTP_ADDR":           ":8082",
	"KAFKA_BROKERS":       "kafka:9092",
	"KAFKA_TOPIC":         orders.TopicOrderEvents,
	"KAFKA_GROUP":         "order-relay",
	"KAFKA_DLQ_TOPIC":     orders.TopicOrderEventsDLQ,
	"INTAKE_WORKERS":      10,
	"CRM_API_URL":         "http://localhost:4010",
	"CRM_TIMEOUT":         "10s",
	"LEDGER_OUTPUT_DIR":   "./financial-output",
	"LEDGER_FILE_PATTERN": "fin_orders_{datetime:ddMMyyyyHHmm}.csv",
	"LEDGER_MAX_RECORDS":  1000,
	"RESEQ_GROUP_TIMEOUT": "5000",
	"RESEQ_IDLE_TIMEOUT":  "5000",
	"DISPATCH_POOL_SIZE":  10,
	"DISPATCH_QUEUE_SIZE": 64,
	"REDIS_ADDR":          "",
	"POSTGRES_DSN":        "",
}

// Load reads configuration from the environment, falling back to defaults.
func Load() Config {
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) Config {
	return Config{
		ServiceName:       v.GetString("SERVICE_NAME"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		KafkaBrokers:      splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		KafkaGroup:        v.GetString("KAFKA_GROUP"),
		KafkaDLQTopic:     v.GetString("KAFKA_DLQ_TOPIC"),
		IntakeWorkers:     v.GetInt("INTAKE_WORKERS"),
		CRMAPIURL:         strings.TrimRight(v.GetString("CRM_API_URL"), "/"),
		CRMTimeout:        durationOrMillis(v.GetString("CRM_TIMEOUT")),
		LedgerOutputDir:   v.GetString("LEDGER_OUTPUT_DIR"),
		LedgerFilePattern: v.GetString("LEDGER_FILE_PATTERN"),
		LedgerMaxRecords:  v.GetInt("LEDGER_MAX_RECORDS"),
		GroupTimeout:      durationOrMillis(v.GetString("RESEQ_GROUP_TIMEOUT")),
		IdleTimeout:       durationOrMillis(v.GetString("RESEQ_IDLE_TIMEOUT")),
		DispatchPoolSize:  v.GetInt("DISPATCH_POOL_SIZE"),
		DispatchQueueSize: v.GetInt("DISPATCH_QUEUE_SIZE"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		PostgresDSN:       v.GetString("POSTGRES_DSN"),
	}
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error
	if c.CRMAPIURL == "" {
		errs = append(errs, errors.New("CRM_API_URL is required"))
	}
	if c.LedgerOutputDir == "" {
		errs = append(errs, errors.New("LEDGER_OUTPUT_DIR is required"))
	}
	if c.LedgerFilePattern == "" {
		errs = append(errs, errors.New("LEDGER_FILE_PATTERN is required"))
	}
	if c.LedgerMaxRecords < 1 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_RECORDS must be >= 1, got %d", c.LedgerMaxRecords))
	}
	if c.GroupTimeout <= 0 {
		errs = append(errs, errors.New("RESEQ_GROUP_TIMEOUT must be positive"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("RESEQ_IDLE_TIMEOUT must be positive"))
	}
	if c.CRMTimeout <= 0 {
		errs = append(errs, errors.New("CRM_TIMEOUT must be positive"))
	}
	if c.DispatchPoolSize < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_POOL_SIZE must be >= 1, got %d", c.DispatchPoolSize))
	}
	if c.DispatchQueueSize < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_QUEUE_SIZE must be >= 1, got %d", c.DispatchQueueSize))
	}
	if c.IntakeWorkers < 1 {
		errs = append(errs, fmt.Errorf("INTAKE_WORKERS must be >= 1, got %d", c.IntakeWorkers))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required"))
	}
	return errors.Join(errs...)
}

// durationOrMillis menerima "5s", "250ms" atau angka polos (milidetik).
func durationOrMillis(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
