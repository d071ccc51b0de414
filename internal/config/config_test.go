package config

import (
	"testing"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "http://localhost:4010", cfg.CRMAPIURL)
	assert.Equal(t, "./financial-output", cfg.LedgerOutputDir)
	assert.Equal(t, "fin_orders_{datetime:ddMMyyyyHHmm}.csv", cfg.LedgerFilePattern)
	assert.Equal(t, 1000, cfg.LedgerMaxRecords)
	assert.Equal(t, 5*time.Second, cfg.GroupTimeout)
	assert.Equal(t, 10, cfg.DispatchPoolSize)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, orders.TopicOrderEvents, cfg.KafkaTopic)
	assert.Equal(t, orders.TopicOrderEventsDLQ, cfg.KafkaDLQTopic)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CRM_API_URL", "http://crm.internal:8080/")
	t.Setenv("LEDGER_MAX_RECORDS", "25")
	t.Setenv("RESEQ_GROUP_TIMEOUT", "750ms")
	t.Setenv("RESEQ_IDLE_TIMEOUT", "2000")
	t.Setenv("DISPATCH_POOL_SIZE", "4")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Load()

	assert.Equal(t, "http://crm.internal:8080", cfg.CRMAPIURL)
	assert.Equal(t, 25, cfg.LedgerMaxRecords)
	assert.Equal(t, 750*time.Millisecond, cfg.GroupTimeout)
	assert.Equal(t, 2*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 4, cfg.DispatchPoolSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("LEDGER_MAX_RECORDS", "0")
	t.Setenv("DISPATCH_POOL_SIZE", "-1")
	t.Setenv("RESEQ_GROUP_TIMEOUT", "soon")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_MAX_RECORDS")
	assert.Contains(t, err.Error(), "DISPATCH_POOL_SIZE")
	assert.Contains(t, err.Error(), "RESEQ_GROUP_TIMEOUT")
}

func TestDurationOrMillis(t *testing.T) {
	assert.Equal(t, 5*time.Second, durationOrMillis("5000"))
	assert.Equal(t, 3*time.Second, durationOrMillis("3s"))
	assert.Equal(t, time.Duration(0), durationOrMillis(""))
	assert.Equal(t, time.Duration(0), durationOrMillis("later"))
}
