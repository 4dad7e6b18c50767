package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HOLD_TTL", "PAYMENT_TIMEOUT", "SCHEDULER_POLL_INTERVAL", "SCHEDULER_CONCURRENCY", "HTTP_ADDR", "IDEMPOTENCY_TTL", "RATE_LIMIT_HOLDS_PER_USER", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 10*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, time.Minute, cfg.SchedulerPollInterval)
	assert.Equal(t, 10, cfg.SchedulerConcurrency)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 10, cfg.HoldsPerUserMin)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "2m")
	t.Setenv("SCHEDULER_CONCURRENCY", "4")
	t.Setenv("SCHEDULER_BATCH_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.HoldTTL)
	assert.Equal(t, 4, cfg.SchedulerConcurrency)
	assert.Equal(t, 100, cfg.SchedulerBatchSize)
}
