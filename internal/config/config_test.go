package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/fraud?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
	assert.Equal(t, int32(100), cfg.OutboxBatchSize)
	assert.Equal(t, int32(5), cfg.OutboxMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.OutboxBaseBackoff)
	assert.Equal(t, 30*time.Second, cfg.OutboxLease)
	assert.Equal(t, 15*time.Second, cfg.AggregationTTL)
	assert.Equal(t, 24*time.Hour, cfg.FinalizationMarkerTTL)
	assert.Equal(t, 3, cfg.ConsumerMaxRetries)
	assert.True(t, cfg.HighValueLimitEnabled)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoadPrefixedAliasesAndLists(t *testing.T) {
	t.Setenv("FRAUDFLOW_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("FRAUDFLOW_OUTBOX_LEASE", "45s")
	t.Setenv("LEDGER_URL", "http://ledger:8080/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 45*time.Second, cfg.OutboxLease)
	assert.Equal(t, "http://ledger:8080", cfg.LedgerURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"OUTBOX_BASE_BACKOFF": "soon",
		"OUTBOX_LEASE":        "-1s",
		"OUTBOX_MAX_ATTEMPTS": "0",
		"KAFKA_BROKERS":       " , ",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestRequireJWTSecret(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.RequireJWTSecret())
	cfg.JWTSecret = "short"
	require.Error(t, cfg.RequireJWTSecret())
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.RequireJWTSecret())
}
