package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "broker:", cfg.RedisPrefix)
	assert.Equal(t, 256, cfg.ClaimScanDepth)
	assert.Equal(t, 3, cfg.DefaultMaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.DefaultJobTimeout)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTick)
	assert.Equal(t, 90*time.Second, cfg.WorkerStaleAfter)
	assert.Equal(t, int64(10000), cfg.EventsMainMaxLen)
	assert.Equal(t, int64(50000), cfg.EventsErrorsMaxLen)
	assert.Equal(t, 7*24*time.Hour, cfg.EventsErrorsRetention)
	assert.Equal(t, "warn", cfg.UnknownTypePolicy)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("CLAIM_SCAN_DEPTH", "64")
	t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")
	t.Setenv("UNKNOWN_TYPE_POLICY", "error")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 64, cfg.ClaimScanDepth)
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.KafkaBrokers)
	assert.True(t, cfg.ArchiveEnabled())
	assert.Equal(t, "error", cfg.UnknownTypePolicy)
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	t.Setenv("UNKNOWN_TYPE_POLICY", "explode")
	_, err := Load()
	require.Error(t, err)
}
