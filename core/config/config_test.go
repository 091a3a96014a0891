package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Xero.StateTTL)
	assert.Equal(t, time.Second, cfg.Xero.MinRequestInterval)
	assert.Equal(t, StateStorePostgres, cfg.Xero.StateStore)
	assert.Contains(t, cfg.Xero.Scopes, "offline_access")

	got, ok := GetSafe()
	require.True(t, ok)
	assert.Same(t, cfg, got)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Cleanup(func() { Set(nil) })
	t.Setenv("XERO_STATE_STORE", "redis")
	t.Setenv("XERO_MIN_REQUEST_INTERVAL", "250ms")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_S3_BUCKET", "snapshots")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StateStoreRedis, cfg.Xero.StateStore)
	assert.Equal(t, 250*time.Millisecond, cfg.Xero.MinRequestInterval)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "snapshots", cfg.Storage.S3Bucket)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Xero: XeroConfig{
			StateTTL:           10 * time.Minute,
			StateStore:         StateStoreMemory,
			MinRequestInterval: time.Second,
			RateLimitCooldown:  5 * time.Second,
		}}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Xero.RateLimitCooldown = time.Second
	assert.ErrorContains(t, cfg.Validate(), "rate_limit_cooldown")

	cfg = valid()
	cfg.Xero.StateStore = "etcd"
	assert.ErrorContains(t, cfg.Validate(), "unknown xero.state_store")

	cfg = valid()
	cfg.Xero.StateTTL = 0
	assert.Error(t, cfg.Validate())
}
