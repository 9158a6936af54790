package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"ORCHESTRATOR_SERVER_HOSTNAME": "orchestrator.example.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6560", cfg.Server.ListenAddr)
	assert.Equal(t, "orchestrator.db", cfg.Server.DBPath)
	assert.Equal(t, "memory", cfg.Queue.Provider)
	assert.Equal(t, 100, cfg.Queue.Size)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, uint(3), cfg.Webhooks.RegisterAttempts)
	assert.Equal(t, time.Second, cfg.Webhooks.RegisterDelay)
	assert.Equal(t, int64(1000), cfg.Flow.CacheSize)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"ORCHESTRATOR_SERVER_HOSTNAME":            "orchestrator.example.com",
		"ORCHESTRATOR_QUEUE_PROVIDER":             "redis",
		"ORCHESTRATOR_QUEUE_REDIS_ADDR":           "redis:6379",
		"ORCHESTRATOR_WEBHOOKS_REGISTER_DELAY":    "250ms",
		"ORCHESTRATOR_WEBHOOKS_REGISTER_ATTEMPTS": "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Queue.Provider)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Webhooks.RegisterDelay)
	assert.Equal(t, uint(5), cfg.Webhooks.RegisterAttempts)
}

func TestLoadRequiresHostname(t *testing.T) {
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownQueue(t *testing.T) {
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"ORCHESTRATOR_SERVER_HOSTNAME": "orchestrator.example.com",
		"ORCHESTRATOR_QUEUE_PROVIDER":  "kafka",
	}))
	assert.Error(t, err)
}
