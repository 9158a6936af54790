package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6560"`
	DBPath     string `env:"DB_PATH, default=orchestrator.db"`
	Hostname   string `env:"HOSTNAME, required"`
	Dev        bool   `env:"DEV, default=false"`
	LogLevel   string `env:"LOG_LEVEL, default=debug"`
}

type Queue struct {
	Provider  string `env:"PROVIDER, default=memory"`
	Size      int    `env:"SIZE, default=100"`
	Workers   int    `env:"WORKERS, default=2"`
	RedisAddr string `env:"REDIS_ADDR, default=localhost:6379"`
	RedisKey  string `env:"REDIS_KEY, default=orchestrator:tasks"`
}

type Webhooks struct {
	RegisterAttempts uint          `env:"REGISTER_ATTEMPTS, default=3"`
	RegisterDelay    time.Duration `env:"REGISTER_DELAY, default=1s"`
	BitbucketApiUrl  string        `env:"BITBUCKET_API_URL, default=https://api.bitbucket.org/2.0"`
}

type Flow struct {
	CacheSize int64 `env:"CACHE_SIZE, default=1000"`
}

type Config struct {
	Server   Server   `env:",prefix=ORCHESTRATOR_SERVER_"`
	Queue    Queue    `env:",prefix=ORCHESTRATOR_QUEUE_"`
	Webhooks Webhooks `env:",prefix=ORCHESTRATOR_WEBHOOKS_"`
	Flow     Flow     `env:",prefix=ORCHESTRATOR_FLOW_"`
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Queue.Provider {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unknown queue provider %q", cfg.Queue.Provider)
	}

	return &cfg, nil
}
