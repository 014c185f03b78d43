package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Bagheerabaloo/jarvis/internal/config"
	"github.com/Bagheerabaloo/jarvis/internal/lifecycle"
	"github.com/Bagheerabaloo/jarvis/internal/outbound"
	"github.com/Bagheerabaloo/jarvis/internal/redis"
	"github.com/Bagheerabaloo/jarvis/internal/store"
)

// loadConfig reads .env into the environment, then the config file.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load(".env")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the SQL store and, when conversations live in Redis,
// pairs it with a Redis conversation store.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	sql, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, cfg.Store.PoolSize)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Conversations != config.ConversationsRedis {
		return sql, nil
	}
	rdb, err := redis.Connect(ctx, cfg.Redis, log)
	if err != nil {
		_ = sql.Close()
		return nil, err
	}
	return store.NewComposite(sql, store.NewRedisStore(rdb)), nil
}

func gcPolicy(cfg config.Config) lifecycle.GCPolicy {
	return lifecycle.GCPolicy{
		MinAge:     cfg.GC.MinAge,
		MaxAge:     cfg.GC.MaxAge,
		KeepLatest: cfg.GC.KeepLatest,
	}
}

func outboundConfig(cfg config.Config) outbound.Config {
	retry := outbound.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Outbound.MaxAttempts
	retry.BaseDelay = cfg.Outbound.BaseDelay
	retry.MaxDelay = cfg.Outbound.MaxDelay
	return outbound.Config{
		Permits:   cfg.Outbound.Permits,
		Retry:     retry,
		RateLimit: cfg.Outbound.RateLimit,
		Burst:     cfg.Outbound.Burst,
		MaxLength: outbound.MaxMessageLength,
	}
}
