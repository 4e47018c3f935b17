package service

import (
	"sensorchat-gateway/internal/config"
	"sensorchat-gateway/internal/storage"
	"sensorchat-gateway/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// NewStorage builds the configured backend and falls back to memory when it
// cannot be initialized.
func NewStorage(cfg *config.StorageConfig) storage.Storage {
	var store storage.Storage

	switch cfg.Type {
	case "disk":
		store = storage.NewDiskStorage(cfg.DataDir, cfg.CacheSize)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = storage.NewRedisStorage(client, cfg.Redis.KeyPrefix)
	default:
		store = storage.NewMemoryStorage()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize %s storage, falling back to memory: %v", cfg.Type, err)
		store.Close()
		store = storage.NewMemoryStorage()
		store.Init()
	}

	return store
}
