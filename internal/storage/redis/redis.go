package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "screentime"

// Store implements the storage.Store interface using Redis.
type Store struct {
	client  *redis.Client
	usage   *usageStore
	eyeTime *eyeTimeStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:  client,
		usage:   &usageStore{client: client},
		eyeTime: &eyeTimeStore{client: client},
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation.
func (s *Store) Usage() storage.UsageStore {
	return s.usage
}

// EyeTime returns the EyeTimeStore implementation.
func (s *Store) EyeTime() storage.EyeTimeStore {
	return s.eyeTime
}
