package lookaside

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
	"github.com/JakeFAU/competition-discovery/internal/keyspace"
)

const redisKeyPrefix = "discovery:exists:"

// RedisConfig configures the shared tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisRemote stores confirmed rows as JSON strings.
type RedisRemote struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRemote connects a client. No network I/O happens until first use.
func NewRedisRemote(cfg RedisConfig) (*RedisRemote, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("lookaside.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisRemote{client: client, ttl: cfg.TTL}, nil
}

func redisKey(key keyspace.CandidateKey) string {
	return redisKeyPrefix + key.String()
}

// Load fetches a confirmed row; a miss returns ok=false.
func (r *RedisRemote) Load(ctx context.Context, key keyspace.CandidateKey) (discovery.CacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return discovery.CacheEntry{}, false, nil
	}
	if err != nil {
		return discovery.CacheEntry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry discovery.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return discovery.CacheEntry{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return entry, true, nil
}

// Store writes a confirmed row. A zero TTL keeps it indefinitely.
func (r *RedisRemote) Store(ctx context.Context, entry discovery.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached entry: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(entry.Key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisRemote) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
