// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces link request keys in a shared Redis instance.
const DefaultKeyPrefix = "tokenbridge:link:"

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Username and Password authenticate against Redis ACLs.
	// Both may be empty for unauthenticated local instances.
	Username string
	Password string

	// DB selects the Redis logical database.
	DB int

	// KeyPrefix namespaces keys; defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store against a Redis backend, enabling multiple
// tokenbridge replicas to share link state. TTL semantics are delegated to
// Redis key expiry, which keeps logical and physical expiry identical.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates Redis-backed link request storage.
// The connection is verified with a ping before the store is returned.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *RedisStore) key(requestID string) string {
	return s.keyPrefix + requestID
}

// PutLinkRequest stores a link request as JSON with the given TTL.
// SET with expiry both overwrites prior state and restarts the TTL clock.
func (s *RedisStore) PutLinkRequest(ctx context.Context, requestID string, req *LinkRequest, ttl time.Duration) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultLinkRequestTTL
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize link request: %w", err)
	}

	if err := s.client.Set(ctx, s.key(requestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store link request: %w", err)
	}
	return nil
}

// GetLinkRequest retrieves a link request. Redis expiry makes expired keys
// read as absent.
func (s *RedisStore) GetLinkRequest(ctx context.Context, requestID string) (*LinkRequest, error) {
	data, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load link request: %w", err)
	}

	var req LinkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to deserialize link request: %w", err)
	}
	return &req, nil
}

// DeleteLinkRequest removes a link request. Absent keys are ignored.
func (s *RedisStore) DeleteLinkRequest(ctx context.Context, requestID string) error {
	if err := s.client.Del(ctx, s.key(requestID)).Err(); err != nil {
		return fmt.Errorf("failed to delete link request: %w", err)
	}
	return nil
}

// Health pings the Redis server.
func (s *RedisStore) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
