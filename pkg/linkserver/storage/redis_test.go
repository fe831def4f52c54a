// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedisStore(t *testing.T, fn func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore)) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	fn(t, mr, s)
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestRedisStoreConnectionFailure(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisStorePutGetRoundtrip(t *testing.T) {
	withRedisStore(t, func(t *testing.T, _ *miniredis.Miniredis, s *RedisStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, StatePending, got.State)
		assert.Equal(t, "challenge", got.CodeChallenge)
	})
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	withRedisStore(t, func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))
		assert.True(t, mr.Exists(DefaultKeyPrefix+"req-1"))
	})
}

func TestRedisStoreExpiry(t *testing.T) {
	withRedisStore(t, func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), 30*time.Second))

		mr.FastForward(time.Minute)

		_, err := s.GetLinkRequest(ctx, "req-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStoreCompletedWriteRestartsTTL(t *testing.T) {
	withRedisStore(t, func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), 30*time.Second))
		mr.FastForward(20 * time.Second)

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", completedRequest("challenge", "tok"), 30*time.Second))
		mr.FastForward(20 * time.Second)

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, got.State)
		assert.Equal(t, "tok", got.IssuedToken)
	})
}

func TestRedisStoreDeleteIsIdempotent(t *testing.T) {
	withRedisStore(t, func(t *testing.T, _ *miniredis.Miniredis, s *RedisStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))
		require.NoError(t, s.DeleteLinkRequest(ctx, "req-1"))
		require.NoError(t, s.DeleteLinkRequest(ctx, "req-1"))

		_, err := s.GetLinkRequest(ctx, "req-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRedisStoreHealth(t *testing.T) {
	withRedisStore(t, func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore) {
		t.Helper()

		require.NoError(t, s.Health(context.Background()))

		mr.Close()
		assert.Error(t, s.Health(context.Background()))
	})
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	withRedisStore(t, func(t *testing.T, mr *miniredis.Miniredis, s *RedisStore) {
		t.Helper()

		require.NoError(t, mr.Set(DefaultKeyPrefix+"req-1", "not-json"))

		_, err := s.GetLinkRequest(context.Background(), "req-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deserialize")
	})
}
