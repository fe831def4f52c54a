// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMemoryStore(t *testing.T, fn func(t *testing.T, s *MemoryStore)) {
	t.Helper()
	t.Parallel()

	s := NewMemoryStore(WithCleanupInterval(10 * time.Millisecond))
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	fn(t, s)
}

func pendingRequest(challenge string) *LinkRequest {
	return &LinkRequest{State: StatePending, CodeChallenge: challenge}
}

func completedRequest(challenge, token string) *LinkRequest {
	return &LinkRequest{State: StateCompleted, CodeChallenge: challenge, IssuedToken: token}
}

func TestMemoryStorePutGetRoundtrip(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, StatePending, got.State)
		assert.Equal(t, "challenge", got.CodeChallenge)
		assert.Empty(t, got.IssuedToken)
	})
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		_, err := s.GetLinkRequest(context.Background(), "never-stored")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreOverwriteReplacesState(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("first"), time.Minute))
		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("second"), time.Minute))

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "second", got.CodeChallenge)
	})
}

func TestMemoryStoreCompletedTransition(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))
		require.NoError(t, s.PutLinkRequest(ctx, "req-1", completedRequest("challenge", "signed-token"), time.Minute))

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, got.State)
		assert.Equal(t, "challenge", got.CodeChallenge)
		assert.Equal(t, "signed-token", got.IssuedToken)
	})
}

func TestMemoryStoreExpiredReadsAsAbsent(t *testing.T) {
	t.Parallel()

	// Long cleanup interval so expiry is observed logically, before any
	// physical eviction runs.
	s := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	ctx := context.Background()

	require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), 20*time.Millisecond))

	time.Sleep(50 * time.Millisecond)

	_, err := s.GetLinkRequest(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreBackgroundEviction(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), 20*time.Millisecond))

		assert.Eventually(t, func() bool {
			s.mu.RLock()
			defer s.mu.RUnlock()
			_, ok := s.entries["req-1"]
			return !ok
		}, time.Second, 10*time.Millisecond, "expired entry should be physically evicted")
	})
}

func TestMemoryStorePutRestartsTTL(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	ctx := context.Background()

	require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), 40*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	// The completed write re-specifies the TTL, giving the token a fresh
	// pickup window rather than inheriting the pending deadline.
	require.NoError(t, s.PutLinkRequest(ctx, "req-1", completedRequest("challenge", "tok"), 200*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	got, err := s.GetLinkRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))
		require.NoError(t, s.DeleteLinkRequest(ctx, "req-1"))
		require.NoError(t, s.DeleteLinkRequest(ctx, "req-1"))

		_, err := s.GetLinkRequest(ctx, "req-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreRejectsInvalidRequests(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		tests := []struct {
			name string
			req  *LinkRequest
		}{
			{"pending with token", &LinkRequest{State: StatePending, CodeChallenge: "c", IssuedToken: "t"}},
			{"completed without token", &LinkRequest{State: StateCompleted, CodeChallenge: "c"}},
			{"unknown state", &LinkRequest{State: State("BOGUS"), CodeChallenge: "c"}},
			{"missing challenge", &LinkRequest{State: StatePending}},
		}
		for _, tc := range tests {
			assert.Error(t, s.PutLinkRequest(ctx, "req-1", tc.req, time.Minute), tc.name)
		}
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		require.NoError(t, s.PutLinkRequest(ctx, "req-1", pendingRequest("challenge"), time.Minute))

		got, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		got.CodeChallenge = "mutated"

		again, err := s.GetLinkRequest(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, "challenge", again.CodeChallenge)
	})
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	withMemoryStore(t, func(t *testing.T, s *MemoryStore) {
		t.Helper()
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := fmt.Sprintf("req-%d", i)
				_ = s.PutLinkRequest(ctx, id, pendingRequest("challenge"), time.Minute)
				_, _ = s.GetLinkRequest(ctx, id)
				_ = s.DeleteLinkRequest(ctx, id)
			}()
		}
		wg.Wait()
	})
}
