// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/tokenbridge/pkg/logger"
)

// DefaultCleanupInterval is how often the background eviction pass runs.
const DefaultCleanupInterval = time.Minute

// timedEntry wraps a link request with its expiry for TTL tracking.
type timedEntry struct {
	value     *LinkRequest
	expiresAt time.Time
}

func (e *timedEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStore implements Store with an in-memory map.
// It is safe for concurrent use and suitable for single-instance deployments;
// multi-instance deployments should use RedisStore so all replicas observe
// the same link state.
//
// Reads treat expired entries as absent regardless of whether the background
// eviction pass has run yet, so logical expiry never depends on the cleanup
// schedule.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*timedEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom background eviction interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore and starts its background eviction
// goroutine. Callers must Close the store when done.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]*timedEntry),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// PutLinkRequest stores a link request, overwriting any existing entry and
// restarting the TTL clock.
func (s *MemoryStore) PutLinkRequest(_ context.Context, requestID string, req *LinkRequest, ttl time.Duration) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultLinkRequestTTL
	}

	// Copy so later mutation by the caller cannot bypass the store.
	stored := *req

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[requestID] = &timedEntry{
		value:     &stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// GetLinkRequest retrieves a link request, treating expired entries as absent.
func (s *MemoryStore) GetLinkRequest(_ context.Context, requestID string) (*LinkRequest, error) {
	s.mu.RLock()
	entry, ok := s.entries[requestID]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}

	value := *entry.value
	return &value, nil
}

// DeleteLinkRequest removes a link request. Absent entries are ignored.
func (s *MemoryStore) DeleteLinkRequest(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, requestID)
	return nil
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

// Close stops the background eviction goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic eviction of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes expired entries. Keys are collected under the read
// lock first to keep write lock hold time short.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	var expiredKeys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}
	s.mu.RUnlock()

	if len(expiredKeys) == 0 {
		return
	}

	s.mu.Lock()
	for _, key := range expiredKeys {
		// Re-check under the write lock; the entry may have been replaced
		// with a fresh one in between.
		if entry, ok := s.entries[key]; ok && entry.expired(now) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	logger.Debugw("evicted expired link requests", "count", len(expiredKeys))
}
