// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const cacheKeyPrefix = "checkin/cache/"

// CacheEntry is one cached collection snapshot. CachedAt reflects the last
// authoritative full fetch, not incremental optimistic patches.
type CacheEntry struct {
	CollectionKey string     `json:"collection_key"`
	Records       []Attendee `json:"records"`
	CachedAt      time.Time  `json:"cached_at"`
}

// CacheStore keeps per-collection attendee snapshots in the DurableStore so
// a relaunch can render the last known state before any network round trip.
//
// Put represents a full authoritative refresh and resets CachedAt;
// UpsertRecord merges a single record (optimistic or reconciling) and leaves
// CachedAt untouched so staleness still measures the last full fetch. An
// internal lock serializes read-modify-write cycles against concurrent
// callers (UI path upserts vs. drain-time refreshes).
type CacheStore struct {
	store  DurableStore
	ttl    time.Duration
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewCacheStore returns a cache with the given staleness TTL.
func NewCacheStore(store DurableStore, ttl time.Duration, logger *slog.Logger) *CacheStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CacheStore{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Get returns the cached entry for collectionKey, or nil when absent.
func (c *CacheStore) Get(ctx context.Context, collectionKey string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx, collectionKey)
}

func (c *CacheStore) getLocked(ctx context.Context, collectionKey string) (*CacheEntry, error) {
	raw, found, err := c.store.GetList(ctx, cacheKeyPrefix+collectionKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt snapshot: drop it and report absence; the next refresh rebuilds it.
		c.logger.Error("dropping corrupt cache entry", "collection", collectionKey, "error", err)
		if delErr := c.store.DeleteList(ctx, cacheKeyPrefix+collectionKey); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return &entry, nil
}

func (c *CacheStore) putLocked(ctx context.Context, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry %q: %w", entry.CollectionKey, err)
	}
	return c.store.SetList(ctx, cacheKeyPrefix+entry.CollectionKey, data)
}

// Put overwrites the collection with an authoritative record set and resets CachedAt.
func (c *CacheStore) Put(ctx context.Context, collectionKey string, records []Attendee) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(ctx, &CacheEntry{
		CollectionKey: collectionKey,
		Records:       records,
		CachedAt:      c.now().UTC(),
	})
}

// UpsertRecord merges a single record into the collection by id, inserting
// when absent. CachedAt is preserved (zero when the collection was absent,
// which keeps it stale until the first full fetch).
func (c *CacheStore) UpsertRecord(ctx context.Context, collectionKey string, record Attendee) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, err := c.getLocked(ctx, collectionKey)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &CacheEntry{CollectionKey: collectionKey}
	}
	replaced := false
	for i := range entry.Records {
		if entry.Records[i].ID == record.ID {
			entry.Records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		entry.Records = append(entry.Records, record)
	}
	return c.putLocked(ctx, entry)
}

// IsStale reports whether the collection is older than the TTL or absent.
func (c *CacheStore) IsStale(ctx context.Context, collectionKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, err := c.getLocked(ctx, collectionKey)
	if err != nil {
		return true, err
	}
	if entry == nil {
		return true, nil
	}
	return c.now().Sub(entry.CachedAt) > c.ttl, nil
}

// Clear removes the collection snapshot.
func (c *CacheStore) Clear(ctx context.Context, collectionKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.DeleteList(ctx, cacheKeyPrefix+collectionKey)
}
