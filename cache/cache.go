// ABOUTME: Time-boxed snapshot cache for remote reads, stored in BadgerDB
// ABOUTME: Whole-entry writes, stale rejection on the default path, and explicit invalidation
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/harperreed/fieldsync/models"
)

// ErrMiss is returned when no usable entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Options configures a Cache.
type Options struct {
	// Dir is the badger directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// TTL is how long an entry is served by Get.
	TTL time.Duration
	// StaleRetention is how long an expired entry stays available to
	// GetAllowStale before badger discards it.
	StaleRetention time.Duration
	Logger         badger.Logger
}

// Cache stores CacheEntry snapshots keyed by string.
type Cache struct {
	db             *badger.DB
	ttl            time.Duration
	staleRetention time.Duration
	now            func() time.Time
}

// Open opens (or creates) the cache.
func Open(opts Options) (*Cache, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(opts.Logger)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(opts.Logger)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	return &Cache{db: db, ttl: opts.TTL, staleRetention: opts.StaleRetention, now: time.Now}, nil
}

// SetClock replaces the cache's time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Put replaces the entry for key with a fresh snapshot of data.
func (c *Cache) Put(key string, data []byte) (*models.CacheEntry, error) {
	now := c.now()
	entry := &models.CacheEntry{
		Key:       key,
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.write(entry, c.ttl+c.staleRetention); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the entry only while it is within its validity window and has
// not been invalidated.
func (c *Cache) Get(key string) (*models.CacheEntry, error) {
	entry, err := c.read(key)
	if err != nil {
		return nil, err
	}
	if entry.IsStale || entry.Expired(c.now()) {
		return nil, ErrMiss
	}
	return entry, nil
}

// GetAllowStale returns the last known entry for key, marking it stale when it
// is past its validity window.
func (c *Cache) GetAllowStale(key string) (*models.CacheEntry, error) {
	entry, err := c.read(key)
	if err != nil {
		return nil, err
	}
	if entry.Expired(c.now()) {
		entry.IsStale = true
	}
	return entry, nil
}

// Invalidate marks the entry stale. The snapshot stays available to
// GetAllowStale for the rest of its retention.
func (c *Cache) Invalidate(key string) error {
	entry, err := c.read(key)
	if errors.Is(err, ErrMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	entry.IsStale = true

	keep := entry.ExpiresAt.Add(c.staleRetention).Sub(c.now())
	if keep <= 0 {
		return c.Delete(key)
	}
	return c.write(entry, keep)
}

// Delete removes the entry for key.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Keys lists every key with the given prefix.
func (c *Cache) Keys(prefix string) ([]string, error) {
	var keys []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// Purge drops every entry.
func (c *Cache) Purge() error {
	return c.db.DropAll()
}

func (c *Cache) write(entry *models.CacheEntry, keep time.Duration) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(entry.Key), value)
		if keep > 0 {
			e = e.WithTTL(keep)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (c *Cache) read(key string) (*models.CacheEntry, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, nil
}
