// file: internal/diskcache/diskcache.go
// version: 1.1.0
// guid: 1b3d5f7a-9c1e-4a3c-b5d7-f9a1c3e5b7d9

// Package diskcache keeps fetched dataset resources in a local Pebble
// store so restarts do not refetch unchanged files.
package diskcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/metrics"
)

const keyPrefix = "res:"

// Cache is a read-through fetcher.Source backed by Pebble. Values are
// stored as an 8-byte big-endian unix-nano timestamp followed by the payload.
type Cache struct {
	db    *pebble.DB
	inner fetcher.Source
	ttl   time.Duration
	now   func() time.Time
}

// Open opens (or creates) the store at dir. ttl <= 0 keeps entries until
// they are invalidated.
func Open(dir string, inner fetcher.Source, ttl time.Duration) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open disk cache: %w", err)
	}
	return &Cache{db: db, inner: inner, ttl: ttl, now: time.Now}, nil
}

// Close releases the store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Fetch returns the stored copy of name when fresh, otherwise fetches it
// from the wrapped source and stores it. Failures are never stored.
func (c *Cache) Fetch(ctx context.Context, name string) ([]byte, error) {
	if data, ok := c.get(name); ok {
		metrics.IncCacheHit("disk")
		return data, nil
	}
	metrics.IncCacheMiss("disk")

	data, err := c.inner.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.put(name, data); err != nil {
		log.Printf("[WARN] disk cache: failed to store %s: %v", name, err)
	}
	return data, nil
}

// Invalidate drops one stored resource.
func (c *Cache) Invalidate(name string) error {
	return c.db.Delete(key(name), pebble.Sync)
}

// InvalidatePrefix drops every stored resource whose name starts with
// prefix. An empty prefix clears the store.
func (c *Cache) InvalidatePrefix(prefix string) error {
	start := []byte(keyPrefix + prefix)
	return c.db.DeleteRange(start, prefixEnd(start), pebble.Sync)
}

// Entry describes one stored resource.
type Entry struct {
	Name     string
	Size     int
	StoredAt time.Time
	Expired  bool
}

// Entries lists up to limit stored resources whose name starts with
// prefix, in key order. limit <= 0 lists all of them.
func (c *Cache) Entries(prefix string, limit int) ([]Entry, error) {
	lower := []byte(keyPrefix + prefix)
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []Entry
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		val := iter.Value()
		if len(val) < 8 {
			continue
		}
		stored := time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
		out = append(out, Entry{
			Name:     string(iter.Key()[len(keyPrefix):]),
			Size:     len(val) - 8,
			StoredAt: stored,
			Expired:  c.expired(stored),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return out, nil
}

func (c *Cache) expired(stored time.Time) bool {
	return c.ttl > 0 && c.now().Sub(stored) > c.ttl
}

func (c *Cache) get(name string) ([]byte, bool) {
	val, closer, err := c.db.Get(key(name))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			log.Printf("[WARN] disk cache: read %s: %v", name, err)
		}
		return nil, false
	}
	defer closer.Close()

	if len(val) < 8 {
		return nil, false
	}
	stored := time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
	if c.expired(stored) {
		return nil, false
	}

	out := make([]byte, len(val)-8)
	copy(out, val[8:])
	return out, true
}

func (c *Cache) put(name string, data []byte) error {
	val := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(val[:8], uint64(c.now().UnixNano()))
	copy(val[8:], data)
	return c.db.Set(key(name), val, pebble.NoSync)
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
