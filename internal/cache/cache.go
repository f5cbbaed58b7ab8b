// Package cache memoizes search results per browsing session for a short TTL.
package cache

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 256
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry is one cached result.
type Entry[V any] struct {
	StoredAt    time.Time
	Fingerprint string
	Value       V
}

// Cache is a bounded LRU whose entries expire after ttl. Keys are scoped by
// session so results are never shared across users. Two callers computing
// the same fingerprint concurrently both write; the later write wins and
// both values are equivalent.
type Cache[V any] struct {
	lru   *lru.Cache[string, Entry[V]]
	clock Clock
	ttl   time.Duration
}

// New creates a Cache using the wall clock.
func New[V any](maxEntries int, ttl time.Duration) (*Cache[V], error) {
	return NewWithClock[V](maxEntries, ttl, realClock{})
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock[V any](maxEntries int, ttl time.Duration, clock Clock) (*Cache[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l, err := lru.New[string, Entry[V]](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{lru: l, clock: clock, ttl: ttl}, nil
}

func key(session, fingerprint string) string {
	return session + "\x00" + fingerprint
}

// Get returns the live entry for (session, fingerprint). Expired entries are
// evicted and reported as misses.
func (c *Cache[V]) Get(session, fingerprint string) (Entry[V], bool) {
	k := key(session, fingerprint)
	e, ok := c.lru.Get(k)
	if !ok {
		return Entry[V]{}, false
	}
	if c.clock.Now().Sub(e.StoredAt) >= c.ttl {
		c.lru.Remove(k)
		return Entry[V]{}, false
	}
	return e, true
}

// Put stores v stamped with the current time.
func (c *Cache[V]) Put(session, fingerprint string, v V) {
	c.lru.Add(key(session, fingerprint), Entry[V]{
		StoredAt:    c.clock.Now(),
		Fingerprint: fingerprint,
		Value:       v,
	})
}

// Invalidate drops every entry of session and returns how many were removed.
func (c *Cache[V]) Invalidate(session string) int {
	prefix := session + "\x00"
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Purge drops everything.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
