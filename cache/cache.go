// Package cache keeps long-query results addressable by an opaque id.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hupe1980/tsearch/source"
)

// Entry is a cached query result.
type Entry struct {
	Refs        []source.Ref
	Fingerprint uint64
	CreatedAt   time.Time
}

// Stats reports cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// QueryCache is a capacity and TTL bounded cache of query results. A
// single mutex guards id allocation and updates.
type QueryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, Entry]

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a cache of at most size entries living ttl each. A zero ttl
// disables expiry.
func New(size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		size = 1000
	}
	return &QueryCache{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Get returns the live entry stored under id.
func (c *QueryCache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

// Put stores e under id. An empty id allocates a fresh one. The id is
// returned.
func (c *QueryCache) Put(id string, e Entry) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" {
		for {
			id = NewID()
			if !c.lru.Contains(id) {
				break
			}
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c.lru.Add(id, e)
	return id
}

// Remove drops an entry.
func (c *QueryCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Purge drops every entry.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns the hit and miss counters.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

// NewID returns a random 32 character query id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
