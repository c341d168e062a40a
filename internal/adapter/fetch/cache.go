package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/dwd-ingest/internal/observability"
)

// Cached wraps a Fetcher with an in-memory LRU cache whose entries expire
// after a fixed TTL. Many 10-minute product files of one station share the
// same metadata archive.
type Cached struct {
	inner   Fetcher
	cache   *lruCache
	clock   clockwork.Clock
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCached creates a cache decorator around a fetcher. A nil clock uses the
// real one.
func NewCached(inner Fetcher, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Cached {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cached{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		clock:   clock,
		ttl:     ttl,
		metrics: metrics,
	}
}

// Fetch implements Fetcher. Failures are not cached.
func (c *Cached) Fetch(ctx context.Context, url string) ([]byte, error) {
	now := c.clock.Now()
	body, found := c.cache.get(url, now)
	switch {
	case found && body != nil:
		c.metrics.FetchCache.WithLabelValues("hit").Inc()
		return body, nil
	case found:
		c.metrics.FetchCache.WithLabelValues("expired").Inc()
	default:
		c.metrics.FetchCache.WithLabelValues("miss").Inc()
	}

	body, err := c.inner.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.cache.put(url, body, c.clock.Now().Add(c.ttl))
	return body, nil
}

// Download stores the possibly cached body of url in dir.
func (c *Cached) Download(ctx context.Context, url, dir string) (string, error) {
	return Download(ctx, c, url, dir)
}

// lruCache is a simple thread-safe LRU cache of response bodies.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     string
	value   []byte
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// get returns the live value of key. An expired entry is dropped and reported
// as found with a nil value.
func (c *lruCache) get(key string, now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return nil, true
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []byte, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
