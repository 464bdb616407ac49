// ABOUTME: TTL window of recently seen (conversation, message) id pairs
// ABOUTME: Used by webhook ingestion to drop redelivered channel messages

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxSize bounds the window when New is given a non-positive size.
const DefaultMaxSize = 10000

type key struct {
	conversationID string
	messageID      string
}

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a size-bounded, TTL-based set of message keys. The insertion
// order list gives O(1) eviction of the oldest key.
type Cache struct {
	mu      sync.Mutex
	seen    map[key]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache that forgets keys after ttl. A background goroutine
// purges expired keys every sweep interval until Close is called.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[key]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Seen reports whether messageID was already seen for conversationID inside
// the window, and marks it as seen if not. Check and mark are atomic.
// Empty message ids are never considered duplicates.
func (c *Cache) Seen(conversationID, messageID string) bool {
	if messageID == "" {
		return false
	}
	k := key{conversationID, messageID}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[k]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[k] = &entry{seenAt: now, element: c.order.PushBack(k)}
	return false
}

// Release drops one key so a later redelivery of messageID is accepted again.
// Ingestion releases messages that did not end up processed.
func (c *Cache) Release(conversationID, messageID string) {
	k := key{conversationID, messageID}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.seen[k]; ok {
		c.order.Remove(e.element)
		delete(c.seen, k)
	}
}

// Forget drops every key of conversationID, e.g. after the conversation is closed.
func (c *Cache) Forget(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.seen {
		if k.conversationID == conversationID {
			c.order.Remove(e.element)
			delete(c.seen, k)
		}
	}
}

// Len returns the number of keys currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	k, _ := front.Value.(key)
	c.order.Remove(front)
	delete(c.seen, k)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.done:
			return
		}
	}
}

// Purge removes every expired key.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		k, _ := front.Value.(key)
		if now.Sub(c.seen[k].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, k)
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
