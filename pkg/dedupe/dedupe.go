// Package dedupe implements a TTL-based, size-limited cache of seen keys.
// We use it to suppress duplicate escalation of the same security event,
// which can otherwise happen when the change feed replays an update that
// we already acted on locally.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers keys for a TTL. When full, the oldest key is evicted.
type Cache struct {
	lock    sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at the front
	ttl     time.Duration
	maxSize int
}

func NewCache(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    map[string]*entry{},
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark returns true if key was already seen (and not expired).
// If the key was not seen, it is marked as seen now.
// Check and mark are a single atomic operation, so two concurrent callers
// can never both get 'false' for the same key.
func (c *Cache) CheckAndMark(key string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	e := c.seen[key]
	if e != nil && time.Since(e.seenAt) < c.ttl {
		return true
	}
	c.mark(key)
	return false
}

// Check returns true if key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	e := c.seen[key]
	return e != nil && time.Since(e.seenAt) < c.ttl
}

// Forget removes a key, so that a subsequent CheckAndMark returns false.
func (c *Cache) Forget(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if e := c.seen[key]; e != nil {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

func (c *Cache) mark(key string) {
	now := time.Now()
	if e := c.seen[key]; e != nil {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	el := c.order.PushBack(key)
	c.seen[key] = &entry{seenAt: now, element: el}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
