package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// SeenCache remembers recently processed ids, bounded by capacity and ttl.
// The least recently marked id is evicted first.
type SeenCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently marked
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewSeenCache creates a cache with the provided capacity and ttl.
func NewSeenCache(capacity int, ttl time.Duration) *SeenCache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SeenCache{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsSeen reports whether key was marked inside the ttl window. It does not mark it.
func (c *SeenCache) IsSeen(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	if now.Sub(el.Value.(entry).ts) <= c.ttl {
		return true
	}
	c.order.Remove(el)
	delete(c.items, key)
	return false
}

// MarkSeen records key, refreshing its timestamp if it was already present.
func (c *SeenCache) MarkSeen(key string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value = entry{key: key, ts: now}
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(entry{key: key, ts: now})
	}
	c.compact(now)
}

// TryMark marks key and reports whether it was new. Check and mark happen
// under one lock, so concurrent callers never both see a key as new.
func (c *SeenCache) TryMark(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok && now.Sub(el.Value.(entry).ts) <= c.ttl {
		return false
	} else if ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	c.items[key] = c.order.PushFront(entry{key: key, ts: now})
	c.compact(now)
	return true
}

// Len returns the number of tracked ids, expired or not.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *SeenCache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for c.order.Len() > 0 {
		oldest := c.order.Back()
		e := oldest.Value.(entry)
		if len(c.items) <= c.capacity && !e.ts.Before(cutoff) {
			return
		}
		c.order.Remove(oldest)
		delete(c.items, e.key)
	}
}
