package playback

import "sync"

// DefaultCacheSize bounds the number of synthesized replies kept for replay
const DefaultCacheSize = 10

// Cache keeps encoded-then-decoded audio payloads by turn id. Once full,
// inserting a new id evicts the oldest entry that is not the one being inserted.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string][]byte
	order    []string
	onEvict  func(id string)
}

// NewCache creates a cache bounded to capacity entries
func NewCache(capacity int, onEvict func(id string)) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string][]byte, capacity),
		onEvict:  onEvict,
	}
}

// Put stores data under id and returns the ids evicted to stay within bounds
func (c *Cache) Put(id string, data []byte) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; exists {
		c.removeFromOrder(id)
	}
	c.entries[id] = data
	c.order = append(c.order, id)

	var evicted []string
	for len(c.entries) > c.capacity {
		victim := ""
		for _, candidate := range c.order {
			if candidate != id {
				victim = candidate
				break
			}
		}
		if victim == "" {
			break
		}
		delete(c.entries, victim)
		c.removeFromOrder(victim)
		evicted = append(evicted, victim)
	}

	if c.onEvict != nil {
		for _, victim := range evicted {
			c.onEvict(victim)
		}
	}
	return evicted
}

// Get returns the payload cached under id
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[id]
	return data, ok
}

// Len returns the number of cached payloads
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte, c.capacity)
	c.order = nil
}

func (c *Cache) removeFromOrder(id string) {
	for i, candidate := range c.order {
		if candidate == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			return
		}
	}
}
