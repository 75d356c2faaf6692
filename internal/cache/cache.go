package cache

import "sync"

// Cache is the in-memory mapping owned by one replica.
// A present key always maps to a value; absence means the key is missing.
type Cache struct {
	mu     sync.RWMutex
	values map[string]string
}

func New() *Cache {
	return &Cache{values: make(map[string]string)}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	value, ok := c.values[key]
	c.mu.RUnlock()
	return value, ok
}

// Set stores value under key and reports the previous value. changed is
// false when the key already held value, in which case nothing is written.
func (c *Cache) Set(key, value string) (old string, existed, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, existed = c.values[key]
	if existed && old == value {
		return old, existed, false
	}
	c.values[key] = value
	return old, existed, true
}

// Delete removes key and returns the value it held.
func (c *Cache) Delete(key string) (old string, existed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, existed = c.values[key]
	if existed {
		delete(c.values, key)
	}
	return old, existed
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.values)
	c.values = make(map[string]string)
	c.mu.Unlock()
	return n
}

// Replace swaps the whole mapping for a copy of entries in one step, so no
// reader observes a partially applied snapshot.
func (c *Cache) Replace(entries map[string]string) {
	next := make(map[string]string, len(entries))
	for key, value := range entries {
		next[key] = value
	}
	c.mu.Lock()
	c.values = next
	c.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all entries.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	out := make(map[string]string, len(c.values))
	for key, value := range c.values {
		out[key] = value
	}
	c.mu.RUnlock()
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	size := len(c.values)
	c.mu.RUnlock()
	return size
}

// Range holds a read lock for the duration of the iteration. Do not call
// mutating methods from the callback to avoid deadlocks.
func (c *Cache) Range(fn func(key, value string) bool) {
	c.mu.RLock()
	for key, value := range c.values {
		if !fn(key, value) {
			break
		}
	}
	c.mu.RUnlock()
}
