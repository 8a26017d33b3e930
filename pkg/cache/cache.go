// Package cache implements the versioned key/value store shared by a
// document session and the reload supervisor. Values carry a monotonically
// increasing per-key revision used by cells to detect upstream data changes,
// and the whole store carries a version tag: persisted or migrated entries
// are only accepted when their version matches, otherwise they are silently
// treated as misses.
package cache

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
)

// Cache is a process-local, mutex-guarded key/value store.
type Cache struct {
	mu      sync.Mutex
	version int
	entries map[string]*entry
	store   PersistentStore
}

type entry struct {
	value    []byte
	revision int64
}

// New creates an empty cache with the given version tag.
func New(version int) *Cache {
	return &Cache{
		version: version,
		entries: make(map[string]*entry),
	}
}

// Adopt creates a cache with the given version which takes over the entries
// of a prior cache if and only if the versions match. This is the migration
// step performed across a hot reload so computation results survive the
// swap; a version bump deliberately starts empty.
func Adopt(prior *Cache, version int) *Cache {
	c := New(version)
	if prior == nil {
		return c
	}
	prior.mu.Lock()
	defer prior.mu.Unlock()
	if prior.version != version {
		return c
	}
	for k, e := range prior.entries {
		c.entries[k] = &entry{value: e.value, revision: e.revision}
	}
	return c
}

// Version returns the cache's version tag.
func (c *Cache) Version() int { return c.version }

// Set stores a value under the given key, JSON-encoding it. The key's
// revision is bumped on every write.
func (c *Cache) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	c.SetRaw(key, raw)
	return nil
}

// SetRaw stores an already encoded value.
func (c *Cache) SetRaw(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.value = value
	e.revision++
	if c.store != nil {
		c.store.Put(key, c.version, e.revision, value)
	}
}

// Get decodes the value stored under key into out. The second return is
// false when the key is absent.
func (c *Cache) Get(key string, out any) (bool, error) {
	raw, ok := c.GetRaw(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("cache get %q: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the encoded value stored under key.
func (c *Cache) GetRaw(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Contains reports whether a value is stored under key.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// NonZero reports whether the key holds a value that decodes to something
// non-empty: a non-zero number, non-empty string, slice, map or true.
func (c *Cache) NonZero(key string) bool {
	raw, ok := c.GetRaw(key)
	if !ok {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// Revision returns the key's write revision, or 0 when the key is absent.
// Cells compare revisions between ticks to detect upstream changes.
func (c *Cache) Revision(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.revision
	}
	return 0
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	if c.store != nil {
		c.store.Remove(key)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	if c.store != nil {
		c.store.RemoveAll()
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PersistentStore writes cache entries through to durable storage.
type PersistentStore interface {
	Put(key string, version int, revision int64, value []byte)
	Remove(key string)
	RemoveAll()
	// Load returns all persisted entries matching the given version.
	Load(version int) (map[string][]byte, map[string]int64, error)
}

// Attach connects a persistent store and loads all entries whose persisted
// version matches the cache version. Mismatching rows are ignored, which is
// the silent cache-miss behavior expected after a version bump.
func (c *Cache) Attach(store PersistentStore) error {
	values, revisions, err := store.Load(c.version)
	if err != nil {
		return fmt.Errorf("cache attach: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.entries[k] = &entry{value: v, revision: revisions[k]}
	}
	c.store = store
	return nil
}
