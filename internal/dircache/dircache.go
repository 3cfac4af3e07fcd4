// Package dircache is the short-TTL directory listing cache: a map from
// normalized directory path to its entry set, refreshed on miss/expiry and
// invalidated on any mutation that touches the directory or its parent.
package dircache

import (
	"sync"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/tracker"
)

// entry is one cached directory listing.
type entry struct {
	expiresAt time.Time
	files     map[string]tracker.PathEntry
}

// Cache is a TTL map keyed by directory path ending in "/". It is safe for
// concurrent use by multiple FUSE worker threads.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	enabled bool
	entries map[string]*entry
}

// New builds a directory cache with the given default TTL. enabled=false
// makes every Get report a miss, effectively disabling the cache per mount.
func New(ttl time.Duration, enabled bool) *Cache {
	return &Cache{
		ttl:     ttl,
		enabled: enabled,
		entries: make(map[string]*entry),
	}
}

func key(dir string) string {
	if len(dir) == 0 || dir[len(dir)-1] != '/' {
		return dir + "/"
	}
	return dir
}

// Get returns the cached listing for dir if present and unexpired. The
// second return value is false on a miss, an expired entry, or when the
// cache is disabled.
func (c *Cache) Get(dir string, now time.Time) (map[string]tracker.PathEntry, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key(dir)]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e.files, true
}

// Put stores a fresh listing for dir, expiring at now+ttl.
func (c *Cache) Put(dir string, files map[string]tracker.PathEntry, now time.Time) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(dir)] = &entry{
		expiresAt: now.Add(c.ttl),
		files:     files,
	}
}

// Invalidate flushes the cached entry for dir. If flushParent is true it
// also flushes dir's parent, matching the directory-mutation invalidation
// rule: any create/mknod/mkdir/unlink/truncate/ftruncate/rename touching a
// directory flushes that directory and recursively flushes its parent.
func (c *Cache) Invalidate(dir string, flushParent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key(dir))
	if flushParent {
		delete(c.entries, key(parentOf(dir)))
	}
}

// parentOf returns the parent of a normalized directory path, "/" for root
// or a path with no separator.
func parentOf(dir string) string {
	d := key(dir)
	// Trim the trailing slash to find the last separator before it.
	trimmed := d[:len(d)-1]
	idx := lastIndexByte(trimmed, '/')
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
