package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"go.palytt.app/swarm/pkg/glob"
)

// fallback is the instance-private in-process cache used while the shared
// backend is unreachable.
//
// Reads go through Peek so the container never reorders entries on access:
// eviction order stays pure insertion order. When the bound is exceeded, a
// batch of the oldest-inserted entries is dropped to make room.
type fallback struct {
	mu      sync.Mutex
	entries *simplelru.LRU
	maxSize int
}

type fallbackEntry struct {
	value     []byte
	expiresAt time.Time
}

func newFallback(maxSize int) (*fallback, error) {
	entries, err := simplelru.NewLRU(maxSize, nil)
	if err != nil {
		return nil, err
	}
	return &fallback{entries: entries, maxSize: maxSize}, nil
}

// get returns the entry value, treating expired entries as misses.
func (f *fallback) get(key string, now time.Time) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entryI, ok := f.entries.Peek(key)
	if !ok {
		return nil, false
	}
	entry := entryI.(*fallbackEntry)
	if now.After(entry.expiresAt) {
		f.entries.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (f *fallback) set(key string, value []byte, ttl time.Duration, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(key, value, ttl, now)
}

func (f *fallback) setLocked(key string, value []byte, ttl time.Duration, now time.Time) {
	if !f.entries.Contains(key) && f.entries.Len() >= f.maxSize {
		// Evict a batch of the oldest-inserted entries.
		batch := f.maxSize / 10
		if batch < 1 {
			batch = 1
		}
		for i := 0; i < batch; i++ {
			if _, _, ok := f.entries.RemoveOldest(); !ok {
				break
			}
		}
	}
	// A re-set moves the key to the newest insertion slot (last write wins).
	f.entries.Remove(key)
	f.entries.Add(key, &fallbackEntry{value: value, expiresAt: now.Add(ttl)})
}

func (f *fallback) delete(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries.Remove(key)
}

// deletePattern removes all keys matching the glob and returns them.
func (f *fallback) deletePattern(pattern string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for _, keyI := range f.entries.Keys() {
		key := keyI.(string)
		if glob.Match(pattern, key) {
			f.entries.Remove(key)
			removed = append(removed, key)
		}
	}
	return removed
}

// increment bumps a counter non-atomically.
// Values written by set are JSON, so numbers round-trip as decimal strings.
func (f *fallback) increment(key string, ttl time.Duration, now time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var value int64
	if entryI, ok := f.entries.Peek(key); ok {
		entry := entryI.(*fallbackEntry)
		if now.Before(entry.expiresAt) {
			value, _ = strconv.ParseInt(string(entry.value), 10, 64)
			value++
			// Keep the original expiry: TTL applies to the first increment only.
			entry.value = []byte(strconv.FormatInt(value, 10))
			return value
		}
		f.entries.Remove(key)
	}
	value = 1
	f.setLocked(key, []byte("1"), ttl, now)
	return value
}

// sweep evicts entries past expiry and returns the count removed.
func (f *fallback) sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int
	for _, keyI := range f.entries.Keys() {
		entryI, ok := f.entries.Peek(keyI)
		if !ok {
			continue
		}
		if now.After(entryI.(*fallbackEntry).expiresAt) {
			f.entries.Remove(keyI)
			removed++
		}
	}
	return removed
}

func (f *fallback) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries.Len()
}
