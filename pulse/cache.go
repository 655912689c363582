package pulse

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var timelineIDs atomic.Uint64

type cacheKey struct {
	timeline   uint64
	sampleRate float64
	refKey     string
	lo         float64
}

type cacheEntry struct {
	key     cacheKey
	samples []float64
}

// CacheStats is reported to the telemetry hooks of a Cache.
type CacheStats interface {
	IncRenderCacheHit()
	IncRenderCacheMiss()
	SetRenderCacheEntries(n int)
}

// Cache is an LRU cache of rendered waveforms, keyed by timeline identity,
// sample rate, reference phase state and LO frequency. A nil or zero-size
// cache renders directly. There is deliberately no package-level instance;
// the owner of the sequence owns the cache.
type Cache struct {
	mu      sync.Mutex
	size    int
	order   *list.List
	entries map[cacheKey]*list.Element
	stats   CacheStats
}

// NewCache returns a cache holding at most size waveforms.
func NewCache(size int) *Cache {
	c := &Cache{}
	c.Configure(size)
	return c
}

// WithStats attaches telemetry hooks. Pass nil to detach.
func (c *Cache) WithStats(stats CacheStats) *Cache {
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return c
}

// Configure resizes the cache. Changing the size drops all entries.
func (c *Cache) Configure(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size < 0 {
		size = 0
	}
	c.size = size
	c.order = list.New()
	c.entries = make(map[cacheKey]*list.Element)
	if c.stats != nil {
		c.stats.SetRenderCacheEntries(0)
	}
}

// Clear drops all cached waveforms without resizing.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = list.New()
	c.entries = make(map[cacheKey]*list.Element)
	if c.stats != nil {
		c.stats.SetRenderCacheEntries(0)
	}
}

// Len returns the number of cached waveforms.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Render returns the waveform of t at sampleRate, serving it from the cache
// when the timeline was rendered before with the same sample rate, reference
// phase state and LO. The returned slice is shared; callers must not modify
// it.
func (c *Cache) Render(t *Timeline, id uint64, sampleRate float64, ref *RefState, lo float64) ([]float64, error) {
	if c == nil {
		return t.Render(sampleRate, ref, lo)
	}
	key := cacheKey{
		timeline:   id,
		sampleRate: sampleRate,
		refKey:     refStateKey(ref),
		lo:         lo,
	}

	c.mu.Lock()
	if c.size > 0 {
		if el, ok := c.entries[key]; ok {
			c.order.MoveToFront(el)
			samples := el.Value.(*cacheEntry).samples
			if c.stats != nil {
				c.stats.IncRenderCacheHit()
			}
			c.mu.Unlock()
			return samples, nil
		}
		if c.stats != nil {
			c.stats.IncRenderCacheMiss()
		}
	}
	c.mu.Unlock()

	samples, err := t.Render(sampleRate, ref, lo)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size == 0 {
		return samples, nil
	}
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).samples, nil
	}
	el := c.order.PushFront(&cacheEntry{key: key, samples: samples})
	c.entries[key] = el
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	if c.stats != nil {
		c.stats.SetRenderCacheEntries(c.order.Len())
	}
	return samples, nil
}

// NextTimelineID hands out a process-unique identity for cache keying.
func NextTimelineID() uint64 {
	return timelineIDs.Add(1)
}

func refStateKey(ref *RefState) string {
	if ref == nil || len(ref.StartPhase) == 0 {
		return ""
	}
	names := make([]string, 0, len(ref.StartPhase))
	for name := range ref.StartPhase {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "t=%.9f", ref.StartTime)
	for _, name := range names {
		fmt.Fprintf(&b, ";%s=%.12f", name, ref.StartPhase[name])
	}
	return b.String()
}
