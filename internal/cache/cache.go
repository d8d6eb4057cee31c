// Package cache stores past replies keyed by the chat message that produced
// them and answers lookups by word-set similarity rather than exact match.
package cache

import (
	"strings"
	"sync"
)

const (
	DefaultCapacity  = 100
	DefaultThreshold = 0.8
)

type entry struct {
	query    string
	response string
}

// Cache is a bounded, insertion-ordered fuzzy cache. Lookups scan every entry
// oldest first, so among several matches the oldest one wins. Eviction is
// FIFO by insertion; reads never reorder entries.
type Cache struct {
	mu        sync.RWMutex
	entries   []entry
	capacity  int
	threshold float64
}

func New(capacity int, threshold float64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Cache{
		entries:   make([]entry, 0, capacity),
		capacity:  capacity,
		threshold: threshold,
	}
}

// Lookup returns the response of the first entry whose similarity with query
// is strictly greater than the threshold.
func (c *Cache) Lookup(query string) (string, bool) {
	words := wordSet(query)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if jaccard(words, wordSet(e.query)) > c.threshold {
			return e.response, true
		}
	}
	return "", false
}

// Insert adds a new entry, evicting the oldest one when the cache is full.
// Re-inserting an existing key replaces it and moves it to the newest slot.
func (c *Cache) Insert(query, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.query == query {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			break
		}
	}
	if len(c.entries) >= c.capacity {
		c.entries = append(c.entries[:0], c.entries[1:]...)
	}
	c.entries = append(c.entries, entry{query: query, response: response})
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Similarity is the Jaccard index of the lower-cased whitespace word sets of a and b.
func Similarity(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
