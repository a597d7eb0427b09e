package ollama

import (
	"container/list"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// Responses shorter than this are almost always refusals or
	// truncation artifacts and are not worth caching.
	minCachedLen = 10

	maxKeyLen = 50
)

var nonWordRe = regexp.MustCompile(`[^\w\s]`)

// cacheKey normalizes question text into a cache key: lowercased,
// punctuation stripped, trimmed, capped at maxKeyLen bytes on a rune
// boundary. A hit heuristic only; misses are merely slower.
func cacheKey(text string) string {
	normalized := strings.TrimSpace(nonWordRe.ReplaceAllString(strings.ToLower(text), ""))
	if len(normalized) > maxKeyLen {
		cut := maxKeyLen
		for cut > 0 && !utf8.RuneStart(normalized[cut]) {
			cut--
		}
		normalized = strings.TrimSpace(normalized[:cut])
	}
	return normalized
}

type cacheItem struct {
	key   string
	value string
}

// responseCache is a bounded LRU map. Not safe for concurrent use;
// the client guards it.
type responseCache struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

func newResponseCache(capacity int) *responseCache {
	return &responseCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// get returns the cached response and promotes the entry to
// most-recently-used.
func (c *responseCache) get(key string) (string, bool) {
	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheItem).value, true
}

// put stores a response, evicting the least-recently-used entry past
// capacity. Empty and near-empty responses are never stored.
func (c *responseCache) put(key, value string) {
	if key == "" || len(value) < minCachedLen {
		return
	}

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheItem).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&cacheItem{key: key, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *responseCache) len() int {
	return c.order.Len()
}
