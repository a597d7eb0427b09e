package ollama

import "testing"

func TestCacheKeyNormalization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What is TCP?", "what is tcp"},
		{"  WHAT IS TCP  ", "what is tcp"},
		{"what's up?!", "whats up"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := cacheKey(tt.in); got != tt.want {
			t.Errorf("cacheKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCacheKeyLengthCap(t *testing.T) {
	long := "what is the complete history of every networking protocol ever designed"
	key := cacheKey(long)
	if len(key) > maxKeyLen {
		t.Errorf("key length %d exceeds cap %d", len(key), maxKeyLen)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newResponseCache(3)
	c.put("a", "response for a")
	c.put("b", "response for b")
	c.put("c", "response for c")

	// Touch "a" so "b" becomes least recently used.
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.put("d", "response for d")
	if c.len() != 3 {
		t.Fatalf("cache size = %d, want 3", c.len())
	}
	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected promoted entry a to survive eviction")
	}
	if _, ok := c.get("d"); !ok {
		t.Error("expected newest entry d to be present")
	}
}

func TestCacheSkipsTrivialResponses(t *testing.T) {
	c := newResponseCache(3)
	c.put("a", "short")
	c.put("b", "")
	if c.len() != 0 {
		t.Errorf("trivial responses were cached, size = %d", c.len())
	}
}

func TestCacheUpdateExistingKey(t *testing.T) {
	c := newResponseCache(2)
	c.put("a", "first response")
	c.put("a", "second response")
	if c.len() != 1 {
		t.Fatalf("duplicate key grew the cache, size = %d", c.len())
	}
	if got, _ := c.get("a"); got != "second response" {
		t.Errorf("got %q, want updated value", got)
	}
}
