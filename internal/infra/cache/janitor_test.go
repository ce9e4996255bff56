package cache

import (
	"testing"
	"time"
)

func TestCache_JanitorEvicts(t *testing.T) {
	c := New[string](20 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	c.mu.RLock()
	n := len(c.items)
	c.mu.RUnlock()
	if n != 0 {
		t.Fatalf("expected janitor to evict expired entries, %d left", n)
	}
}
