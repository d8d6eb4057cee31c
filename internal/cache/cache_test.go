package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestSimilarity(t *testing.T) {
	if got := Similarity("Hello There", "hello there"); got != 1 {
		t.Fatalf("expected case-insensitive identity, got %v", got)
	}
	if got := Similarity("a b", "b c"); got != 1.0/3.0 {
		t.Fatalf("expected 1/3, got %v", got)
	}
	if got := Similarity("", ""); got != 0 {
		t.Fatalf("expected 0 for empty inputs, got %v", got)
	}
	if got := Similarity("hi hi hi", "hi"); got != 1 {
		t.Fatalf("duplicates should collapse, got %v", got)
	}
}

func TestLookupHitAndMiss(t *testing.T) {
	c := New(10, 0.8)
	c.Insert("how are you doing today friend", "Great, thanks!")

	// 5 shared words over a union of 7 is below 0.8
	if got, ok := c.Lookup("how are you doing today pal"); ok {
		t.Fatalf("expected miss at 5/7, got %q", got)
	}
	if got, ok := c.Lookup("How are you doing today friend"); !ok || got != "Great, thanks!" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}
	if _, ok := c.Lookup("what game is this"); ok {
		t.Fatal("expected miss for unrelated query")
	}
}

func TestLookupThresholdIsStrict(t *testing.T) {
	c := New(10, 0.5)
	c.Insert("a b", "r")
	// {a,b} vs {a,b,c,d}: 2/4 = 0.5, not strictly greater
	if _, ok := c.Lookup("a b c d"); ok {
		t.Fatal("similarity equal to the threshold must not match")
	}
	if _, ok := c.Lookup("a b c"); !ok {
		t.Fatal("2/3 should exceed 0.5")
	}
}

func TestLookupPrefersOldestMatch(t *testing.T) {
	c := New(10, 0.5)
	c.Insert("play some music now", "first")
	c.Insert("play some music please", "second")

	got, ok := c.Lookup("play some music")
	if !ok || got != "first" {
		t.Fatalf("expected oldest match, got %q %v", got, ok)
	}
}

func TestInsertEvictsOldestByInsertion(t *testing.T) {
	c := New(3, 0.8)
	c.Insert("one", "1")
	c.Insert("two", "2")
	c.Insert("three", "3")

	// Reads do not refresh recency.
	if _, ok := c.Lookup("one"); !ok {
		t.Fatal("expected hit for one")
	}
	c.Insert("four", "4")

	if c.Len() != 3 {
		t.Fatalf("expected len 3, got %d", c.Len())
	}
	if _, ok := c.Lookup("one"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	for _, q := range []string{"two", "three", "four"} {
		if _, ok := c.Lookup(q); !ok {
			t.Fatalf("expected %q to survive", q)
		}
	}
}

func TestInsertSameKeyKeepsUnique(t *testing.T) {
	c := New(2, 0.8)
	c.Insert("same", "old")
	c.Insert("other", "x")
	c.Insert("same", "new")

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if got, _ := c.Lookup("same"); got != "new" {
		t.Fatalf("expected replaced response, got %q", got)
	}
	c.Insert("third", "3")
	if _, ok := c.Lookup("other"); ok {
		t.Fatal("expected other evicted as oldest after re-insert of same")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(5, 0.8)
	for i := 0; i < 50; i++ {
		c.Insert(fmt.Sprintf("query %d", i), "r")
		if c.Len() > 5 {
			t.Fatalf("capacity exceeded after %d inserts: %d", i+1, c.Len())
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(20, 0.8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				q := fmt.Sprintf("worker %d message %d", id, j)
				c.Insert(q, "r")
				c.Lookup(q)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 20 {
		t.Fatalf("expected full cache, got %d", c.Len())
	}
}
