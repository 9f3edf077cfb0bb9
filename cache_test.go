package snapdb

import "testing"

func TestCacheInsertIdempotent(t *testing.T) {
	c := newCache(4)
	rec := new(Configuration)
	c.insert(7, rec)
	c.insert(7, rec)
	c.insert(7, rec)
	eq(t, c.len(), 1)
	got, found := c.get(7)
	eq(t, found, true)
	if got != Record(rec) {
		t.Fatalf("cache returned a different instance")
	}
}

func TestCacheReplace(t *testing.T) {
	c := newCache(4)
	a, b := new(Configuration), new(Configuration)
	c.insert(0, a)
	c.insert(0, b)
	eq(t, c.len(), 1)
	got, _ := c.get(0)
	if got != Record(b) {
		t.Fatalf("explicit replacement should win")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newCache(2)
	recs := []*Configuration{new(Configuration), new(Configuration), new(Configuration)}
	c.insert(0, recs[0])
	c.insert(1, recs[1])

	// Touch 0 so that 1 is the eviction victim.
	_, found := c.get(0)
	eq(t, found, true)

	c.insert(2, recs[2])
	eq(t, c.len(), 2)
	_, found = c.get(1)
	eq(t, found, false)
	_, found = c.get(0)
	eq(t, found, true)
	_, found = c.get(2)
	eq(t, found, true)
}

func TestCacheRemove(t *testing.T) {
	c := newCache(4)
	c.insert(3, new(Configuration))
	c.remove(3)
	c.remove(3) // second removal is harmless
	eq(t, c.len(), 0)
	_, found := c.get(3)
	eq(t, found, false)
}
