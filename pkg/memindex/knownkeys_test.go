package memindex

import "testing"

func TestKnownKeysObserve(t *testing.T) {
	k := NewKnownKeys(100)
	k.Observe(key(1))
	k.Observe(key(1))
	k.Observe(key(2))
	if k.Len() != 2 {
		t.Fatalf("expected 2 distinct keys, got %d", k.Len())
	}
}

func TestKnownKeysCap(t *testing.T) {
	k := NewKnownKeys(2)
	k.Observe(key(1))
	k.Observe(key(2))
	k.Observe(key(3))
	if k.Len() != 2 {
		t.Fatalf("expected cap to stop growth at 2, got %d", k.Len())
	}
}
