package memindex

import "testing"

func TestRateLimiterAdmitsUnderCap(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < 5; i++ {
		if !r.Admit("k", 0, 5) {
			t.Fatalf("request %d should have been admitted under cap", i)
		}
	}
}

func TestRateLimiterRejectsOverCap(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < int(PerKeyCap); i++ {
		if !r.Admit("k", 0, PerKeyCap) {
			t.Fatalf("request %d within cap should be admitted", i)
		}
	}
	if r.Admit("k", 0, PerKeyCap) {
		t.Fatalf("request beyond cap should be rejected")
	}
}

func TestRateLimiterRecoveryAfterWindow(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < int(PerKeyCap); i++ {
		r.Admit("k", 0, PerKeyCap)
	}
	if r.Admit("k", 0, PerKeyCap) {
		t.Fatalf("expected rejection within the same window")
	}
	if !r.Admit("k", RateLimitWindowMS+1, PerKeyCap) {
		t.Fatalf("expected admission once a full window has elapsed")
	}
}

func TestRateLimiterIndependentKeys(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < int(PerKeyCap); i++ {
		r.Admit("a", 0, PerKeyCap)
	}
	if !r.Admit("b", 0, PerKeyCap) {
		t.Fatalf("a different key should have its own window")
	}
}

func TestRateLimiterEviction(t *testing.T) {
	r := NewRateLimiter()
	r.Admit("stale", 0, PerKeyCap)
	removed := r.Evict(rateLimitEvictAgeMS + 1)
	if removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
}
