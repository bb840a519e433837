package payout

import (
	"testing"
	"time"
)

func TestTokenCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewTokenCache(time.Hour)
	c.now = func() time.Time { return now }

	if _, ok := c.Get("client"); ok {
		t.Fatalf("empty cache must miss")
	}

	c.Put("client", "tok-1", 5*time.Minute)
	if got, ok := c.Get("client"); !ok || got != "tok-1" {
		t.Fatalf("Get = %q, %v; want tok-1, true", got, ok)
	}

	now = now.Add(5*time.Minute - tokenSkew)
	if _, ok := c.Get("client"); ok {
		t.Fatalf("token must expire before provider deadline")
	}
}

func TestTokenCache_ShortLivedTokenIsNotCached(t *testing.T) {
	c := NewTokenCache(time.Hour)
	c.Put("client", "tok", tokenSkew)

	if _, ok := c.Get("client"); ok {
		t.Fatalf("token shorter than skew must not be cached")
	}
}

func TestTokenCache_Invalidate(t *testing.T) {
	c := NewTokenCache(time.Hour)
	c.Put("client", "tok", time.Hour)
	c.Invalidate("client")

	if _, ok := c.Get("client"); ok {
		t.Fatalf("invalidated token must miss")
	}
}

func TestTokenCache_ScopedPerInstance(t *testing.T) {
	a := NewTokenCache(time.Hour)
	b := NewTokenCache(time.Hour)
	a.Put("client", "tok", time.Hour)

	if _, ok := b.Get("client"); ok {
		t.Fatalf("caches must not share state")
	}
}
