// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resolver

import (
	"testing"
	"time"
)

func TestReferralCachePutGet(t *testing.T) {
	c := newReferralCache(4)
	c.Put("/a", 1, time.Minute)
	v, ok := c.Get("/a", nil)
	if !ok || v.(int) != 1 {
		t.Fatalf("got (%v, %v), want (1, true)", v, ok)
	}
}

func TestReferralCacheExpiry(t *testing.T) {
	c := newReferralCache(4)
	c.Put("/a", 1, -time.Second)
	if _, ok := c.Get("/a", nil); ok {
		t.Fatal("expired entry should not be returned")
	}
}

func TestReferralCacheEvictsOverflow(t *testing.T) {
	c := newReferralCache(2)
	c.Put("/a", 1, time.Minute)
	c.Put("/b", 2, time.Minute)
	c.Put("/c", 3, time.Minute)
	if c.Len() > 2 {
		t.Fatalf("cache should have evicted down to 2 entries, has %d", c.Len())
	}
	if _, ok := c.Get("/a", nil); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestReferralCacheComputeSingleFlight(t *testing.T) {
	c := newReferralCache(4)
	calls := 0
	compute := func() (any, time.Duration) {
		calls++
		return 42, time.Minute
	}
	v, ok := c.Get("/x", compute)
	if !ok || v.(int) != 42 || calls != 1 {
		t.Fatalf("first Get: v=%v ok=%v calls=%d", v, ok, calls)
	}
	v, ok = c.Get("/x", compute)
	if !ok || v.(int) != 42 || calls != 1 {
		t.Fatalf("second Get should hit cache: v=%v ok=%v calls=%d", v, ok, calls)
	}
}

func TestReferralCacheDelAndClear(t *testing.T) {
	c := newReferralCache(4)
	c.Put("/a", 1, time.Minute)
	c.Put("/b", 2, time.Minute)
	c.Del("/a")
	if _, ok := c.Get("/a", nil); ok {
		t.Error("Del should remove the entry")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Clear should empty the cache, len=%d", c.Len())
	}
}
