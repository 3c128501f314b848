// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resolver

import (
	"sync"
	"time"
)

// referralCompute is the closure passed to referralCache.Get to produce a
// value that was not already cached: the computed value and its TTL.
type referralCompute func() (value any, ttl time.Duration)

type referralEntry struct {
	key   string
	value any

	expiration            time.Time
	waitingForComputation int

	next, prev *referralEntry
}

// referralCache is an LRU, TTL-expiring cache keyed by a referral's base
// path (§4.2 "base -> (expires_at, referral)"). It is a direct, renamed
// descendant of the teacher repository's generic in-memory LRU cache
// (pkg/lrucache): same doubly-linked-list-plus-map eviction scheme, repointed
// at caching referrals instead of arbitrary computed values. Unlike a plain
// map, concurrent Get calls for the same still-being-resolved key block on
// one another instead of triggering duplicate upstream resolves.
type referralCache struct {
	mutex      sync.Mutex
	cond       *sync.Cond
	maxEntries int
	entries    map[string]*referralEntry
	head, tail *referralEntry
}

func newReferralCache(maxEntries int) *referralCache {
	c := &referralCache{
		maxEntries: maxEntries,
		entries:    map[string]*referralEntry{},
	}
	c.cond = sync.NewCond(&c.mutex)
	return c
}

// Get returns the cached value for key, or calls compute and caches its
// result. If compute is nil and the key is absent (or expired), Get returns
// (nil, false) without caching anything.
func (c *referralCache) Get(key string, compute referralCompute) (any, bool) {
	now := time.Now()

	c.mutex.Lock()
	if entry, ok := c.entries[key]; ok {
		for entry.expiration.IsZero() {
			entry.waitingForComputation++
			c.cond.Wait()
			entry.waitingForComputation--
		}

		if now.After(entry.expiration) {
			c.evictEntry(entry)
		} else {
			if entry != c.head {
				c.unlink(entry)
				c.insertFront(entry)
			}
			c.mutex.Unlock()
			return entry.value, true
		}
	}

	if compute == nil {
		c.mutex.Unlock()
		return nil, false
	}

	entry := &referralEntry{key: key, waitingForComputation: 1}
	c.entries[key] = entry

	hasPanicked := true
	defer func() {
		if hasPanicked {
			c.mutex.Lock()
			delete(c.entries, key)
			entry.expiration = now
			entry.waitingForComputation--
			c.mutex.Unlock()
		}
	}()

	c.mutex.Unlock()
	value, ttl := compute()
	c.mutex.Lock()
	hasPanicked = false

	entry.value = value
	entry.expiration = now.Add(ttl)
	entry.waitingForComputation--
	if entry.waitingForComputation > 0 {
		c.cond.Broadcast()
	}
	c.insertFront(entry)
	c.evictOverflow(now)
	c.mutex.Unlock()
	return value, true
}

// Put installs value under key directly, bypassing Get's single-flight path.
func (c *referralCache) Put(key string, value any, ttl time.Duration) {
	now := time.Now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		entry.expiration = now.Add(ttl)
		c.unlink(entry)
		c.insertFront(entry)
		c.evictOverflow(now)
		return
	}

	entry := &referralEntry{key: key, value: value, expiration: now.Add(ttl)}
	c.entries[key] = entry
	c.insertFront(entry)
	c.evictOverflow(now)
}

// Del removes key unconditionally; the other entries are kept. Evicting the
// whole cache is Clear's job.
func (c *referralCache) Del(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.evictEntry(entry)
	}
}

// Clear evicts every entry (the "by_path fully evicted" rule of §4.2).
func (c *referralCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = map[string]*referralEntry{}
	c.head, c.tail = nil, nil
}

// Len returns the number of live (not-yet-expired-and-reaped) entries.
func (c *referralCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

func (c *referralCache) evictOverflow(now time.Time) {
	for len(c.entries) > c.maxEntries && c.tail != nil {
		candidate := c.tail
		if candidate.waitingForComputation == 0 {
			c.evictEntry(candidate)
		} else {
			break
		}
	}
}

func (c *referralCache) insertFront(e *referralEntry) {
	e.next = c.head
	e.prev = nil
	if e.next != nil {
		e.next.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *referralCache) unlink(e *referralEntry) {
	if e == c.head {
		c.head = e.next
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e == c.tail {
		c.tail = e.prev
	}
}

func (c *referralCache) evictEntry(e *referralEntry) {
	c.unlink(e)
	delete(c.entries, e.key)
}
