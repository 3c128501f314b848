// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archive implements the append-only recording file and its replay
// cursor (§4.5, §6): length-prefixed Index/Delta/Image blocks, a monotonic
// timestamper, and point-in-time image reconstruction.
package archive

import (
	"errors"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/value"
)

// Id is a stable, writer-assigned identifier for a recorded path.
type Id uint64

// Event is the value recorded against one Id at one Timestamp.
type Event = value.Value

// BatchItem is one (Id, Event) pair within a Delta or Image block.
type BatchItem struct {
	Id    Id
	Event Event
}

// ErrRecordTooLarge signals that the encoded block would exceed the 4 GiB
// frame limit; the caller should split the batch in half and retry.
var ErrRecordTooLarge = errors.New("archive: record too large, split the batch")

// Timestamper hands out strictly increasing timestamps even across a wall
// clock regression, per §4.5 "returns last + 1µs".
type Timestamper struct {
	mu   sync.Mutex
	last time.Time
}

// Now returns a timestamp guaranteed to be later than every timestamp this
// Timestamper has previously returned.
func (t *Timestamper) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !now.After(t.last) {
		now = t.last.Add(time.Microsecond)
	}
	t.last = now
	return now
}

// index is the writer's stable Path<->Id mapping, persisted as Index blocks
// and rebuilt by the reader from GetIndex.
type index struct {
	mu        sync.RWMutex
	byPath    map[path.Path]Id
	byID      map[Id]path.Path
	nextID    Id
}

func newIndex() *index {
	return &index{byPath: map[path.Path]Id{}, byID: map[Id]path.Path{}}
}

// addPaths assigns stable ids idempotently, returning the newly assigned
// (path, id) pairs that need to be persisted as an Index block.
func (ix *index) addPaths(paths []path.Path) []BatchItem {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var fresh []BatchItem
	for _, p := range paths {
		if _, ok := ix.byPath[p]; ok {
			continue
		}
		id := ix.nextID
		ix.nextID++
		ix.byPath[p] = id
		ix.byID[id] = p
		fresh = append(fresh, BatchItem{Id: id, Event: value.String(string(p))})
	}
	return fresh
}

func (ix *index) idFor(p path.Path) (Id, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byPath[p]
	return id, ok
}

func (ix *index) pathFor(id Id) (path.Path, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.byID[id]
	return p, ok
}

// entries returns every (Id, Path) pair currently known, per GetIndex.
func (ix *index) entries() []IndexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]IndexEntry, 0, len(ix.byID))
	for id, p := range ix.byID {
		out = append(out, IndexEntry{Id: id, Path: p})
	}
	return out
}

func (ix *index) adopt(entries []IndexEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		ix.byPath[e.Path] = e.Id
		ix.byID[e.Id] = e.Path
		if e.Id >= ix.nextID {
			ix.nextID = e.Id + 1
		}
	}
}

// IndexEntry is one (Id, Path) pair of the persisted index.
type IndexEntry struct {
	Id   Id
	Path path.Path
}
