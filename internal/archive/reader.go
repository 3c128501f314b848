// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"bufio"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/wire"
)

// SeekKind distinguishes the variants of Seek.
type SeekKind int

const (
	SeekBeginning SeekKind = iota
	SeekEnd
	SeekAbsolute
	SeekTimeRelative
	SeekBatchRelative
)

// Seek describes a cursor repositioning request; only the field matching
// Kind is meaningful.
type Seek struct {
	Kind  SeekKind
	At    time.Time
	Delta time.Duration
	N     int
}

// Cursor is a position within the sequence of Delta/Image blocks. pos is an
// index into Reader.entries: -1 means "before the first entry"; Seek and
// ReadDeltas never move it past len(entries)-1, the last entry.
type Cursor struct {
	pos int
}

// entry is one decoded Delta or Image block, kept in memory for random
// access by Cursor/Seek.
type entry struct {
	kind  blockKind
	ts    time.Time
	items []BatchItem
}

// Reader replays an archive file written by Writer, supporting concurrent
// reads while the writer keeps appending.
type Reader struct {
	mu      sync.RWMutex
	f       *os.File
	r       *bufio.Reader
	offset  int64
	ix      *index
	entries []entry
}

// OpenReader opens filename for reading and performs an initial scan.
func OpenReader(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	rd := &Reader{f: f, r: bufio.NewReader(f), ix: newIndex()}
	if err := rd.CheckRemapRescan(); err != nil {
		f.Close()
		return nil, err
	}
	return rd, nil
}

// CheckRemapRescan reads any frames a concurrent Writer has appended since
// the last scan.
func (rd *Reader) CheckRemapRescan() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	for {
		frame, err := wire.ReadFrame(rd.r)
		if err != nil {
			return nil
		}
		n := int64(4 + len(frame))
		rd.offset += n
		b, err := decodeBlock(frame)
		if err != nil {
			continue
		}
		switch b.kind {
		case blockIndex:
			rd.ix.adopt(b.index)
		case blockDelta, blockImage:
			rd.entries = append(rd.entries, entry{kind: b.kind, ts: b.ts, items: b.items})
		}
	}
}

// GetIndex returns every (Id, Path) pair known so far.
func (rd *Reader) GetIndex() []IndexEntry {
	return rd.ix.entries()
}

// ReadDeltas yields up to n Delta/Image batches strictly after cur,
// advancing cur past what it returns.
func (rd *Reader) ReadDeltas(cur *Cursor, n int) []TimedBatch {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	var out []TimedBatch
	i := cur.pos + 1
	for ; i < len(rd.entries) && len(out) < n; i++ {
		e := rd.entries[i]
		out = append(out, TimedBatch{Ts: e.ts, Items: e.items})
	}
	cur.pos = i - 1
	return out
}

// TimedBatch is one (timestamp, batch) pair yielded by ReadDeltas.
type TimedBatch struct {
	Ts    time.Time
	Items []BatchItem
}

// BuildImage computes the point-in-time snapshot at cur: the last Image at
// or before cur, replayed forward through every Delta up to and including
// cur.
func (rd *Reader) BuildImage(cur *Cursor) map[Id]Event {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	image := map[Id]Event{}
	start := 0
	for i := cur.pos; i >= 0; i-- {
		if rd.entries[i].kind == blockImage {
			start = i
			break
		}
	}
	for i := start; i <= cur.pos && i < len(rd.entries); i++ {
		for _, it := range rd.entries[i].items {
			image[it.Id] = it.Event
		}
	}
	return image
}

// Seek repositions cur per s.
func (rd *Reader) Seek(cur *Cursor, s Seek) {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	switch s.Kind {
	case SeekBeginning:
		cur.pos = -1
	case SeekEnd:
		cur.pos = len(rd.entries) - 1
	case SeekAbsolute:
		cur.pos = rd.indexAtOrBefore(s.At)
	case SeekTimeRelative:
		base := time.Time{}
		if cur.pos >= 0 && cur.pos < len(rd.entries) {
			base = rd.entries[cur.pos].ts
		}
		cur.pos = rd.indexAtOrBefore(base.Add(s.Delta))
	case SeekBatchRelative:
		pos := cur.pos + s.N
		if pos < -1 {
			pos = -1
		}
		if pos > len(rd.entries)-1 {
			pos = len(rd.entries) - 1
		}
		cur.pos = pos
	}
}

// CurrentTs returns the timestamp at cur and whether cur points at a valid
// entry (false when cur is before the first entry or the archive is empty).
func (rd *Reader) CurrentTs(cur *Cursor) (time.Time, bool) {
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	if cur.pos < 0 || cur.pos >= len(rd.entries) {
		return time.Time{}, false
	}
	return rd.entries[cur.pos].ts, true
}

// indexAtOrBefore returns the index of the last entry with ts <= at, or -1.
func (rd *Reader) indexAtOrBefore(at time.Time) int {
	i := sort.Search(len(rd.entries), func(i int) bool {
		return rd.entries[i].ts.After(at)
	})
	return i - 1
}

// Close closes the underlying file.
func (rd *Reader) Close() error { return rd.f.Close() }
