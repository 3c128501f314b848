// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay

import (
	"time"

	"github.com/nhr-fau/netpub/internal/archive"
)

// Bounds restricts a session's cursor to a [Start, End] window of archive
// time (§4.7 "start"/"end" controls). A side whose StartBounded/EndBounded
// flag is false (the zero value) imposes no restriction.
type Bounds struct {
	Start        time.Time
	StartBounded bool
	End          time.Time
	EndBounded   bool
}

// Contains reports whether ts falls within b. A batch outside Bounds is
// skipped by the session rather than emitted.
func (b Bounds) Contains(ts time.Time) bool {
	if b.StartBounded && ts.Before(b.Start) {
		return false
	}
	if b.EndBounded && ts.After(b.End) {
		return false
	}
	return true
}

// Clamp repositions cur so that a subsequent SeekBeginning/SeekEnd never
// lands outside b: a SeekBeginning request when b.StartBounded instead
// seeks to b.Start, and a SeekEnd request when b.EndBounded instead seeks
// to b.End.
func Clamp(rd *archive.Reader, cur *archive.Cursor, s archive.Seek, b Bounds) {
	switch s.Kind {
	case archive.SeekBeginning:
		if b.StartBounded {
			rd.Seek(cur, archive.Seek{Kind: archive.SeekAbsolute, At: b.Start})
			return
		}
	case archive.SeekEnd:
		if b.EndBounded {
			rd.Seek(cur, archive.Seek{Kind: archive.SeekAbsolute, At: b.End})
			return
		}
	}
	rd.Seek(cur, s)
}
