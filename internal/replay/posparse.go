// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nhr-fau/netpub/internal/archive"
)

// ParsePos parses the `pos` control value's textual form (§6):
//
//	<datetime>              an absolute ISO-8601/RFC3339 timestamp -> archive.SeekAbsolute
//	[+-]<N>                 a signed batch-count step             -> archive.SeekBatchRelative
//	[+-]<N>[yMdhmsu]         a signed, unit-suffixed time offset    -> archive.SeekTimeRelative
//	beginning | end          (case-insensitive)                    -> archive.SeekBeginning / SeekEnd
//
// This mirrors the original implementation's pos-control grammar
// (netidx-tools/src/recorder.rs), which the distilled spec.md only
// summarizes; see SPEC_FULL.md "SUPPLEMENTED FEATURES".
func ParsePos(s string) (archive.Seek, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "beginning":
		return archive.Seek{Kind: archive.SeekBeginning}, nil
	case "end":
		return archive.Seek{Kind: archive.SeekEnd}, nil
	}

	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		return parseRelative(s)
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return archive.Seek{}, fmt.Errorf("replay: invalid pos %q: %w", s, err)
	}
	return archive.Seek{Kind: archive.SeekAbsolute, At: t}, nil
}

// unitDur maps the single-letter duration suffixes of the pos grammar to a
// time.Duration multiplier; "M" (month) and "y" (year) use a fixed
// approximation (30 and 365 days) since an archive offset is not anchored
// to a calendar.
var unitDur = map[byte]time.Duration{
	'y': 365 * 24 * time.Hour,
	'M': 30 * 24 * time.Hour,
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
	'u': time.Microsecond,
}

func parseRelative(s string) (archive.Seek, error) {
	last := s[len(s)-1]
	if last >= '0' && last <= '9' {
		n, err := strconv.Atoi(s)
		if err != nil {
			return archive.Seek{}, fmt.Errorf("replay: invalid pos %q: %w", s, err)
		}
		return archive.Seek{Kind: archive.SeekBatchRelative, N: n}, nil
	}

	mult, ok := unitDur[last]
	if !ok {
		return archive.Seek{}, fmt.Errorf("replay: invalid pos unit in %q", s)
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return archive.Seek{}, fmt.Errorf("replay: invalid pos %q: %w", s, err)
	}
	return archive.Seek{Kind: archive.SeekTimeRelative, Delta: time.Duration(n * float64(mult))}, nil
}

// ParseBound parses a `start`/`end` control value (§6):
//
//	Unbounded | Beginning | End | <datetime> | <offset like "-1.5d">
//
// An Unbounded result carries no Seek; callers treat it as "no bound on
// this side".
func ParseBound(s string) (seek archive.Seek, unbounded bool, err error) {
	if strings.EqualFold(strings.TrimSpace(s), "unbounded") {
		return archive.Seek{}, true, nil
	}
	sk, err := ParsePos(s)
	return sk, false, err
}
