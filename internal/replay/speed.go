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
)

// Speed is a replay session's playback pacing (§4.7 "Speed"): either
// Limited, which paces emission to wall-clock time scaled by Rate, or
// Unlimited, which emits as fast as the session's back-pressure allows.
type Speed struct {
	Unlimited bool
	Rate      float64 // meaningful only when !Unlimited; must be > 0
}

// ParseSpeed parses the `speed` control value's textual form: a positive
// float, or the literal "unlimited" (case-insensitive).
func ParseSpeed(s string) (Speed, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unlimited") {
		return Speed{Unlimited: true}, nil
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Speed{}, fmt.Errorf("replay: invalid speed %q: %w", s, err)
	}
	if rate <= 0 {
		return Speed{}, fmt.Errorf("replay: speed must be positive, got %v", rate)
	}
	return Speed{Rate: rate}, nil
}

func (s Speed) String() string {
	if s.Unlimited {
		return "unlimited"
	}
	return strconv.FormatFloat(s.Rate, 'g', -1, 64)
}

// NextDeadline computes the wall-clock time at which the batch following
// one emitted at emittedAt (timestamped tsThis in archive time, with the
// next batch timestamped tsNext) should be released, per §4.7 "schedule
// next emission at now + (ts_{k+1} - ts_k)/rate". Unlimited speed has no
// deadline: the caller should emit immediately once back-pressure allows.
func (s Speed) NextDeadline(emittedAt time.Time, tsThis, tsNext time.Time) (time.Time, bool) {
	if s.Unlimited {
		return time.Time{}, false
	}
	delta := tsNext.Sub(tsThis)
	if delta < 0 {
		delta = 0
	}
	scaled := time.Duration(float64(delta) / s.Rate)
	return emittedAt.Add(scaled), true
}
