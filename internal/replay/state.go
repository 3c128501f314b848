// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replay implements the per-client replay session (§4.7): the
// {Play, Pause, Tail} state machine, speed control, seeking, and the
// control-value surface (start/end/speed/state/pos) a session publishes
// alongside the archive data it mirrors.
package replay

import "strings"

// State is a replay session's play/pause/tail mode.
type State int

const (
	Pause State = iota
	Play
	Tail
)

func (s State) String() string {
	switch s {
	case Pause:
		return "pause"
	case Play:
		return "play"
	case Tail:
		return "tail"
	default:
		return "unknown"
	}
}

// ParseState parses the `state` control value's textual form
// (case-insensitive `play` | `pause` | `tail`).
//
// §9's Open Question: the upstream implementation this system was distilled
// from maps "pause" to Play, apparently by mistake. That bug is not
// reproduced here — "pause" parses to Pause, pinned by state_test.go.
func ParseState(s string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "play":
		return Play, true
	case "pause":
		return Pause, true
	case "tail":
		return Tail, true
	default:
		return 0, false
	}
}

// Next computes the state transition table of §4.7 for a user-issued
// set_state(event) call. Batch-exhaustion and live-batch-while-tailing
// transitions are handled directly by the session's run loop, not here,
// since they are not triggered by set_state.
func (s State) Next(event State) State {
	if s == Tail && event == Play {
		// "Play (seek End first)" — the caller is responsible for issuing
		// the seek; Next only reports the resulting state.
		return Play
	}
	return event
}

// OnBatchExhausted is the table's "batch exhausted" column: Pause stays
// Pause, Play and Tail both land on Tail (running out of buffered batches
// means the session has caught up to the live edge).
func (s State) OnBatchExhausted() State {
	if s == Pause {
		return Pause
	}
	return Tail
}
