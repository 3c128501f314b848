// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay

import "testing"

// ParseState("pause") must map to Pause. §9's Open Question notes the
// upstream implementation this system was distilled from maps it to Play,
// apparently by mistake; that bug is deliberately not reproduced here.
func TestParseStatePauseIsNotPlay(t *testing.T) {
	st, ok := ParseState("pause")
	if !ok {
		t.Fatalf("ParseState(\"pause\") failed to parse")
	}
	if st != Pause {
		t.Fatalf("ParseState(\"pause\") = %v, want Pause", st)
	}
}

func TestParseStateCaseInsensitive(t *testing.T) {
	cases := map[string]State{
		"Play":  Play,
		"PAUSE": Pause,
		"tail":  Tail,
		" Tail ": Tail,
	}
	for in, want := range cases {
		got, ok := ParseState(in)
		if !ok || got != want {
			t.Errorf("ParseState(%q) = (%v, %v), want (%v, true)", in, got, ok, want)
		}
	}
}

func TestParseStateInvalid(t *testing.T) {
	if _, ok := ParseState("paws"); ok {
		t.Fatalf("ParseState(\"paws\") should fail")
	}
}

func TestStateNextTailPlaySeeksToPlay(t *testing.T) {
	if got := Tail.Next(Play); got != Play {
		t.Fatalf("Tail.Next(Play) = %v, want Play", got)
	}
}

func TestStateNextTableMatchesSpec(t *testing.T) {
	cases := []struct {
		from, event, want State
	}{
		{Pause, Play, Play},
		{Pause, Pause, Pause},
		{Pause, Tail, Tail},
		{Play, Play, Play},
		{Play, Pause, Pause},
		{Play, Tail, Tail},
		{Tail, Pause, Pause},
		{Tail, Tail, Tail},
	}
	for _, c := range cases {
		if got := c.from.Next(c.event); got != c.want {
			t.Errorf("%v.Next(%v) = %v, want %v", c.from, c.event, got, c.want)
		}
	}
}

func TestOnBatchExhausted(t *testing.T) {
	if Pause.OnBatchExhausted() != Pause {
		t.Fatalf("Pause should stay Pause on batch exhaustion")
	}
	if Play.OnBatchExhausted() != Tail {
		t.Fatalf("Play should transition to Tail on batch exhaustion")
	}
	if Tail.OnBatchExhausted() != Tail {
		t.Fatalf("Tail should stay Tail on batch exhaustion")
	}
}

func TestStateString(t *testing.T) {
	if Play.String() != "play" || Pause.String() != "pause" || Tail.String() != "tail" {
		t.Fatalf("unexpected State.String() values")
	}
}
