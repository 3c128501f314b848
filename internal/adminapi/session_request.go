// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adminapi

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/replay"
)

// sessionConfigFromRequest validates and converts an HTTP sessionRequest
// into a replay.Config, applying defaults to every field but the required
// "pos": unbounded start/end, unlimited speed, and an initial Pause state.
func sessionConfigFromRequest(req sessionRequest, clientAddr string) (replay.Config, error) {
	if req.Pos == "" {
		return replay.Config{}, fmt.Errorf("adminapi: \"pos\" is required")
	}
	pos, err := replay.ParsePos(req.Pos)
	if err != nil {
		return replay.Config{}, err
	}

	var bounds replay.Bounds
	if req.Start != "" {
		sk, unbounded, err := replay.ParseBound(req.Start)
		if err != nil {
			return replay.Config{}, err
		}
		if !unbounded {
			bounds.StartBounded, bounds.Start, err = boundTime(sk)
			if err != nil {
				return replay.Config{}, err
			}
		}
	}
	if req.End != "" {
		sk, unbounded, err := replay.ParseBound(req.End)
		if err != nil {
			return replay.Config{}, err
		}
		if !unbounded {
			bounds.EndBounded, bounds.End, err = boundTime(sk)
			if err != nil {
				return replay.Config{}, err
			}
		}
	}

	speed := replay.Speed{Unlimited: true}
	if req.Speed != "" {
		speed, err = replay.ParseSpeed(req.Speed)
		if err != nil {
			return replay.Config{}, err
		}
	}

	state := replay.Pause
	if req.State != "" {
		var ok bool
		state, ok = replay.ParseState(req.State)
		if !ok {
			return replay.Config{}, fmt.Errorf("adminapi: invalid state %q", req.State)
		}
	}

	var playAfter time.Duration
	if req.PlayAfter != "" {
		playAfter, err = time.ParseDuration(req.PlayAfter)
		if err != nil {
			return replay.Config{}, fmt.Errorf("adminapi: invalid play_after %q: %w", req.PlayAfter, err)
		}
	}

	return replay.Config{
		SessionID:  uuid.NewString(),
		Bounds:     bounds,
		Speed:      speed,
		Pos:        pos,
		State:      state,
		PlayAfter:  playAfter,
		ClientAddr: clientAddr,
	}, nil
}

// boundTime rejects bound expressions relative to the archive's current
// state ("beginning"/"end"/relative positions): a session's start/end
// window is a fixed point in time, not a moving target, so only an absolute
// timestamp makes sense here. "unbounded" is handled by the caller before
// boundTime is reached.
func boundTime(sk archive.Seek) (bool, time.Time, error) {
	if sk.Kind != archive.SeekAbsolute {
		return false, time.Time{}, fmt.Errorf("adminapi: start/end must be an absolute timestamp or \"unbounded\"")
	}
	return true, sk.At, nil
}
