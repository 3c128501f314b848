// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clusterbus

import (
	"encoding/json"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/metrics"
	"github.com/nhr-fau/netpub/internal/replay"
)

// kind tags the variant of an Envelope, one per replay.Mirror method plus
// the global stop broadcast.
type kind string

const (
	kindSeek     kind = "seek"
	kindStart    kind = "start"
	kindEnd      kind = "end"
	kindSpeed    kind = "speed"
	kindState    kind = "state"
	kindNotIdle  kind = "notidle"
	kindStopAll  kind = "stop"
)

// Envelope is the small JSON control message exchanged between peer shards
// of the same archive, per §4.7 "Clustered mirroring".
type Envelope struct {
	Kind kind `json:"kind"`

	// SeekKind/At/Delta/N mirror archive.Seek, for Kind == kindSeek.
	SeekKind archive.SeekKind `json:"seek_kind,omitempty"`
	At       time.Time        `json:"at,omitempty"`
	Delta    time.Duration    `json:"delta,omitempty"`
	N        int              `json:"n,omitempty"`

	// Bounded/Time serialize one side of a replay.Bounds, for Kind ==
	// kindStart / kindEnd.
	Bounded bool      `json:"bounded,omitempty"`
	Time    time.Time `json:"time,omitempty"`

	// Unlimited/Rate mirror replay.Speed, for Kind == kindSpeed.
	Unlimited bool    `json:"unlimited,omitempty"`
	Rate      float64 `json:"rate,omitempty"`

	// State mirrors replay.State's textual form, for Kind == kindState.
	State string `json:"state,omitempty"`
}

func subjectFor(archiveID, sessionID string) string {
	return fmt.Sprintf("netpub.cluster.%s.session.%s", archiveID, sessionID)
}

func stopSubject(archiveID string) string {
	return fmt.Sprintf("netpub.cluster.%s.stop", archiveID)
}

// SessionMirror implements replay.Mirror over a Bus, publishing every
// control change on this session's subject so peer shards can apply it to
// their own local (elected-elsewhere) copy of the same session.
type SessionMirror struct {
	bus       *Bus
	archiveID string
	sessionID string
}

// NewSessionMirror builds a replay.Mirror for one session. A nil bus yields
// a mirror whose methods are no-ops, matching single-shard deployments that
// never configured a cluster bus.
func NewSessionMirror(bus *Bus, archiveID, sessionID string) *SessionMirror {
	return &SessionMirror{bus: bus, archiveID: archiveID, sessionID: sessionID}
}

func (m *SessionMirror) send(env Envelope) {
	if m == nil || m.bus == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		cclog.Errorf("clusterbus: marshal envelope: %v", err)
		return
	}
	if err := m.bus.publish(subjectFor(m.archiveID, m.sessionID), data); err != nil {
		cclog.Warnf("clusterbus: %v", err)
		return
	}
	metrics.ClusterEnvelopesSentTotal.Inc()
}

func (m *SessionMirror) SeekTo(s archive.Seek) {
	m.send(Envelope{Kind: kindSeek, SeekKind: s.Kind, At: s.At, Delta: s.Delta, N: s.N})
}

func (m *SessionMirror) SetStart(b replay.Bounds) {
	m.send(Envelope{Kind: kindStart, Bounded: b.StartBounded, Time: b.Start})
}

func (m *SessionMirror) SetEnd(b replay.Bounds) {
	m.send(Envelope{Kind: kindEnd, Bounded: b.EndBounded, Time: b.End})
}

func (m *SessionMirror) SetSpeed(sp replay.Speed) {
	m.send(Envelope{Kind: kindSpeed, Unlimited: sp.Unlimited, Rate: sp.Rate})
}

func (m *SessionMirror) SetState(st replay.State) {
	m.send(Envelope{Kind: kindState, State: st.String()})
}

func (m *SessionMirror) NotIdle() {
	m.send(Envelope{Kind: kindNotIdle})
}

// Subscribe passes every peer-originated Envelope for this session to apply
// (typically a closure that calls Apply on the local session).
func Subscribe(bus *Bus, archiveID, sessionID string, apply func(Envelope)) error {
	if bus == nil {
		return nil
	}
	return bus.subscribe(subjectFor(archiveID, sessionID), func(data []byte) {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			cclog.Warnf("clusterbus: invalid envelope on session %s: %v", sessionID, err)
			return
		}
		metrics.ClusterEnvelopesRecvTotal.Inc()
		apply(env)
	})
}

// Apply replays a peer envelope against a local session s, the receiving
// side's counterpart to SessionMirror's sends.
func Apply(env Envelope, s *replay.Session) {
	switch env.Kind {
	case kindSeek:
		s.SeekTo(archive.Seek{Kind: env.SeekKind, At: env.At, Delta: env.Delta, N: env.N})
	case kindStart:
		s.SetStart(env.Bounded, env.Time)
	case kindEnd:
		s.SetEnd(env.Bounded, env.Time)
	case kindSpeed:
		s.SetSpeed(replay.Speed{Unlimited: env.Unlimited, Rate: env.Rate})
	case kindState:
		if st, ok := replay.ParseState(env.State); ok {
			if err := s.SetState(st); err != nil {
				cclog.Warnf("clusterbus: apply state %s: %v", env.State, err)
			}
		}
	case kindNotIdle:
		s.NotIdle()
	}
}

// PublishStop broadcasts the cluster-wide BCastMsg::Stop for archiveID; every
// onStop registered through SubscribeStop for that archiveID runs.
func PublishStop(bus *Bus, archiveID string) error {
	if bus == nil {
		return nil
	}
	return bus.publish(stopSubject(archiveID), []byte("stop"))
}

// SubscribeStop registers onStop to run whenever a peer (or this shard)
// broadcasts BCastMsg::Stop for archiveID.
func SubscribeStop(bus *Bus, archiveID string, onStop func()) error {
	if bus == nil {
		return nil
	}
	return bus.subscribe(stopSubject(archiveID), func([]byte) { onStop() })
}
