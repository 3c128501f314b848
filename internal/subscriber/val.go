// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package subscriber implements the subscriber core (§4.4): single-flight
// non-durable subscriptions, a durable-subscription supervisor with retry
// backoff, and the recently-failed publisher bookkeeping that keeps
// round-robin resolution away from a publisher that just dropped a
// connection.
package subscriber

import (
	"sync"
	"weak"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/value"
)

// Val is a live, shared handle to a subscribed path. Multiple callers that
// subscribe to the same path concurrently receive the same *Val.
type Val struct {
	Path path.Path

	mu      sync.RWMutex
	conn    *pubconn.Conn
	connID  pubconn.Id
	last    value.Value
	streams map[uint64]chan pubconn.Event
	nextSub uint64
}

func newVal(p path.Path, conn *pubconn.Conn, connID pubconn.Id, last value.Value) *Val {
	return &Val{Path: p, conn: conn, connID: connID, last: last, streams: map[uint64]chan pubconn.Event{}}
}

// Last returns the most recently observed value.
func (v *Val) Last() value.Value {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

// Weak returns a weak.Pointer to v, which does not keep v alive. The durable
// supervisor's bookkeeping (durable_dead/pending/alive) does not use it; it
// holds weak.Pointer[Dval] instead.
func (v *Val) Weak() weak.Pointer[Val] { return weak.Make(v) }

// Stream registers ch to receive every Update/Unsubscribed event for this
// value, with flags forwarded to the underlying connection (BeginWithLast
// replays the current last value immediately since the connection already
// completed its own BeginWithLast handshake at Subscribe time).
func (v *Val) Stream(ch chan pubconn.Event, flags pubconn.Flags) {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	conn, connID := v.conn, v.connID
	last := v.last
	v.streams[id] = ch
	v.mu.Unlock()

	conn.Stream(connID, id, ch, flags)
	if flags&pubconn.BeginWithLast != 0 {
		select {
		case ch <- pubconn.Event{Kind: pubconn.EvUpdate, Id: connID, Value: last}:
		default:
		}
	}
}

// Write forwards val to the publisher. If receipt is non-nil it receives the
// outcome of sending the write (see pubconn.Conn.Write); the publisher's
// WriteAck reply is not awaited.
func (v *Val) Write(val value.Value, receipt chan error) {
	v.mu.RLock()
	conn, id := v.conn, v.connID
	v.mu.RUnlock()
	conn.Write(id, val, receipt)
}

func (v *Val) applyUpdate(ev pubconn.Event) {
	if ev.Kind != pubconn.EvUpdate {
		return
	}
	v.mu.Lock()
	v.last = ev.Value
	v.mu.Unlock()
}

// rebind re-registers every attached stream on a new connection/id after a
// durable resubscription succeeds, per §4.4's "re-register all previously
// attached stream channels (with BEGIN_WITH_LAST)".
func (v *Val) rebind(conn *pubconn.Conn, connID pubconn.Id, last value.Value) {
	v.mu.Lock()
	v.conn, v.connID, v.last = conn, connID, last
	streams := make(map[uint64]chan pubconn.Event, len(v.streams))
	for id, ch := range v.streams {
		streams[id] = ch
	}
	v.mu.Unlock()

	for id, ch := range streams {
		conn.Stream(connID, id, ch, pubconn.BeginWithLast)
		select {
		case ch <- pubconn.Event{Kind: pubconn.EvUpdate, Id: connID, Value: last}:
		default:
		}
	}
}
