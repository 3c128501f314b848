// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pubconn

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/value"
	"github.com/nhr-fau/netpub/internal/wire"
)

// fakePublisher serves one net.Conn half, answering every Subscribe request
// with a Subscribed reply carrying the given value, and otherwise just
// echoing heartbeats so the connection under test never looks hung.
func fakePublisher(t *testing.T, nc net.Conn, last value.Value) {
	t.Helper()
	r := bufio.NewReader(nc)
	w := bufio.NewWriter(nc)
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		if len(frame) == 0 {
			continue
		}
		switch frame[0] {
		case tagSubscribe:
			cur := &byteCursor{b: frame, i: 1}
			req, _ := wire.ReadUvarint(cur)
			var buf []byte
			buf = append(buf, tagSubscribed)
			buf = wire.PutUvarint(buf, req)
			buf = wire.PutUvarint(buf, 1) // server-assigned id
			buf = value.Encode(buf, last)
			wire.WriteFrame(w, buf)
			w.Flush()
		case tagHeartbeat:
			wire.WriteFrame(w, []byte{tagHeartbeat})
			w.Flush()
		case tagFlushMarker:
			wire.WriteFrame(w, []byte{tagFlushAck})
			w.Flush()
		case tagWrite:
			wire.WriteFrame(w, []byte{tagWriteAck})
			w.Flush()
		case tagUnsubscribe:
			// best effort, no reply expected
		}
	}
}

func TestSubscribeReceivesLastValue(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go fakePublisher(t, server, value.U32(7))

	c := newAndRun("pub:1", client, time.Hour)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, last, err := c.Subscribe(ctx, "/cluster/node01/cpu", "", "", BeginWithLast)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if !last.Equal(value.U32(7)) {
		t.Errorf("last = %v, want u32:7", last)
	}
}

func TestFlushCompletes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go fakePublisher(t, server, value.Null())

	c := newAndRun("pub:1", client, time.Hour)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateFansOutToStream(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(server)
		w := bufio.NewWriter(server)
		frame, err := wire.ReadFrame(r)
		if err != nil || len(frame) == 0 || frame[0] != tagSubscribe {
			return
		}
		cur := &byteCursor{b: frame, i: 1}
		req, _ := wire.ReadUvarint(cur)
		var buf []byte
		buf = append(buf, tagSubscribed)
		buf = wire.PutUvarint(buf, req)
		buf = wire.PutUvarint(buf, 1)
		buf = value.Encode(buf, value.I32(1))
		wire.WriteFrame(w, buf)
		w.Flush()

		var upd []byte
		upd = append(upd, tagUpdate)
		upd = wire.PutUvarint(upd, 1)
		upd = value.Encode(upd, value.I32(2))
		wire.WriteFrame(w, upd)
		w.Flush()
	}()

	c := newAndRun("pub:1", client, time.Hour)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, _, err := c.Subscribe(ctx, "/x", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}

	ch := make(chan Event, 4)
	c.Stream(id, 1, ch, 0)

	select {
	case ev := <-ch:
		if ev.Kind != EvUpdate || !ev.Value.Equal(value.I32(2)) {
			t.Errorf("got %+v, want Update(2)", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	<-done
}
