// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package subscriber

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/resolver"
	"github.com/nhr-fau/netpub/internal/value"
	"github.com/nhr-fau/netpub/internal/wire"
)

// fakePublisherServer answers every Subscribe on nc with Subscribed(1, last)
// and otherwise just echoes heartbeats/flushes, mirroring the wire tags
// pubconn itself uses (duplicated here as literals to avoid an import cycle
// with the unexported pubconn proto constants).
func fakePublisherServer(nc net.Conn, last value.Value) {
	const (
		tagSubscribe   = 1
		tagSubscribed  = 2
		tagHeartbeat   = 11
		tagFlushMarker = 9
		tagFlushAck    = 10
	)
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
			cur := &cursor{b: frame[1:]}
			req, _ := wire.ReadUvarint(cur)
			var buf []byte
			buf = append(buf, tagSubscribed)
			buf = wire.PutUvarint(buf, req)
			buf = wire.PutUvarint(buf, 1)
			buf = value.Encode(buf, last)
			wire.WriteFrame(w, buf)
			w.Flush()
		case tagHeartbeat:
			wire.WriteFrame(w, []byte{tagHeartbeat})
			w.Flush()
		case tagFlushMarker:
			wire.WriteFrame(w, []byte{tagFlushAck})
			w.Flush()
		}
	}
}

type cursor struct {
	b []byte
	i int
}

func (c *cursor) ReadByte() (byte, error) {
	b := c.b[c.i]
	c.i++
	return b, nil
}

// fakeResolver implements resolverClient by returning a fixed publisher list
// for every path, regardless of what is asked.
type fakeResolver struct {
	pubs []resolver.Publisher
}

func (f *fakeResolver) Resolve(ctx context.Context, p path.Path) ([]resolver.Publisher, error) {
	return f.pubs, nil
}

func (f *fakeResolver) ResolveBatch(ctx context.Context, paths []path.Path) []resolver.ResolveBatchResult {
	out := make([]resolver.ResolveBatchResult, len(paths))
	for i := range paths {
		out[i] = resolver.ResolveBatchResult{Publishers: f.pubs}
	}
	return out
}

func newTestClient(t *testing.T, pipe net.Conn, addr resolver.Addr) (*Client, *int) {
	t.Helper()
	dialCount := 0
	c := &Client{
		resolver: &fakeResolver{pubs: []resolver.Publisher{{Addr: addr}}},
		dial: func(ctx context.Context, a resolver.Addr) (*pubconn.Conn, error) {
			dialCount++
			return pubconn.NewForTest(pipe, time.Hour), nil
		},
		subscribed:     map[path.Path]*subStatus{},
		connections:    map[resolver.Addr]*connEntry{},
		recentlyFailed: map[resolver.Addr]time.Time{},
	}
	c.durable = newSupervisor(c)
	return c, &dialCount
}

func TestSubscribeSingleFlight(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go fakePublisherServer(server, value.U32(9))

	c, dialCount := newTestClient(t, client, "pub:1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vals, errs := c.Subscribe(ctx, []path.Path{"/x"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	v, ok := vals["/x"]
	if !ok {
		t.Fatal("expected /x to be subscribed")
	}
	if !v.Last().Equal(value.U32(9)) {
		t.Errorf("last = %v, want u32:9", v.Last())
	}
	if *dialCount != 1 {
		t.Errorf("dialCount = %d, want 1", *dialCount)
	}

	vals2, errs2 := c.Subscribe(ctx, []path.Path{"/x"})
	if len(errs2) != 0 {
		t.Fatalf("unexpected errors: %+v", errs2)
	}
	if vals2["/x"] != v {
		t.Error("expected the same *Val to be returned for an already-subscribed path")
	}
	if *dialCount != 1 {
		t.Errorf("dialCount after second subscribe = %d, want still 1", *dialCount)
	}
}

func TestDurableSubscribeReachesSubscribed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go fakePublisherServer(server, value.I32(5))

	c, _ := newTestClient(t, client, "pub:1")

	d := c.Durable("/y")
	if d.State() != Dead {
		t.Fatalf("new Dval should start Dead, got %v", d.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitSubscribed(ctx); err != nil {
		t.Fatal(err)
	}
	if d.State() != Subscribed {
		t.Fatalf("expected Subscribed, got %v", d.State())
	}
	if !d.Val().Last().Equal(value.I32(5)) {
		t.Errorf("last = %v, want i32:5", d.Val().Last())
	}
}

func TestPickPublisherAvoidsRecentlyFailed(t *testing.T) {
	c := NewClient(&fakeResolver{})
	c.recentlyFailed["bad:1"] = time.Now()
	pubs := []resolver.Publisher{{Addr: "bad:1"}, {Addr: "good:1"}}
	for i := 0; i < 20; i++ {
		if addr := c.pickPublisher(pubs, 0); addr != "good:1" {
			t.Fatalf("expected good:1, got %s", addr)
		}
	}
}
