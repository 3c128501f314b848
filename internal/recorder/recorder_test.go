// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package recorder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/glob"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/subscriber"
	"github.com/nhr-fau/netpub/internal/value"
)

// fakeVal is a minimal stand-in for *subscriber.Val: recorder only calls
// Stream on whatever subscribe returns, so the test drives updates straight
// through the channel it's handed rather than standing up a full
// subscriber.Client.
type fakeVal struct {
	mu sync.Mutex
	ch chan pubconn.Event
}

func newFakeVal() *fakeVal { return &fakeVal{} }

func (v *fakeVal) stream(ch chan pubconn.Event) {
	v.mu.Lock()
	v.ch = ch
	v.mu.Unlock()
}

func (v *fakeVal) push(ev pubconn.Event) {
	v.mu.Lock()
	ch := v.ch
	v.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

func TestRecorderCommitsBatchOnIdle(t *testing.T) {
	dir := t.TempDir()
	w, err := archive.OpenWriter(filepath.Join(dir, "a.arc"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	g, ok := glob.Compile("/cluster/*")
	if !ok {
		t.Fatal("glob.Compile failed")
	}

	fv := newFakeVal()
	subscribeCalls := 0
	subscribe := func(ctx context.Context, paths []path.Path) (map[path.Path]*subscriber.Val, map[path.Path]error) {
		subscribeCalls++
		// subscriber.Val cannot be constructed outside its package, so this
		// returns nothing and the test drives Recorder.forward directly
		// further down, bypassing Stream.
		return nil, nil
	}
	listed := false
	list := func(ctx context.Context, base path.Path) ([]path.Path, error) {
		if listed {
			return nil, nil
		}
		listed = true
		return []path.Path{"/cluster/node01"}, nil
	}

	r := New(Config{Globs: []*glob.Glob{g}, PollInterval: 0}, w, list, subscribe)

	ch := make(chan pubconn.Event, 4)
	fv.stream(ch)
	r.idForSub["/cluster/node01"] = 1
	go r.forward("/cluster/node01", ch)

	ctx, cancel := context.WithCancel(context.Background())
	go r.listLoop(ctx)
	go r.batchLoop(ctx)
	defer cancel()

	fv.push(pubconn.Event{Kind: pubconn.EvUpdate, Value: value.I32(1)})

	select {
	case tb := <-r.Broadcast:
		if len(tb.Items) != 1 || tb.Items[0].Id != 1 {
			t.Fatalf("unexpected batch: %+v", tb)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for committed batch")
	}
}

func TestCoalesceBasesDedupes(t *testing.T) {
	a, _ := glob.Compile("/cluster/*/cpu")
	b, _ := glob.Compile("/cluster/*/mem")
	bases := coalesceBases([]*glob.Glob{a, b})
	if len(bases) != 1 || bases[0] != "/cluster" {
		t.Fatalf("expected a single coalesced base, got %+v", bases)
	}
}

func TestAddBatchSplittingWritesNormalBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := archive.OpenWriter(filepath.Join(dir, "a.arc"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.AddPaths([]path.Path{"/a", "/b"})
	idA, _ := w.IdForPath("/a")
	idB, _ := w.IdForPath("/b")

	r := New(Config{}, w, nil, nil)
	r.addBatchSplitting(false, time.Now(), []archive.BatchItem{
		{Id: idA, Event: value.I32(1)},
		{Id: idB, Event: value.I32(2)},
	})
	// No panic and no deadlock is the main assertion; verify the writer
	// actually grew.
	if w.Len() == 0 {
		t.Fatal("expected writer to have recorded at least the index block")
	}
}
