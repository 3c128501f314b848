// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/value"
)

func TestWriterAssignsStableIds(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(filepath.Join(dir, "a.arc"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.AddPaths([]path.Path{"/a", "/b"}); err != nil {
		t.Fatal(err)
	}
	idA, ok := w.IdForPath("/a")
	if !ok {
		t.Fatal("expected /a to have an id")
	}
	if err := w.AddPaths([]path.Path{"/a"}); err != nil {
		t.Fatal(err)
	}
	idA2, _ := w.IdForPath("/a")
	if idA != idA2 {
		t.Errorf("AddPaths should be idempotent: got %d then %d", idA, idA2)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.arc")
	w, err := OpenWriter(fn)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.AddPaths([]path.Path{"/cpu"}); err != nil {
		t.Fatal(err)
	}
	id, _ := w.IdForPath("/cpu")

	ts := &Timestamper{}
	t0 := ts.Now()
	if err := w.AddBatch(true, t0, []BatchItem{{Id: id, Event: value.I32(1)}}); err != nil {
		t.Fatal(err)
	}
	t1 := ts.Now()
	if err := w.AddBatch(false, t1, []BatchItem{{Id: id, Event: value.I32(2)}}); err != nil {
		t.Fatal(err)
	}
	t2 := ts.Now()
	if err := w.AddBatch(false, t2, []BatchItem{{Id: id, Event: value.I32(3)}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := OpenReader(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	idx := r.GetIndex()
	if len(idx) != 1 || idx[0].Path != "/cpu" {
		t.Fatalf("got index %+v", idx)
	}

	var cur Cursor
	r.Seek(&cur, Seek{Kind: SeekBeginning})
	batches := r.ReadDeltas(&cur, 10)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if !batches[2].Items[0].Event.Equal(value.I32(3)) {
		t.Errorf("last batch = %v, want i32:3", batches[2].Items[0].Event)
	}
}

func TestBuildImageReplaysFromLastImage(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.arc")
	w, _ := OpenWriter(fn)
	w.AddPaths([]path.Path{"/cpu", "/mem"})
	cpu, _ := w.IdForPath("/cpu")
	mem, _ := w.IdForPath("/mem")

	ts := &Timestamper{}
	w.AddBatch(true, ts.Now(), []BatchItem{{Id: cpu, Event: value.I32(1)}, {Id: mem, Event: value.I32(100)}})
	w.AddBatch(false, ts.Now(), []BatchItem{{Id: cpu, Event: value.I32(2)}})
	w.AddBatch(false, ts.Now(), []BatchItem{{Id: cpu, Event: value.I32(3)}})
	w.Flush()
	w.Close()

	r, err := OpenReader(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var cur Cursor
	r.Seek(&cur, Seek{Kind: SeekEnd})
	image := r.BuildImage(&cur)
	if !image[cpu].Equal(value.I32(3)) {
		t.Errorf("cpu = %v, want i32:3", image[cpu])
	}
	if !image[mem].Equal(value.I32(100)) {
		t.Errorf("mem = %v, want i32:100 (carried from the image block)", image[mem])
	}
}

func TestSeekAbsoluteAndRelative(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.arc")
	w, _ := OpenWriter(fn)
	w.AddPaths([]path.Path{"/x"})
	id, _ := w.IdForPath("/x")

	base := time.Now().Truncate(time.Second)
	var times []time.Time
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		times = append(times, ts)
		w.AddBatch(i == 0, ts, []BatchItem{{Id: id, Event: value.I32(int64(i))}})
	}
	w.Flush()
	w.Close()

	r, err := OpenReader(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var cur Cursor
	r.Seek(&cur, Seek{Kind: SeekAbsolute, At: times[2]})
	batches := r.ReadDeltas(&cur, 1)
	if len(batches) != 1 || !batches[0].Items[0].Event.Equal(value.I32(3)) {
		t.Fatalf("expected the batch right after times[2], got %+v", batches)
	}

	r.Seek(&cur, Seek{Kind: SeekBeginning})
	r.Seek(&cur, Seek{Kind: SeekBatchRelative, N: 2})
	batches = r.ReadDeltas(&cur, 1)
	if len(batches) != 1 || !batches[0].Items[0].Event.Equal(value.I32(2)) {
		t.Fatalf("expected batch index 2, got %+v", batches)
	}
}

func TestRecordTooLarge(t *testing.T) {
	old := maxBlockBytes
	maxBlockBytes = 8
	defer func() { maxBlockBytes = old }()

	dir := t.TempDir()
	w, _ := OpenWriter(filepath.Join(dir, "a.arc"))
	defer w.Close()
	w.AddPaths([]path.Path{"/x"})
	id, _ := w.IdForPath("/x")

	err := w.AddBatch(false, time.Now(), []BatchItem{{Id: id, Event: value.String("this value is long enough to overflow the tiny test limit")}})
	if err != ErrRecordTooLarge {
		t.Fatalf("got %v, want ErrRecordTooLarge", err)
	}
}
