// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coldstore

import (
	"context"
	"testing"
	"time"
)

func TestNewRejectsEmptyBucket(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatalf("New with empty bucket should fail")
	}
}

func TestNewDefaultsRegion(t *testing.T) {
	u, err := New(Config{Bucket: "segments", Endpoint: "http://127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u == nil || u.client == nil {
		t.Fatalf("New should build a client without contacting S3")
	}
	if got := u.client.Options().Region; got != "us-east-1" {
		t.Fatalf("New with no Region should default to us-east-1, got %q", got)
	}
}

func TestRunNoopWhenIntervalZero(t *testing.T) {
	u, err := New(Config{Bucket: "segments", SegmentDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { u.Run(ctx); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run with zero Interval should return immediately")
	}
}

func TestScanOnceSkipsAlreadyUploaded(t *testing.T) {
	dir := t.TempDir()
	u, err := New(Config{Bucket: "segments", SegmentDir: dir, Endpoint: "http://127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u.uploaded["seen.bin"] = true
	if err := u.scanOnce(context.Background()); err != nil {
		t.Fatalf("scanOnce on empty dir: %v", err)
	}
	if !u.uploaded["seen.bin"] {
		t.Fatalf("scanOnce should not forget a file already marked uploaded")
	}
}
