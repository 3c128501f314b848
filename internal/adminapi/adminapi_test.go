// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package adminapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/adminapi"
	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/replay"
	"github.com/nhr-fau/netpub/internal/value"
)

func openTestArchive(t *testing.T) (*archive.Reader, map[archive.Id]path.Path) {
	t.Helper()
	file := filepath.Join(t.TempDir(), "archive.bin")

	w, err := archive.OpenWriter(file)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.AddPaths([]path.Path{"/t/c"}); err != nil {
		t.Fatalf("AddPaths: %v", err)
	}
	id, _ := w.IdForPath("/t/c")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := w.AddBatch(false, ts, []archive.BatchItem{{Id: id, Event: value.U64(uint64(i))}}); err != nil {
			t.Fatalf("AddBatch: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := archive.OpenReader(file)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	idx := map[archive.Id]path.Path{}
	for _, e := range rd.GetIndex() {
		idx[e.Id] = e.Path
	}
	return rd, idx
}

func TestHealthz(t *testing.T) {
	s := &adminapi.Server{StartedAt: time.Now()}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
}

func TestDebugRecorderWithoutRecorderIs404(t *testing.T) {
	s := &adminapi.Server{StartedAt: time.Now()}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/recorder", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestCreateSessionRequiresPos(t *testing.T) {
	rd, idx := openTestArchive(t)
	defer rd.Close()
	mgr := replay.NewManager(replay.ManagerConfig{}, rd, idx)
	t.Cleanup(mgr.Stop)

	s := &adminapi.Server{
		Manager: mgr,
		NewSession: func(string) (replay.Sink, replay.Mirror) {
			return replay.Sink{}, nil
		},
		StartedAt: time.Now(),
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"state":"pause"}`))
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateSessionSucceeds(t *testing.T) {
	rd, idx := openTestArchive(t)
	defer rd.Close()
	mgr := replay.NewManager(replay.ManagerConfig{}, rd, idx)
	t.Cleanup(mgr.Stop)

	var published []string
	s := &adminapi.Server{
		Manager: mgr,
		NewSession: func(string) (replay.Sink, replay.Mirror) {
			sink := replay.Sink{
				PublishControl: func(name string, _ value.Value) { published = append(published, name) },
			}
			return sink, nil
		},
		StartedAt: time.Now(),
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"pos":"beginning","state":"pause"}`))
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["session_id"] == "" {
		t.Fatalf("missing session_id in %v", body)
	}
	if _, ok := mgr.Get(body["session_id"]); !ok {
		t.Fatalf("session %s not tracked by manager", body["session_id"])
	}
	if len(published) == 0 {
		t.Fatalf("expected the new session to publish its initial controls")
	}
}
