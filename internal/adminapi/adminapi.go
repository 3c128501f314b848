// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package adminapi is the recorder/replayer's small HTTP admin surface
// (§4.6 "admin surface" / §4.7 RPC surface), grounded in the teacher
// repository's server.go router wiring: a gorilla/mux router, gorilla/handlers
// logging/compression middleware, and an http.Server with the same
// ReadTimeout/WriteTimeout pair server.go uses. It exposes GET /healthz, GET
// /metrics (Prometheus), GET /debug/recorder (modeled on
// internal/memorystore/debug.go's dump of live bookkeeping), and POST
// /session as an HTTP-transport alternative to the in-band RPC session call
// described in spec.md §6.
package adminapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhr-fau/netpub/internal/recorder"
	"github.com/nhr-fau/netpub/internal/replay"
)

// SessionFactory builds the Sink/Mirror pair a freshly allocated session ID
// should publish and mirror through; the admin surface calls it once per
// POST /session before handing the ID to Manager.Create.
type SessionFactory func(sessionID string) (replay.Sink, replay.Mirror)

// Server is the admin surface's dependencies. Recorder is nil on a
// replayer-only process (GET /debug/recorder then answers 404); Manager and
// NewSession are nil on a recorder-only process (POST /session then answers
// 404).
type Server struct {
	Recorder   *recorder.Recorder
	Manager    *replay.Manager
	NewSession SessionFactory
	StartedAt  time.Time
}

// Router builds the mux.Router for s, wiring every admin route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/recorder", s.handleDebugRecorder).Methods(http.MethodGet)
	r.HandleFunc("/session", s.handleCreateSession).Methods(http.MethodPost)
	return r
}

// Handler wraps Router with the same CompressHandler/CORS/logging stack
// server.go applies, returning the ready-to-serve http.Handler.
func (s *Server) Handler() http.Handler {
	r := s.Router()
	r.Use(handlers.CompressHandler)
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		handlers.AllowedOrigins([]string{"*"})))
	return handlers.CustomLoggingHandler(io.Discard, r, func(w io.Writer, params handlers.LogFormatterParams) {
		cclog.Infof("[ADMIN]> %s %s (%d, %dB)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
}

// NewHTTPServer builds an *http.Server bound to addr with the same
// timeouts server.go uses, serving s.Handler().
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.StartedAt).String(),
	})
}

func (s *Server) handleDebugRecorder(w http.ResponseWriter, _ *http.Request) {
	if s.Recorder == nil {
		http.Error(w, "recorder not attached to this process", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Recorder.DebugInfo())
}

// sessionRequest mirrors the spec.md §6 RPC signature
// session(start, end, speed, pos, state, play_after); every field but pos is
// optional and defaults to an unbounded/unlimited/paused session.
type sessionRequest struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	Speed      string `json:"speed"`
	Pos        string `json:"pos"`
	State      string `json:"state"`
	PlayAfter  string `json:"play_after"`
}

type sessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil || s.NewSession == nil {
		http.Error(w, "replay sessions not served by this process", http.StatusNotFound)
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, sessionResponse{Error: err.Error()})
		return
	}

	cfg, err := sessionConfigFromRequest(req, r.RemoteAddr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, sessionResponse{Error: err.Error()})
		return
	}

	sink, mirror := s.NewSession(cfg.SessionID)
	if _, err := s.Manager.Create(context.Background(), cfg, sink, mirror, false); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, sessionResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: cfg.SessionID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
