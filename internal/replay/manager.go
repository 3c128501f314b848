// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/metrics"
	"github.com/nhr-fau/netpub/internal/path"
)

// ManagerConfig carries the §4.7 "Session limits" admission thresholds.
type ManagerConfig struct {
	MaxSessions          int
	MaxSessionsPerClient int
}

// Manager owns every live Session against one archive reader and enforces
// the global/per-client admission limits on creation.
type Manager struct {
	cfg    ManagerConfig
	reader *archive.Reader
	idx    map[archive.Id]path.Path

	mu       sync.Mutex
	sessions map[string]*Session
	byClient map[string]int
}

// NewManager builds a Manager serving sessions against rd, whose path index
// idx is shared read-only (built once from rd.GetIndex()).
func NewManager(cfg ManagerConfig, rd *archive.Reader, idx map[archive.Id]path.Path) *Manager {
	return &Manager{
		cfg:      cfg,
		reader:   rd,
		idx:      idx,
		sessions: map[string]*Session{},
		byClient: map[string]int{},
	}
}

// Create admits a new session per scfg, enforcing MaxSessions and
// MaxSessionsPerClient. fromPeer marks a session created on behalf of a
// remote shard's mirrored request, which is logged (not just returned) on
// rejection per §4.7.
func (m *Manager) Create(ctx context.Context, scfg Config, sink Sink, mirror Mirror, fromPeer bool) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		err := fmt.Errorf("replay: max_sessions limit (%d) reached", m.cfg.MaxSessions)
		metrics.SessionsRejectedTotal.WithLabelValues("max_sessions").Inc()
		m.logRejection(err, fromPeer)
		return nil, err
	}
	if m.cfg.MaxSessionsPerClient > 0 && m.byClient[scfg.ClientAddr] >= m.cfg.MaxSessionsPerClient {
		m.mu.Unlock()
		err := fmt.Errorf("replay: max_sessions_per_client limit (%d) reached for %s", m.cfg.MaxSessionsPerClient, scfg.ClientAddr)
		metrics.SessionsRejectedTotal.WithLabelValues("max_sessions_per_client").Inc()
		m.logRejection(err, fromPeer)
		return nil, err
	}
	m.mu.Unlock()

	s := New(m.reader, m.idx, sink, mirror, scfg)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.byClient[scfg.ClientAddr]++
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	go func() {
		s.Run(ctx)
		m.drop(s.ID, scfg.ClientAddr)
	}()
	return s, nil
}

func (m *Manager) logRejection(err error, fromPeer bool) {
	if fromPeer {
		cclog.Warnf("[REPLAY]> rejecting peer-mirrored session request: %v", err)
	}
}

// Get returns the live session with id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop cancels every live session, e.g. on a cluster-wide BCastMsg::Stop.
func (m *Manager) Stop() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}

func (m *Manager) drop(id, clientAddr string) {
	m.mu.Lock()
	delete(m.sessions, id)
	if m.byClient[clientAddr] > 0 {
		m.byClient[clientAddr]--
	}
	m.mu.Unlock()
	metrics.SessionsActive.Dec()
}
