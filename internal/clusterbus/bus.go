// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clusterbus gives the replay session's "clustered mirroring"
// (§4.7) a concrete transport: peer shards of the same archive exchange
// control-change envelopes and a global stop broadcast over a shared NATS
// subject namespace, `netpub.cluster.<archive-id>.session.<session-id>`
// for per-session control mirroring and `netpub.cluster.<archive-id>.stop`
// for BCastMsg::Stop.
package clusterbus

import (
	"context"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

var (
	busOnce     sync.Once
	busInstance *Bus
)

// Bus wraps a NATS connection with subscription bookkeeping, adapted from
// this codebase's generic messaging client for the narrower job of
// replay-session control mirroring.
type Bus struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// Connect initializes the singleton cluster bus from the global Keys
// config. A missing address leaves clustering disabled (single-shard
// deployments never set it).
func Connect() {
	busOnce.Do(func() {
		if Keys.Address == "" {
			cclog.Debug("clusterbus: no address configured, clustering disabled")
			return
		}
		b, err := NewBus(nil)
		if err != nil {
			cclog.Warnf("clusterbus: connect failed: %v", err)
			return
		}
		busInstance = b
	})
}

// GetBus returns the singleton cluster bus, or nil if clustering is disabled.
func GetBus() *Bus {
	return busInstance
}

// NewBus dials a cluster bus. If cfg is nil, the global Keys config is used.
func NewBus(cfg *Config) (*Bus, error) {
	if cfg == nil {
		cfg = &Keys
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("clusterbus: address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cclog.Warnf("clusterbus: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		cclog.Infof("clusterbus: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		cclog.Errorf("clusterbus: error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: connect to %s failed: %w", cfg.Address, err)
	}
	cclog.Infof("clusterbus: connected to %s", cfg.Address)
	return &Bus{conn: nc}, nil
}

func (b *Bus) publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("clusterbus: publish to %s failed: %w", subject, err)
	}
	return nil
}

func (b *Bus) subscribe(subject string, handler func(data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) { handler(msg.Data) })
	if err != nil {
		return fmt.Errorf("clusterbus: subscribe to %s failed: %w", subject, err)
	}
	b.subscriptions = append(b.subscriptions, sub)
	return nil
}

// Request sends data on subject and waits for one reply, bounded by ctx.
func (b *Bus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := b.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: request to %s failed: %w", subject, err)
	}
	return msg.Data, nil
}

// Flush waits for every buffered publish to reach the server.
func (b *Bus) Flush() error { return b.conn.Flush() }

// Close unsubscribes everything and closes the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			cclog.Warnf("clusterbus: unsubscribe failed: %v", err)
		}
	}
	b.subscriptions = nil
	if b.conn != nil {
		b.conn.Close()
	}
}

// IsConnected reports whether the underlying connection is up.
func (b *Bus) IsConnected() bool { return b.conn != nil && b.conn.IsConnected() }
