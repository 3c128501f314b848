// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package subscriber

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/resolver"
	"github.com/nhr-fau/netpub/internal/token"
)

// RememberFailed is the TTL a publisher address spends in recently_failed
// after a connection to it fails, per §4.4.
const RememberFailed = 60 * time.Second

// ResolveFlags mirrors the resolution-time flags §4.4 references.
type ResolveFlags uint8

const (
	// UseExisting prefers a publisher an open connection already exists to.
	UseExisting ResolveFlags = 1 << iota
	// Isolated opens (and keeps) a fresh connection just for this subscription.
	Isolated
)

type subStatus struct {
	val     *Val        // non-nil once Subscribed
	waiters []chan subResult
}

type subResult struct {
	val *Val
	err error
}

type connEntry struct {
	mu       sync.Mutex
	primary  *pubconn.Conn
	isolated map[uint64]*pubconn.Conn
}

// resolverClient is the subset of *resolver.Client the subscriber core
// depends on. Defining it here (rather than depending on the concrete type)
// lets tests inject a fake resolver without opening a socket.
type resolverClient interface {
	Resolve(ctx context.Context, p path.Path) ([]resolver.Publisher, error)
	ResolveBatch(ctx context.Context, paths []path.Path) []resolver.ResolveBatchResult
}

// Client is the subscriber-side runtime: one per process, talking to one
// resolver cluster.
type Client struct {
	resolver resolverClient
	dial     func(ctx context.Context, addr resolver.Addr) (*pubconn.Conn, error)

	mu          sync.Mutex
	subscribed  map[path.Path]*subStatus
	connections map[resolver.Addr]*connEntry
	recentlyFailed map[resolver.Addr]time.Time

	nextIsolated uint64

	durable *supervisor
}

// NewClient builds a Client around res, dialing publishers with pubconn.Dial.
func NewClient(res resolverClient) *Client {
	c := &Client{
		resolver:       res,
		dial:           func(ctx context.Context, addr resolver.Addr) (*pubconn.Conn, error) { return pubconn.Dial(ctx, pubconn.Addr(addr)) },
		subscribed:     map[path.Path]*subStatus{},
		connections:    map[resolver.Addr]*connEntry{},
		recentlyFailed: map[resolver.Addr]time.Time{},
	}
	c.durable = newSupervisor(c)
	return c
}

// Subscribe resolves and subscribes to every path in paths, sharing one
// resolve round trip and single-flighting concurrent callers of the same
// path, per §4.4 "Non-durable subscription".
func (c *Client) Subscribe(ctx context.Context, paths []path.Path) (map[path.Path]*Val, map[path.Path]error) {
	vals := make(map[path.Path]*Val, len(paths))
	errs := make(map[path.Path]error)
	var toResolve []path.Path
	var waitFor []path.Path
	waiters := make(map[path.Path]chan subResult)

	c.mu.Lock()
	for _, p := range paths {
		st, ok := c.subscribed[p]
		if !ok {
			c.subscribed[p] = &subStatus{}
			toResolve = append(toResolve, p)
			continue
		}
		if st.val != nil {
			vals[p] = st.val
			continue
		}
		ch := make(chan subResult, 1)
		st.waiters = append(st.waiters, ch)
		waitFor = append(waitFor, p)
		waiters[p] = ch
	}
	c.mu.Unlock()

	if len(toResolve) > 0 {
		c.resolveAndSubscribe(ctx, toResolve, vals, errs)
	}

	for _, p := range waitFor {
		select {
		case r := <-waiters[p]:
			if r.err != nil {
				errs[p] = r.err
			} else {
				vals[p] = r.val
			}
		case <-ctx.Done():
			errs[p] = ctx.Err()
		}
	}
	return vals, errs
}

// resolveAndSubscribe resolves every path in paths in one batched round trip
// (§4.2 route_batch/send, §4.4 "subject to overall timeout"), then dials and
// subscribes to the picked publisher of each. The resolve step is batched;
// connecting to a publisher remains per-path since each path may land on a
// different publisher and connection.
func (c *Client) resolveAndSubscribe(ctx context.Context, paths []path.Path, vals map[path.Path]*Val, errs map[path.Path]error) {
	results := c.resolver.ResolveBatch(ctx, paths)
	for i, p := range paths {
		r := results[i]
		if r.Err != nil {
			c.failPath(p, r.Err)
			errs[p] = r.Err
			continue
		}
		if len(r.Publishers) == 0 {
			err := fmt.Errorf("subscriber: no publishers for %s", p)
			c.failPath(p, err)
			errs[p] = err
			continue
		}
		addr := c.pickPublisher(r.Publishers, 0)
		val, err := c.subscribeOne(ctx, p, addr, r.Publishers)
		if err != nil {
			c.markFailed(addr)
			c.failPath(p, err)
			errs[p] = err
			continue
		}
		c.succeedPath(p, val)
		vals[p] = val
	}
}

// pickPublisher implements §4.4's selection rule: prefer an existing
// connection under UseExisting, else pick uniformly among publishers not in
// recently_failed, falling back to a uniform pick over all of them.
func (c *Client) pickPublisher(pubs []resolver.Publisher, flags ResolveFlags) resolver.Addr {
	if flags&UseExisting != 0 {
		c.mu.Lock()
		for _, p := range pubs {
			if _, ok := c.connections[p.Addr]; ok {
				c.mu.Unlock()
				return p.Addr
			}
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	now := time.Now()
	var fresh []resolver.Publisher
	for _, p := range pubs {
		if failedAt, ok := c.recentlyFailed[p.Addr]; !ok || now.Sub(failedAt) > RememberFailed {
			fresh = append(fresh, p)
		}
	}
	c.mu.Unlock()

	if len(fresh) == 0 {
		fresh = pubs
	}
	return fresh[rand.N(len(fresh))].Addr
}

func (c *Client) subscribeOne(ctx context.Context, p path.Path, addr resolver.Addr, pubs []resolver.Publisher) (*Val, error) {
	tok := tokenFor(pubs, addr)
	conn, err := c.connFor(ctx, addr)
	if err != nil {
		return nil, err
	}
	id, last, err := conn.Subscribe(ctx, string(p), tok, "", pubconn.BeginWithLast)
	if err != nil {
		return nil, err
	}
	return newVal(p, conn, id, last), nil
}

func tokenFor(pubs []resolver.Publisher, addr resolver.Addr) token.Opaque {
	for _, p := range pubs {
		if p.Addr == addr {
			return p.Token
		}
	}
	return ""
}

func (c *Client) connFor(ctx context.Context, addr resolver.Addr) (*pubconn.Conn, error) {
	c.mu.Lock()
	entry, ok := c.connections[addr]
	if !ok {
		entry = &connEntry{isolated: map[uint64]*pubconn.Conn{}}
		c.connections[addr] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.primary != nil {
		select {
		case <-entry.primary.Done():
			// stale; redial below
		default:
			return entry.primary, nil
		}
	}
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	entry.primary = conn
	return conn, nil
}

func (c *Client) markFailed(addr resolver.Addr) {
	c.mu.Lock()
	c.recentlyFailed[addr] = time.Now()
	c.mu.Unlock()
}

func (c *Client) failPath(p path.Path, err error) {
	c.mu.Lock()
	st, ok := c.subscribed[p]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subscribed, p)
	waiters := st.waiters
	c.mu.Unlock()
	for _, w := range waiters {
		w <- subResult{err: err}
	}
}

func (c *Client) succeedPath(p path.Path, v *Val) {
	c.mu.Lock()
	st, ok := c.subscribed[p]
	if !ok {
		st = &subStatus{}
		c.subscribed[p] = st
	}
	st.val = v
	waiters := st.waiters
	st.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		w <- subResult{val: v}
	}
}

// Flush broadcasts a Flush request to every open publisher connection and
// awaits every reply.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	conns := make([]*pubconn.Conn, 0, len(c.connections))
	for _, e := range c.connections {
		e.mu.Lock()
		if e.primary != nil {
			conns = append(conns, e.primary)
		}
		for _, ic := range e.isolated {
			conns = append(conns, ic)
		}
		e.mu.Unlock()
	}
	c.mu.Unlock()

	var first error
	for _, conn := range conns {
		if err := conn.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Durable returns a Dval for path, registering it in durable_dead if it is
// not already tracked. The supervisor drives it toward Subscribed.
func (c *Client) Durable(p path.Path) *Dval {
	return c.durable.subscribe(p)
}
