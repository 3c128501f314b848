// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package resolver implements the federated resolver client (§2, §4.2): path
// resolution, list and structure queries, and publish/unpublish, with
// referral-following across delegated subtrees and a bounded referral chain.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/token"
)

// MaxReferrals bounds how many referral hops a single request may follow
// before the client gives up; it exists to turn a resolver misconfiguration
// into a bounded error instead of an infinite loop.
const MaxReferrals = 128

// ErrTooManyReferrals is returned when resolving a path would exceed
// MaxReferrals hops.
var ErrTooManyReferrals = errors.New("resolver: too many referrals")

// Addr is a "host:port" resolver or publisher address.
type Addr string

// Publisher is one entry of a Resolve reply: a publisher address together
// with the capability token the subscriber must present to it.
type Publisher struct {
	Addr  Addr
	Token token.Opaque
}

// Referral is delegation of a subtree to another resolver cluster, with the
// lease duration the delegating resolver is willing to vouch for it.
type Referral struct {
	Base  path.Path
	Addrs []Addr
	TTL   time.Duration
}

func (r Referral) expired(fetchedAt, now time.Time) bool {
	return now.After(fetchedAt.Add(r.TTL))
}

// Table is the reply to a Table request: child paths one level below the
// queried path, together with path-local structural metadata.
type Table struct {
	Rows []path.Path
	Cols []string
}

// transport is the seam the client talks to a resolver server through; the
// production implementation is *conn (proto.go), tests substitute a fake.
type transport interface {
	resolve(ctx context.Context, p path.Path) (resolveReply, error)
	list(ctx context.Context, p path.Path) ([]path.Path, error)
	table(ctx context.Context, p path.Path) (Table, error)
	publish(ctx context.Context, p path.Path, addr Addr, def bool) error
	unpublish(ctx context.Context, p path.Path, addr Addr) error
	clear(ctx context.Context, p path.Path) error
	close() error
}

type resolveReply struct {
	publishers []Publisher
	referral   *Referral
}

// Dialer opens a transport to one resolver server address. Production code
// uses dialConn; tests inject a stub.
type Dialer func(ctx context.Context, addr Addr) (transport, error)

// Client is a resolver client bound to a set of root resolver addresses. It
// caches referrals by their base path and transparently follows them.
type Client struct {
	roots  []Addr
	dial   Dialer
	cache  *referralCache
	pool   *connPool
}

// NewClient builds a Client that starts resolution at roots.
func NewClient(roots []Addr) *Client {
	return NewClientWithDialer(roots, dialConn)
}

// NewClientWithDialer is NewClient with an injectable Dialer, for tests.
func NewClientWithDialer(roots []Addr, dial Dialer) *Client {
	return &Client{
		roots: roots,
		dial:  dial,
		cache: newReferralCache(MaxReferrals),
		pool:  newConnPool(dial),
	}
}

// Close releases every pooled connection.
func (c *Client) Close() error { return c.pool.closeAll() }

// Resolve returns the publishers of p, following referrals as needed.
func (c *Client) Resolve(ctx context.Context, p path.Path) ([]Publisher, error) {
	return c.resolveHop(ctx, p, 0)
}

func (c *Client) resolveHop(ctx context.Context, p path.Path, hops int) ([]Publisher, error) {
	if hops > MaxReferrals {
		return nil, ErrTooManyReferrals
	}
	addrs, hops, err := c.routeFor(ctx, p, hops)
	if err != nil {
		return nil, err
	}
	pubs, ref, err := c.resolveOneVia(ctx, addrs, p)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		c.cache.Put(string(ref.Base), *ref, ref.TTL)
		return c.resolveHop(ctx, p, hops+1)
	}
	return pubs, nil
}

// resolveOneVia issues a single resolve for p against the first reachable
// address of addrs, returning either the publishers, a referral to follow,
// or the last error if none of addrs was reachable.
func (c *Client) resolveOneVia(ctx context.Context, addrs []Addr, p path.Path) ([]Publisher, *Referral, error) {
	var last error
	for _, addr := range addrs {
		t, err := c.pool.get(ctx, addr)
		if err != nil {
			last = err
			continue
		}
		reply, err := t.resolve(ctx, p)
		if err != nil {
			last = err
			continue
		}
		if reply.referral != nil {
			return nil, reply.referral, nil
		}
		return reply.publishers, nil, nil
	}
	if last == nil {
		last = fmt.Errorf("resolver: no reachable resolver for %s", p)
	}
	return nil, nil, last
}

// ResolveBatchResult is one path's outcome from ResolveBatch.
type ResolveBatchResult struct {
	Publishers []Publisher
	Err        error
}

// ResolveBatch resolves many paths in one round, per §4.2's route_batch/send:
// paths are grouped by the resolver addresses currently responsible for
// them, each group is dispatched concurrently, and any referrals that come
// back are followed by re-grouping and re-dispatching just the paths that
// received one — up to MaxReferrals iterations overall, the same bound
// Resolve enforces for a single path. Results are returned in the order
// paths was given, not the order groups complete in.
func (c *Client) ResolveBatch(ctx context.Context, paths []path.Path) []ResolveBatchResult {
	results := make([]ResolveBatchResult, len(paths))
	pending := make([]int, len(paths))
	for i := range paths {
		pending[i] = i
	}
	c.resolveBatchRound(ctx, paths, pending, results, 0)
	return results
}

type resolveGroup struct {
	addrs []Addr
	idxs  []int
}

func (c *Client) resolveBatchRound(ctx context.Context, paths []path.Path, indices []int, results []ResolveBatchResult, hops int) {
	if len(indices) == 0 {
		return
	}
	if hops > MaxReferrals {
		for _, i := range indices {
			results[i] = ResolveBatchResult{Err: ErrTooManyReferrals}
		}
		return
	}

	groups := map[string]*resolveGroup{}
	var order []string
	for _, i := range indices {
		addrs, _, err := c.routeFor(ctx, paths[i], hops)
		if err != nil {
			results[i] = ResolveBatchResult{Err: err}
			continue
		}
		key := addrsKey(addrs)
		g, ok := groups[key]
		if !ok {
			g = &resolveGroup{addrs: addrs}
			groups[key] = g
			order = append(order, key)
		}
		g.idxs = append(g.idxs, i)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var referred []int
	for _, key := range order {
		g := groups[key]
		wg.Add(1)
		go func(g *resolveGroup) {
			defer wg.Done()
			for _, i := range g.idxs {
				pubs, ref, err := c.resolveOneVia(ctx, g.addrs, paths[i])
				mu.Lock()
				switch {
				case err != nil:
					results[i] = ResolveBatchResult{Err: err}
				case ref != nil:
					referred = append(referred, i)
				default:
					results[i] = ResolveBatchResult{Publishers: pubs}
				}
				mu.Unlock()
				if ref != nil {
					c.cache.Put(string(ref.Base), *ref, ref.TTL)
				}
			}
		}(g)
	}
	wg.Wait()

	if len(referred) > 0 {
		c.resolveBatchRound(ctx, paths, referred, results, hops+1)
	}
}

func addrsKey(addrs []Addr) string {
	var b strings.Builder
	for i, a := range addrs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(a))
	}
	return b.String()
}

// routeFor returns the resolver addresses currently responsible for p: the
// cached referral for the longest cached ancestor of p, or the configured
// roots if none is cached. hops tracks how many referrals have already been
// followed so routeFor can enforce MaxReferrals across the whole chain.
func (c *Client) routeFor(ctx context.Context, p path.Path, hops int) ([]Addr, int, error) {
	if hops > MaxReferrals {
		return nil, hops, ErrTooManyReferrals
	}
	best := path.Path("")
	var bestReferral Referral
	found := false
	for _, anc := range append(p.Dirnames(), p) {
		if v, ok := c.cache.Get(string(anc), nil); ok {
			ref := v.(Referral)
			if len(anc) >= len(best) {
				best, bestReferral, found = anc, ref, true
			}
		}
	}
	if found {
		return bestReferral.Addrs, hops, nil
	}
	return c.roots, hops, nil
}

// List returns the immediate children of p.
func (c *Client) List(ctx context.Context, p path.Path) ([]path.Path, error) {
	addrs, _, err := c.routeFor(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	return c.withAddrs(ctx, addrs, func(t transport) (any, error) {
		return t.list(ctx, p)
	})
}

// StructureOf returns the table (rows and columns) rooted at p.
func (c *Client) StructureOf(ctx context.Context, p path.Path) (Table, error) {
	addrs, _, err := c.routeFor(ctx, p, 0)
	if err != nil {
		return Table{}, err
	}
	v, err := c.withAddrs(ctx, addrs, func(t transport) (any, error) {
		return t.table(ctx, p)
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

// Publish advertises that this process serves p at addr. def marks the
// entry as a default publication per §2's "default publisher" rule.
func (c *Client) Publish(ctx context.Context, p path.Path, addr Addr, def bool) error {
	addrs, _, err := c.routeFor(ctx, p, 0)
	if err != nil {
		return err
	}
	_, err = c.withAddrs(ctx, addrs, func(t transport) (any, error) {
		return nil, t.publish(ctx, p, addr, def)
	})
	return err
}

// Unpublish retracts a prior Publish of p at addr.
func (c *Client) Unpublish(ctx context.Context, p path.Path, addr Addr) error {
	addrs, _, err := c.routeFor(ctx, p, 0)
	if err != nil {
		return err
	}
	_, err = c.withAddrs(ctx, addrs, func(t transport) (any, error) {
		return nil, t.unpublish(ctx, p, addr)
	})
	return err
}

// Clear evicts every cached referral rooted at or below p.
func (c *Client) Clear(p path.Path) {
	c.cache.mutex.Lock()
	defer c.cache.mutex.Unlock()
	for k, e := range c.cache.entries {
		if p.IsParent(path.Path(k)) {
			c.cache.evictEntry(e)
		}
	}
}

func (c *Client) withAddrs(ctx context.Context, addrs []Addr, fn func(transport) (any, error)) (any, error) {
	var last error
	for _, addr := range addrs {
		t, err := c.pool.get(ctx, addr)
		if err != nil {
			last = err
			continue
		}
		v, err := fn(t)
		if err != nil {
			last = err
			continue
		}
		return v, nil
	}
	if last == nil {
		last = errors.New("resolver: no reachable resolver")
	}
	return nil, last
}
