// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/token"
)

// fakeTransport is an in-memory stand-in for a single resolver server,
// letting resolver_test exercise Client's referral-following logic without
// opening a socket.
type fakeTransport struct {
	addr       Addr
	publishers map[path.Path][]Publisher
	referrals  map[path.Path]Referral
	children   map[path.Path][]path.Path
	published  map[path.Path][]Addr
}

func newFakeTransport(addr Addr) *fakeTransport {
	return &fakeTransport{
		addr:       addr,
		publishers: map[path.Path][]Publisher{},
		referrals:  map[path.Path]Referral{},
		children:   map[path.Path][]path.Path{},
		published:  map[path.Path][]Addr{},
	}
}

func (f *fakeTransport) resolve(ctx context.Context, p path.Path) (resolveReply, error) {
	for base, ref := range f.referrals {
		if base.IsParent(p) {
			r := ref
			return resolveReply{referral: &r}, nil
		}
	}
	return resolveReply{publishers: f.publishers[p]}, nil
}

func (f *fakeTransport) list(ctx context.Context, p path.Path) ([]path.Path, error) {
	return f.children[p], nil
}

func (f *fakeTransport) table(ctx context.Context, p path.Path) (Table, error) {
	return Table{Rows: f.children[p]}, nil
}

func (f *fakeTransport) publish(ctx context.Context, p path.Path, addr Addr, def bool) error {
	f.published[p] = append(f.published[p], addr)
	return nil
}

func (f *fakeTransport) unpublish(ctx context.Context, p path.Path, addr Addr) error {
	return nil
}

func (f *fakeTransport) clear(ctx context.Context, p path.Path) error { return nil }

func (f *fakeTransport) close() error { return nil }

func fakeDialer(servers map[Addr]*fakeTransport) Dialer {
	return func(ctx context.Context, addr Addr) (transport, error) {
		if s, ok := servers[addr]; ok {
			return s, nil
		}
		return newFakeTransport(addr), nil
	}
}

func TestResolveDirect(t *testing.T) {
	root := newFakeTransport("root:1")
	root.publishers["/cluster/node01/cpu"] = []Publisher{{Addr: "pub:1", Token: token.Opaque("tok")}}

	c := NewClientWithDialer([]Addr{"root:1"}, fakeDialer(map[Addr]*fakeTransport{"root:1": root}))
	pubs, err := c.Resolve(context.Background(), "/cluster/node01/cpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(pubs) != 1 || pubs[0].Addr != "pub:1" {
		t.Fatalf("got %+v", pubs)
	}
}

func TestResolveFollowsReferral(t *testing.T) {
	root := newFakeTransport("root:1")
	root.referrals["/cluster"] = Referral{Base: "/cluster", Addrs: []Addr{"sub:1"}, TTL: time.Minute}
	sub := newFakeTransport("sub:1")
	sub.publishers["/cluster/node01/cpu"] = []Publisher{{Addr: "pub:1"}}

	servers := map[Addr]*fakeTransport{"root:1": root, "sub:1": sub}
	c := NewClientWithDialer([]Addr{"root:1"}, fakeDialer(servers))

	pubs, err := c.Resolve(context.Background(), "/cluster/node01/cpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(pubs) != 1 || pubs[0].Addr != "pub:1" {
		t.Fatalf("got %+v", pubs)
	}

	// The referral should now be cached, so a second resolve must route
	// straight to sub:1 without consulting root:1's referral table again.
	delete(root.referrals, "/cluster")
	pubs, err = c.Resolve(context.Background(), "/cluster/node01/cpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(pubs) != 1 || pubs[0].Addr != "pub:1" {
		t.Fatalf("cached route: got %+v", pubs)
	}
}

func TestPublishRoutesToReferral(t *testing.T) {
	root := newFakeTransport("root:1")
	root.referrals["/cluster"] = Referral{Base: "/cluster", Addrs: []Addr{"sub:1"}, TTL: time.Minute}
	sub := newFakeTransport("sub:1")

	servers := map[Addr]*fakeTransport{"root:1": root, "sub:1": sub}
	c := NewClientWithDialer([]Addr{"root:1"}, fakeDialer(servers))

	// Resolving once first warms the referral cache for "/cluster", which
	// Publish below then reuses to route directly to the delegated resolver.
	if _, err := c.Resolve(context.Background(), "/cluster/node01/cpu"); err != nil {
		t.Fatal(err)
	}

	if err := c.Publish(context.Background(), "/cluster/node01/cpu", "pub:1", false); err != nil {
		t.Fatal(err)
	}
	if len(sub.published["/cluster/node01/cpu"]) != 1 {
		t.Fatalf("expected publish to route to the referred resolver, got %+v", sub.published)
	}
}

func TestResolveBatchGroupsByDestination(t *testing.T) {
	root := newFakeTransport("root:1")
	root.publishers["/a"] = []Publisher{{Addr: "pub:1"}}
	root.publishers["/b"] = []Publisher{{Addr: "pub:2"}}

	c := NewClientWithDialer([]Addr{"root:1"}, fakeDialer(map[Addr]*fakeTransport{"root:1": root}))
	results := c.ResolveBatch(context.Background(), []path.Path{"/a", "/b"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Err != nil || len(results[0].Publishers) != 1 || results[0].Publishers[0].Addr != "pub:1" {
		t.Fatalf("result[0] = %+v", results[0])
	}
	if results[1].Err != nil || len(results[1].Publishers) != 1 || results[1].Publishers[0].Addr != "pub:2" {
		t.Fatalf("result[1] = %+v", results[1])
	}
}

func TestResolveBatchFollowsReferral(t *testing.T) {
	root := newFakeTransport("root:1")
	root.referrals["/cluster"] = Referral{Base: "/cluster", Addrs: []Addr{"sub:1"}, TTL: time.Minute}
	sub := newFakeTransport("sub:1")
	sub.publishers["/cluster/node01/cpu"] = []Publisher{{Addr: "pub:1"}}
	sub.publishers["/cluster/node02/cpu"] = []Publisher{{Addr: "pub:2"}}

	servers := map[Addr]*fakeTransport{"root:1": root, "sub:1": sub}
	c := NewClientWithDialer([]Addr{"root:1"}, fakeDialer(servers))

	results := c.ResolveBatch(context.Background(), []path.Path{"/cluster/node01/cpu", "/cluster/node02/cpu"})
	want := []Addr{"pub:1", "pub:2"}
	for i := range want {
		if results[i].Err != nil || len(results[i].Publishers) != 1 || results[i].Publishers[0].Addr != want[i] {
			t.Fatalf("result[%d] = %+v, want publisher %s", i, results[i], want[i])
		}
	}
}

// TestConnPoolEvictsPastMaxReferrals pins §4.2's "a workable sledgehammer"
// rule: once the pool holds more than MaxReferrals connections, it is fully
// cleared before the next one is inserted, rather than growing forever.
func TestConnPoolEvictsPastMaxReferrals(t *testing.T) {
	pool := newConnPool(func(ctx context.Context, addr Addr) (transport, error) {
		return newFakeTransport(addr), nil
	})
	for i := 0; i <= MaxReferrals+1; i++ {
		addr := Addr(fmt.Sprintf("addr:%d", i))
		if _, err := pool.get(context.Background(), addr); err != nil {
			t.Fatal(err)
		}
	}
	pool.mu.Lock()
	n := len(pool.conns)
	pool.mu.Unlock()
	if n > MaxReferrals {
		t.Fatalf("connPool grew to %d entries, want <= %d once the eviction guard fires", n, MaxReferrals)
	}
}
