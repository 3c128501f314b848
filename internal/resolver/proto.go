// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package resolver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/token"
	"github.com/nhr-fau/netpub/internal/wire"
)

// Wire message tags for the resolver control protocol. Each request/reply is
// one length-prefixed frame (wire.WriteFrame/ReadFrame); the first byte of
// the payload is the tag.
const (
	tagResolve    byte = 1
	tagResolved   byte = 2
	tagReferral   byte = 3
	tagList       byte = 4
	tagListReply  byte = 5
	tagTable      byte = 6
	tagTableReply byte = 7
	tagPublish    byte = 8
	tagUnpublish  byte = 9
	tagClear      byte = 10
	tagAck        byte = 11
	tagErr        byte = 12
)

// conn is a transport backed by a single TCP connection to one resolver
// server, in the spirit of the teacher repository's NATS client wrapper
// (pkg/nats/client.go): one long-lived connection, serialized request/reply
// pairs guarded by a mutex. Nothing redials a conn after an error: the
// connPool keeps returning the same conn for its address.
type conn struct {
	mu  sync.Mutex
	nc  net.Conn
	r   *bufio.Reader
	dl  time.Duration
}

func dialConn(ctx context.Context, addr Addr) (transport, error) {
	d := net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		return nil, fmt.Errorf("resolver: dial %s: %w", addr, err)
	}
	return &conn{nc: nc, r: bufio.NewReader(nc), dl: 10 * time.Second}, nil
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc.Close()
}

func (c *conn) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(dl)
	} else {
		c.nc.SetDeadline(time.Now().Add(c.dl))
	}
	if err := wire.WriteFrame(c.nc, req); err != nil {
		return nil, err
	}
	return wire.ReadFrame(c.r)
}

func putString(buf []byte, s string) []byte {
	buf = wire.PutUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func getString(r *bufReader) (string, error) {
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// bufReader adapts a byte slice to the io.ByteReader wire needs, and gives
// getString a plain Read to drain the fixed-length tail of a frame.
type bufReader struct {
	b []byte
	i int
}

func newBufReader(b []byte) *bufReader { return &bufReader{b: b} }

func (r *bufReader) ReadByte() (byte, error) {
	if r.i >= len(r.b) {
		return 0, fmt.Errorf("resolver: short frame")
	}
	b := r.b[r.i]
	r.i++
	return b, nil
}

func (r *bufReader) Read(p []byte) (int, error) {
	n := copy(p, r.b[r.i:])
	r.i += n
	if n < len(p) {
		return n, fmt.Errorf("resolver: short frame")
	}
	return n, nil
}

func (c *conn) resolve(ctx context.Context, p path.Path) (resolveReply, error) {
	req := []byte{tagResolve}
	req = putString(req, string(p))
	rep, err := c.roundTrip(ctx, req)
	if err != nil {
		return resolveReply{}, err
	}
	r := newBufReader(rep)
	tag, err := r.ReadByte()
	if err != nil {
		return resolveReply{}, err
	}
	switch tag {
	case tagReferral:
		base, err := getString(r)
		if err != nil {
			return resolveReply{}, err
		}
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return resolveReply{}, err
		}
		addrs := make([]Addr, 0, n)
		for i := uint64(0); i < n; i++ {
			a, err := getString(r)
			if err != nil {
				return resolveReply{}, err
			}
			addrs = append(addrs, Addr(a))
		}
		ttlSecs, err := wire.ReadUvarint(r)
		if err != nil {
			return resolveReply{}, err
		}
		return resolveReply{referral: &Referral{
			Base:  path.Path(base),
			Addrs: addrs,
			TTL:   time.Duration(ttlSecs) * time.Second,
		}}, nil
	case tagResolved:
		n, err := wire.ReadUvarint(r)
		if err != nil {
			return resolveReply{}, err
		}
		pubs := make([]Publisher, 0, n)
		for i := uint64(0); i < n; i++ {
			a, err := getString(r)
			if err != nil {
				return resolveReply{}, err
			}
			tok, err := getString(r)
			if err != nil {
				return resolveReply{}, err
			}
			pubs = append(pubs, Publisher{Addr: Addr(a), Token: token.Opaque(tok)})
		}
		return resolveReply{publishers: pubs}, nil
	case tagErr:
		msg, _ := getString(r)
		return resolveReply{}, fmt.Errorf("resolver: %s", msg)
	default:
		return resolveReply{}, fmt.Errorf("resolver: unexpected reply tag %d", tag)
	}
}

func (c *conn) list(ctx context.Context, p path.Path) ([]path.Path, error) {
	req := []byte{tagList}
	req = putString(req, string(p))
	rep, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	r := newBufReader(rep)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag == tagErr {
		msg, _ := getString(r)
		return nil, fmt.Errorf("resolver: %s", msg)
	}
	if tag != tagListReply {
		return nil, fmt.Errorf("resolver: unexpected reply tag %d", tag)
	}
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]path.Path, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := getString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, path.Path(s))
	}
	return out, nil
}

func (c *conn) table(ctx context.Context, p path.Path) (Table, error) {
	req := []byte{tagTable}
	req = putString(req, string(p))
	rep, err := c.roundTrip(ctx, req)
	if err != nil {
		return Table{}, err
	}
	r := newBufReader(rep)
	tag, err := r.ReadByte()
	if err != nil {
		return Table{}, err
	}
	if tag == tagErr {
		msg, _ := getString(r)
		return Table{}, fmt.Errorf("resolver: %s", msg)
	}
	if tag != tagTableReply {
		return Table{}, fmt.Errorf("resolver: unexpected reply tag %d", tag)
	}
	nr, err := wire.ReadUvarint(r)
	if err != nil {
		return Table{}, err
	}
	rows := make([]path.Path, 0, nr)
	for i := uint64(0); i < nr; i++ {
		s, err := getString(r)
		if err != nil {
			return Table{}, err
		}
		rows = append(rows, path.Path(s))
	}
	nc, err := wire.ReadUvarint(r)
	if err != nil {
		return Table{}, err
	}
	cols := make([]string, 0, nc)
	for i := uint64(0); i < nc; i++ {
		s, err := getString(r)
		if err != nil {
			return Table{}, err
		}
		cols = append(cols, s)
	}
	return Table{Rows: rows, Cols: cols}, nil
}

func (c *conn) publish(ctx context.Context, p path.Path, addr Addr, def bool) error {
	req := []byte{tagPublish}
	req = putString(req, string(p))
	req = putString(req, string(addr))
	if def {
		req = append(req, 1)
	} else {
		req = append(req, 0)
	}
	return c.ackRoundTrip(ctx, req)
}

func (c *conn) unpublish(ctx context.Context, p path.Path, addr Addr) error {
	req := []byte{tagUnpublish}
	req = putString(req, string(p))
	req = putString(req, string(addr))
	return c.ackRoundTrip(ctx, req)
}

func (c *conn) clear(ctx context.Context, p path.Path) error {
	req := []byte{tagClear}
	req = putString(req, string(p))
	return c.ackRoundTrip(ctx, req)
}

func (c *conn) ackRoundTrip(ctx context.Context, req []byte) error {
	rep, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	r := newBufReader(rep)
	tag, err := r.ReadByte()
	if err != nil {
		return err
	}
	if tag == tagErr {
		msg, _ := getString(r)
		return fmt.Errorf("resolver: %s", msg)
	}
	if tag != tagAck {
		return fmt.Errorf("resolver: unexpected reply tag %d", tag)
	}
	return nil
}

// connPool lazily dials and reuses one transport per resolver address,
// grounded on the same "create on first use, reuse thereafter" shape as the
// teacher repository's NATS client singleton (pkg/nats/client.go), but keyed
// per-address instead of a single process-wide singleton since a resolver
// client talks to many cluster members.
type connPool struct {
	mu    sync.Mutex
	dial  Dialer
	conns map[Addr]transport
}

func newConnPool(dial Dialer) *connPool {
	return &connPool{dial: dial, conns: map[Addr]transport{}}
}

func (p *connPool) get(ctx context.Context, addr Addr) (transport, error) {
	p.mu.Lock()
	if t, ok := p.conns[addr]; ok {
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	t, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[addr]; ok {
		t.close()
		return existing, nil
	}
	if len(p.conns) > MaxReferrals {
		// A workable sledgehammer (§4.2): a federation churning enough
		// referrals to ever get here is not one worth keeping a per-address
		// connection cache for; drop every pooled connection and start over
		// rather than grow the pool without bound.
		for a, c := range p.conns {
			c.close()
			delete(p.conns, a)
		}
	}
	p.conns[addr] = t
	return t, nil
}

func (p *connPool) closeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for addr, t := range p.conns {
		if err := t.close(); err != nil && first == nil {
			first = err
		}
		delete(p.conns, addr)
	}
	return first
}
