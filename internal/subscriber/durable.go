// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package subscriber

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
	"weak"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/nhr-fau/netpub/internal/metrics"
	"github.com/nhr-fau/netpub/internal/path"
)

// DvalState is the lifecycle state of a durable subscription handle.
type DvalState int

const (
	Dead DvalState = iota
	Pending
	Subscribed
)

// Dval is a durable subscription: while Dead it is retried by the supervisor
// with backoff until a subscription succeeds. Once Subscribed it stays
// Subscribed; the loss of its publisher connection is not detected and does
// not return it to Dead.
type Dval struct {
	Path path.Path

	mu      sync.RWMutex
	state   DvalState
	val     *Val
	tries   int
	nextTry time.Time
	waiters []chan struct{}
}

// State returns the current lifecycle state.
func (d *Dval) State() DvalState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Val returns the live Val backing this Dval, or nil if not Subscribed.
func (d *Dval) Val() *Val {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.val
}

// WaitSubscribed returns nil once the supervisor has moved d to Subscribed
// (at once if it already is), or ctx's error if ctx is done first.
func (d *Dval) WaitSubscribed(ctx context.Context) error {
	d.mu.RLock()
	already := d.state == Subscribed
	d.mu.RUnlock()
	if already {
		return nil
	}

	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dval) notifyWaiters() {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = nil
	d.mu.Unlock()
	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// supervisor drives every registered Dval from Dead through Pending to
// Subscribed, or back to Dead when an attempt fails, per §4.4's retry loop. It holds only weak.Pointer[Dval] so a Dval whose
// last strong reference the caller dropped is collected instead of being
// pinned forever by the subscriber's own bookkeeping.
type supervisor struct {
	client *Client

	mu     sync.Mutex
	dead    map[path.Path]weak.Pointer[Dval]
	pending map[path.Path]weak.Pointer[Dval]
	alive   map[path.Path]weak.Pointer[Dval]

	trigger chan struct{}
}

func newSupervisor(c *Client) *supervisor {
	s := &supervisor{
		client:  c,
		dead:    map[path.Path]weak.Pointer[Dval]{},
		pending: map[path.Path]weak.Pointer[Dval]{},
		alive:   map[path.Path]weak.Pointer[Dval]{},
		trigger: make(chan struct{}, 1),
	}
	go s.run()
	return s
}

func (s *supervisor) subscribe(p path.Path) *Dval {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.alive[p]; ok {
		if d := w.Value(); d != nil {
			return d
		}
	}
	if w, ok := s.pending[p]; ok {
		if d := w.Value(); d != nil {
			return d
		}
	}
	if w, ok := s.dead[p]; ok {
		if d := w.Value(); d != nil {
			return d
		}
	}

	d := &Dval{Path: p, state: Dead}
	s.dead[p] = weak.Make(d)
	s.nudge()
	return d
}

func (s *supervisor) nudge() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// pick(n) is the jittered retry backoff of §4.4: uniform in [0, n) seconds.
func pick(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.N(n)) * time.Second
}

func (s *supervisor) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-s.trigger:
		case <-timer.C:
		}
		next := s.tick()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next <= 0 {
			next = time.Second
		}
		timer.Reset(next)
	}
}

const maxDurableBatch = 100_000

// tick runs one supervisor cycle (§4.4 steps 1-4) and returns the delay
// until the earliest next_try still outstanding in durable_dead.
func (s *supervisor) tick() time.Duration {
	now := time.Now()

	s.mu.Lock()
	type candidate struct {
		p path.Path
		d *Dval
	}
	var batch []candidate
	maxTries := 0
	for p, w := range s.dead {
		d := w.Value()
		if d == nil {
			delete(s.dead, p)
			continue
		}
		d.mu.RLock()
		ready := !d.nextTry.After(now)
		tries := d.tries
		d.mu.RUnlock()
		if !ready {
			continue
		}
		if len(batch) >= maxDurableBatch {
			break
		}
		batch = append(batch, candidate{p, d})
		if tries > maxTries {
			maxTries = tries
		}
	}
	for _, cand := range batch {
		delete(s.dead, cand.p)
		s.pending[cand.p] = weak.Make(cand.d)
		cand.d.mu.Lock()
		cand.d.state = Pending
		cand.d.mu.Unlock()
	}
	s.mu.Unlock()

	if len(batch) > 0 {
		timeout := time.Duration(30+max(10, len(batch)/10_000)*max(1, maxTries)) * time.Second
		paths := make([]path.Path, len(batch))
		for i, cand := range batch {
			paths[i] = cand.p
		}
		metrics.DurableResubscribesTotal.Add(float64(len(paths)))
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		vals, errs := s.client.Subscribe(ctx, paths)
		cancel()

		for _, cand := range batch {
			if v, ok := vals[cand.p]; ok {
				s.onSuccess(cand.p, cand.d, v)
			} else {
				s.onFailure(cand.p, cand.d, errs[cand.p])
			}
		}
	}

	return s.earliestWait(now)
}

func (s *supervisor) onSuccess(p path.Path, d *Dval, v *Val) {
	d.mu.Lock()
	if d.val != nil {
		// Reconnecting: keep the Dval's identity and its callers' attached
		// stream channels, just rebind them onto the fresh connection.
		d.val.rebind(v.conn, v.connID, v.last)
	} else {
		d.val = v
	}
	d.state = Subscribed
	d.tries = 0
	d.mu.Unlock()

	s.mu.Lock()
	delete(s.pending, p)
	s.alive[p] = weak.Make(d)
	s.mu.Unlock()

	d.notifyWaiters()
}

func (s *supervisor) onFailure(p path.Path, d *Dval, err error) {
	d.mu.Lock()
	d.tries++
	d.nextTry = time.Now().Add(pick(d.tries))
	tries := d.tries
	d.state = Dead
	d.mu.Unlock()

	cclog.Warnf("[SUBSCRIBER]> durable resubscribe failed for %s (try %d): %v", p, tries, err)

	s.mu.Lock()
	delete(s.pending, p)
	s.dead[p] = weak.Make(d)
	s.mu.Unlock()

	s.nudge()
}

func (s *supervisor) earliestWait(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	earliest := time.Duration(math.MaxInt64)
	any := false
	for p, w := range s.dead {
		d := w.Value()
		if d == nil {
			delete(s.dead, p)
			continue
		}
		d.mu.RLock()
		wait := d.nextTry.Sub(now)
		d.mu.RUnlock()
		if wait < 0 {
			wait = 0
		}
		if !any || wait < earliest {
			earliest, any = wait, true
		}
	}
	metrics.DurableDeadCount.Set(float64(len(s.dead)))
	if !any {
		return time.Hour
	}
	return earliest
}
