// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recorder implements the archive recorder (§4.6): it polls the
// resolver for paths matching a configured glob list, subscribes to them,
// batches incoming updates, and appends them to an archive.Writer while
// broadcasting each committed batch to replay sessions.
package recorder

import (
	"context"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/glob"
	"github.com/nhr-fau/netpub/internal/metrics"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/subscriber"
	"github.com/nhr-fau/netpub/internal/taskmanager"
)

// EndBatch is the idle timeout that closes out one in-flight batch of
// updates, per §4.6 step 3.
const EndBatch = 10 * time.Millisecond

// Config holds a recorder's spec and timing knobs.
type Config struct {
	Globs          []*glob.Glob
	PollInterval   time.Duration // 0 disables polling after the first scan
	ImageFrequency int64         // bytes written between full images; 0 disables
	FlushFrequency int64         // bytes written between flushes; 0 disables
	FlushInterval  time.Duration // periodic flush regardless of byte thresholds
}

// subscribeFunc and resolveListFunc are the narrow seams Recorder depends
// on, matching the dependency-inversion shape used in internal/subscriber so
// tests can run without a resolver or publisher.
type subscribeFunc func(ctx context.Context, paths []path.Path) (map[path.Path]*subscriber.Val, map[path.Path]error)
type listFunc func(ctx context.Context, base path.Path) ([]path.Path, error)

// Recorder drives one archive file from one glob spec.
type Recorder struct {
	cfg     Config
	writer  *archive.Writer
	list    listFunc
	subscribe subscribeFunc
	ts      archive.Timestamper

	mu       sync.Mutex
	known    map[path.Path]bool
	idForSub map[path.Path]archive.Id
	image    map[archive.Id]archive.Event

	bytesSinceImage int64
	bytesSinceFlush int64

	updates chan update
	cancel  context.CancelFunc

	// Broadcast delivers every committed Delta/Image batch to replay
	// sessions (§4.6 step 3 "broadcast BCastMsg::Batch").
	Broadcast chan archive.TimedBatch
}

type update struct {
	p   path.Path
	val archive.Event
}

// New builds a Recorder. list polls the resolver for children of a glob's
// base path; subscribe is the subscriber core's batch-subscribe entry point.
func New(cfg Config, w *archive.Writer, list listFunc, subscribe subscribeFunc) *Recorder {
	return &Recorder{
		cfg:       cfg,
		writer:    w,
		list:      list,
		subscribe: subscribe,
		known:     map[path.Path]bool{},
		idForSub:  map[path.Path]archive.Id{},
		image:     map[archive.Id]archive.Event{},
		updates:   make(chan update, 1024),
		Broadcast: make(chan archive.TimedBatch, 64),
	}
}

// Run starts the list task and the batching loop; it returns once ctx is
// cancelled.
func (r *Recorder) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.listLoop(ctx) }()
	go func() { defer wg.Done(); r.batchLoop(ctx) }()
	wg.Wait()
}

// Stop cancels Run's context.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// DebugInfo is a snapshot of recorder bookkeeping, modeled on
// internal/memorystore/debug.go's dump of buffer/level state for the
// GET /debug/recorder admin endpoint.
type DebugInfo struct {
	Globs           []string
	KnownPaths      int
	ArchiveBytes    int64
	BytesSinceFlush int64
	BytesSinceImage int64
}

// DebugInfo returns a point-in-time snapshot for the admin surface.
func (r *Recorder) DebugInfo() DebugInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	globs := make([]string, 0, len(r.cfg.Globs))
	for _, g := range r.cfg.Globs {
		globs = append(globs, g.String())
	}
	return DebugInfo{
		Globs:           globs,
		KnownPaths:      len(r.known),
		ArchiveBytes:    r.writer.Len(),
		BytesSinceFlush: r.bytesSinceFlush,
		BytesSinceImage: r.bytesSinceImage,
	}
}

// listLoop is the "list task" of §4.6 step 1: poll each glob's base for new
// matches and subscribe to them. ChangeTracker coalescing (globs sharing a
// base poll together) falls out naturally here since each distinct base is
// polled once per tick regardless of how many globs share it.
func (r *Recorder) listLoop(ctx context.Context) {
	bases := coalesceBases(r.cfg.Globs)

	poll := func() {
		for _, base := range bases {
			children, err := r.list(ctx, base)
			if err != nil {
				cclog.Warnf("recorder: list %s: %v", base, err)
				continue
			}
			var fresh []path.Path
			r.mu.Lock()
			for _, p := range children {
				if r.known[p] && matchesAny(r.cfg.Globs, p) {
					continue
				}
				if !matchesAny(r.cfg.Globs, p) {
					continue
				}
				r.known[p] = true
				fresh = append(fresh, p)
			}
			r.mu.Unlock()
			if len(fresh) > 0 {
				r.subscribeNew(ctx, fresh)
			}
		}
	}

	poll()
	if r.cfg.PollInterval <= 0 {
		<-ctx.Done()
		return
	}

	if err := taskmanager.Start(); err != nil {
		cclog.Warnf("recorder: %v; falling back to a plain ticker", err)
		t := time.NewTicker(r.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				poll()
			}
		}
	}
	defer taskmanager.Stop()
	cancelJob, err := taskmanager.Every(gocron.DurationJob(r.cfg.PollInterval), poll)
	if err != nil {
		cclog.Errorf("recorder: register poll job: %v", err)
		return
	}
	defer cancelJob()
	<-ctx.Done()
}

func coalesceBases(globs []*glob.Glob) []path.Path {
	seen := map[path.Path]bool{}
	var out []path.Path
	for _, g := range globs {
		if !seen[g.Base()] {
			seen[g.Base()] = true
			out = append(out, g.Base())
		}
	}
	return out
}

func matchesAny(globs []*glob.Glob, p path.Path) bool {
	for _, g := range globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// subscribeNew subscribes newly discovered paths with
// BeginWithLast|StopCollectingLast and assigns them archive ids, feeding
// their updates into the shared batch channel.
func (r *Recorder) subscribeNew(ctx context.Context, paths []path.Path) {
	if err := r.writer.AddPaths(paths); err != nil {
		cclog.Errorf("recorder: AddPaths: %v", err)
		return
	}
	vals, errs := r.subscribe(ctx, paths)
	for p, err := range errs {
		cclog.Warnf("recorder: subscribe %s: %v", p, err)
	}
	for p, v := range vals {
		id, _ := r.writer.IdForPath(p)
		r.mu.Lock()
		r.idForSub[p] = id
		r.mu.Unlock()

		ch := make(chan pubconn.Event, 64)
		v.Stream(ch, pubconn.BeginWithLast|pubconn.StopCollectingLast)
		go r.forward(p, ch)
	}
}

func (r *Recorder) forward(p path.Path, ch chan pubconn.Event) {
	for ev := range ch {
		if ev.Kind != pubconn.EvUpdate {
			continue
		}
		r.updates <- update{p: p, val: ev.Value}
	}
}

// batchLoop implements §4.6 step 3/4: collect updates until EndBatch idle,
// commit the batch, and flush on the configured timer regardless.
func (r *Recorder) batchLoop(ctx context.Context) {
	var flushC chan struct{}
	if r.cfg.FlushInterval > 0 {
		flushC = make(chan struct{}, 1)
		if err := taskmanager.Start(); err != nil {
			cclog.Warnf("recorder: %v; flush-interval timer disabled", err)
			flushC = nil
		} else {
			defer taskmanager.Stop()
			cancelJob, err := taskmanager.Every(gocron.DurationJob(r.cfg.FlushInterval), func() {
				select {
				case flushC <- struct{}{}:
				default:
				}
			})
			if err != nil {
				cclog.Errorf("recorder: register flush job: %v", err)
				flushC = nil
			} else {
				defer cancelJob()
			}
		}
	}

	var pending []update
	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-r.updates:
			pending = append(pending, u)
			idle.Reset(EndBatch)
		case <-idleFire(idle, len(pending) > 0):
			if len(pending) > 0 {
				r.commit(pending)
				pending = nil
			}
		case <-flushC:
			r.writer.Flush()
		}
	}
}

// idleFire returns idle.C only when there is a pending batch to close out;
// otherwise it returns a nil channel so the select simply ignores it.
func idleFire(idle *time.Timer, active bool) <-chan time.Time {
	if !active {
		return nil
	}
	return idle.C
}

// commit converts pending updates into a BatchItem batch and appends it,
// splitting on ErrRecordTooLarge per §4.6 step 3.
func (r *Recorder) commit(pending []update) {
	now := r.ts.Now()
	items := make([]archive.BatchItem, 0, len(pending))
	r.mu.Lock()
	for _, u := range pending {
		id, ok := r.idForSub[u.p]
		if !ok {
			continue
		}
		items = append(items, archive.BatchItem{Id: id, Event: u.val})
		r.image[id] = u.val
	}
	r.mu.Unlock()

	r.addBatchSplitting(false, now, items)
	r.publish(archive.TimedBatch{Ts: now, Items: items})
	metrics.RecorderBatchesWrittenTotal.Inc()
	metrics.RecorderBatchSize.Observe(float64(len(items)))

	r.bytesSinceImage += int64(len(items)) * 32
	r.bytesSinceFlush += int64(len(items)) * 32

	if r.cfg.ImageFrequency > 0 && r.bytesSinceImage >= r.cfg.ImageFrequency {
		r.emitImage()
	}
	if r.cfg.FlushFrequency > 0 && r.bytesSinceFlush >= r.cfg.FlushFrequency {
		r.writer.Flush()
		r.bytesSinceFlush = 0
	}
}

// publish delivers a committed batch to replay sessions, dropping it rather
// than blocking the batch loop if no session is draining Broadcast fast
// enough.
func (r *Recorder) publish(tb archive.TimedBatch) {
	select {
	case r.Broadcast <- tb:
	default:
		metrics.RecorderBroadcastDroppedTotal.Inc()
		cclog.Warnf("recorder: broadcast channel full, dropping batch of %d items", len(tb.Items))
	}
}

func (r *Recorder) emitImage() {
	r.mu.Lock()
	items := make([]archive.BatchItem, 0, len(r.image))
	for id, v := range r.image {
		items = append(items, archive.BatchItem{Id: id, Event: v})
	}
	r.mu.Unlock()

	r.addBatchSplitting(true, r.ts.Now(), items)
	r.bytesSinceImage = 0
}

func (r *Recorder) addBatchSplitting(isImage bool, ts time.Time, items []archive.BatchItem) {
	if len(items) == 0 {
		return
	}
	err := r.writer.AddBatch(isImage, ts, items)
	if err == nil {
		return
	}
	if err != archive.ErrRecordTooLarge || len(items) == 1 {
		cclog.Errorf("recorder: add_batch: %v", err)
		return
	}
	mid := len(items) / 2
	r.addBatchSplitting(isImage, ts, items[:mid])
	r.addBatchSplitting(isImage, ts, items[mid:])
}
