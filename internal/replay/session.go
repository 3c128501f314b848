// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/metrics"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/taskmanager"
	"github.com/nhr-fau/netpub/internal/value"
)

// IdleGCPeriod is how often a session checks whether it has gone idle, per
// §4.7 "Idle GC".
const IdleGCPeriod = 30 * time.Second

// Sink is the narrow seam a Session uses to expose its control values and
// mirrored archive data. The full publisher-side library is out of scope
// (SPEC_FULL.md "Excluded as external collaborators"); production wiring
// backs this with whatever local publisher the process embeds, and tests
// back it with a recording fake.
type Sink struct {
	// PublishControl sets/creates a control value at <base>/<session_id>/<name>.
	PublishControl func(name string, v value.Value)
	// PublishData mirrors one archived path's current value at
	// <base>/<session_id>/data/<path>.
	PublishData func(p path.Path, v value.Value)
	// HasSubscribers reports whether any client currently holds one of this
	// session's published values; backs the idle-GC check.
	HasSubscribers func() bool
}

// Mirror is the clustered-mirroring seam (§4.7 "Clustered mirroring"); see
// internal/clusterbus for the NATS-backed implementation. A nil Mirror
// disables cross-shard propagation (single-shard deployments).
type Mirror interface {
	SeekTo(s archive.Seek)
	SetStart(b Bounds)
	SetEnd(b Bounds)
	SetSpeed(sp Speed)
	SetState(st State)
	NotIdle()
}

// Config is the parameters of the RPC call creating a session (§4.7).
type Config struct {
	Bounds     Bounds
	Speed      Speed
	Pos        archive.Seek
	State      State
	PlayAfter  time.Duration // Pause for PlayAfter after creation, then auto-Play
	ClientAddr string

	// SessionID, if non-empty, is used as the session's ID instead of a
	// freshly generated one. The caller needs the ID before the session
	// exists to bind a Sink/Mirror under the matching publish path and
	// cluster subject; the HTTP admin surface allocates one up front for
	// this reason.
	SessionID string
}

// Session is one client's replay of an archive file (§4.7). It owns a
// cursor into a shared *archive.Reader and runs its own goroutine driving
// emission according to its current State and Speed.
type Session struct {
	ID     string
	reader *archive.Reader
	sink   Sink
	mirror Mirror

	playAfter time.Duration

	mu     sync.Mutex
	bounds Bounds
	speed  Speed
	state  State
	cur    *archive.Cursor
	image  map[archive.Id]value.Value
	idToPath map[archive.Id]path.Path

	idleSinceTick bool
	lastTs        time.Time
	emittedAt     time.Time

	cancelGC func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a session, seeks its cursor per cfg, and publishes the
// initial control values and point-in-time image (§4.7 steps implied by the
// RPC contract).
func New(rd *archive.Reader, idx map[archive.Id]path.Path, sink Sink, mirror Mirror, cfg Config) *Session {
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:        id,
		reader:    rd,
		sink:      sink,
		mirror:    mirror,
		playAfter: cfg.PlayAfter,
		bounds:    cfg.Bounds,
		speed:     cfg.Speed,
		state:     cfg.State,
		cur:       &archive.Cursor{},
		idToPath:  idx,
		done:      make(chan struct{}),
	}
	Clamp(rd, s.cur, cfg.Pos, s.bounds)
	s.image = s.buildImageLocked()
	s.publishControls()
	s.publishImage()
	s.publishCurrentPos()
	return s
}

// publishCurrentPos implements §4.7 step 4: update the pos control to the
// cursor's current timestamp, or Null if the cursor has no current entry.
func (s *Session) publishCurrentPos() {
	s.mu.Lock()
	ts, ok := s.reader.CurrentTs(s.cur)
	s.mu.Unlock()
	if !ok {
		s.sink.publish("pos", value.Null())
		return
	}
	s.publishPos(ts)
}

// Run starts the session's emission loop and idle-GC ticker; it returns
// once ctx is cancelled or the session GCs itself.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)

	if err := taskmanager.Start(); err == nil {
		cancelJob, err := taskmanager.Every(gocron.DurationJob(IdleGCPeriod), func() { s.idleTick(cancel) })
		if err == nil {
			s.cancelGC = func() { cancelJob(); taskmanager.Stop() }
		} else {
			taskmanager.Stop()
		}
	}
	if s.cancelGC != nil {
		defer s.cancelGC()
	}

	if s.playAfter > 0 {
		t := time.AfterFunc(s.playAfter, func() { s.autoPlay() })
		defer t.Stop()
	}

	s.runLoop(ctx)
}

// Stop tears down the session's goroutine without waiting on idle-GC.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// runLoop is the §4.7 Play/Tail emission cycle: read the next batch, wait
// for its paced deadline (now + (ts_next - ts_prev)/rate, per §4.7), emit
// it, and repeat; while in Pause it rechecks the state every 100ms.
func (s *Session) runLoop(ctx context.Context) {
	wake := make(chan struct{}, 1)

	for {
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()

		if st == Pause {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		batch, ok := s.nextBatch()
		if !ok {
			s.mu.Lock()
			s.state = s.state.OnBatchExhausted()
			newSt := s.state
			s.mu.Unlock()
			s.publishState(newSt)
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		deadline, hasDeadline := s.deadlineFor(batch.Ts)
		if hasDeadline {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			case <-time.After(time.Until(deadline)):
			}
		}

		s.emit(batch)
	}
}

// nextBatch reads one batch from the cursor, dropping (and skipping past)
// any batch that falls outside the session's bounds rather than emitting
// it, per §4.7's bounded-window semantics.
func (s *Session) nextBatch() (archive.TimedBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		batches := s.reader.ReadDeltas(s.cur, 1)
		if len(batches) == 0 {
			return archive.TimedBatch{}, false
		}
		tb := batches[0]
		if !s.bounds.Contains(tb.Ts) {
			continue
		}
		return tb, true
	}
}

// deadlineFor computes the wall-clock release time for a batch timestamped
// ts, relative to the previous emission; the very first batch of a session
// (or any batch under Unlimited speed) has no deadline and is released
// immediately.
func (s *Session) deadlineFor(ts time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed.Unlimited || s.lastTs.IsZero() {
		return time.Time{}, false
	}
	return s.speed.NextDeadline(s.emittedAt, s.lastTs, ts)
}

func (s *Session) emit(tb archive.TimedBatch) {
	s.mu.Lock()
	s.lastTs = tb.Ts
	s.emittedAt = time.Now()
	idToPath := s.idToPath
	s.mu.Unlock()
	for _, it := range tb.Items {
		if p, ok := idToPath[it.Id]; ok && s.sink.PublishData != nil {
			s.sink.PublishData(p, it.Event)
		}
	}
	s.publishPos(tb.Ts)
}

// SetState applies a user- or peer-issued state transition (§4.7 state
// table), seeking to End first when transitioning Tail->Play.
func (s *Session) SetState(event State) error {
	s.mu.Lock()
	cur := s.state
	next := cur.Next(event)
	if cur == Tail && event == Play {
		s.reader.Seek(s.cur, archive.Seek{Kind: archive.SeekEnd})
	}
	s.state = next
	s.mu.Unlock()
	s.publishState(next)
	if s.mirror != nil {
		s.mirror.SetState(next)
	}
	return nil
}

// SeekTo repositions the cursor per §4.7 step: update image, publish pos.
func (s *Session) SeekTo(sk archive.Seek) {
	s.mu.Lock()
	Clamp(s.reader, s.cur, sk, s.bounds)
	s.image = s.buildImageLocked()
	s.mu.Unlock()
	s.publishImage()
	s.publishCurrentPos()
	if s.mirror != nil {
		s.mirror.SeekTo(sk)
	}
}

// SetSpeed updates playback pacing.
func (s *Session) SetSpeed(sp Speed) {
	s.mu.Lock()
	s.speed = sp
	s.mu.Unlock()
	s.sink.publish("speed", value.String(sp.String()))
	if s.mirror != nil {
		s.mirror.SetSpeed(sp)
	}
}

// SetStart updates the window's lower bound (§4.7 "start" control),
// leaving the upper bound untouched.
func (s *Session) SetStart(bounded bool, t time.Time) {
	s.mu.Lock()
	s.bounds.StartBounded, s.bounds.Start = bounded, t
	b := s.bounds
	s.mu.Unlock()
	s.sink.publish("start", boundValue(bounded, t))
	if s.mirror != nil {
		s.mirror.SetStart(b)
	}
}

// SetEnd updates the window's upper bound (§4.7 "end" control), leaving the
// lower bound untouched.
func (s *Session) SetEnd(bounded bool, t time.Time) {
	s.mu.Lock()
	s.bounds.EndBounded, s.bounds.End = bounded, t
	b := s.bounds
	s.mu.Unlock()
	s.sink.publish("end", boundValue(bounded, t))
	if s.mirror != nil {
		s.mirror.SetEnd(b)
	}
}

func (s *Session) buildImageLocked() map[archive.Id]value.Value {
	img := map[archive.Id]value.Value{}
	for id, ev := range s.reader.BuildImage(s.cur) {
		img[id] = ev
	}
	return img
}

func (s *Session) publishControls() {
	s.mu.Lock()
	st, sp, b := s.state, s.speed, s.bounds
	s.mu.Unlock()
	s.publishState(st)
	s.sink.publish("speed", value.String(sp.String()))
	s.sink.publish("start", boundValue(b.StartBounded, b.Start))
	s.sink.publish("end", boundValue(b.EndBounded, b.End))
}

// boundValue renders one side of a Bounds as the control-value surface:
// Null when that side is unbounded, the timestamp otherwise.
func boundValue(bounded bool, t time.Time) value.Value {
	if !bounded {
		return value.Null()
	}
	return value.DateTime(t)
}

func (s *Session) publishImage() {
	s.mu.Lock()
	img := s.image
	idToPath := s.idToPath
	s.mu.Unlock()
	if s.sink.PublishData == nil {
		return
	}
	for id, v := range img {
		if p, ok := idToPath[id]; ok {
			s.sink.PublishData(p, v)
		}
	}
}

func (s *Session) publishState(st State) {
	s.sink.publish("state", value.String(st.String()))
}

func (s *Session) publishPos(ts time.Time) {
	s.sink.publish("pos", value.DateTime(ts))
}

// publish is a nil-safe convenience wrapper around Sink.PublishControl.
func (sk Sink) publish(name string, v value.Value) {
	if sk.PublishControl != nil {
		sk.PublishControl(name, v)
	}
}

// idleTick implements §4.7 "Idle GC": two consecutive ticks with no
// subscriber and no peer NotIdle means exit.
func (s *Session) idleTick(cancel context.CancelFunc) {
	subbed := s.sink.HasSubscribers != nil && s.sink.HasSubscribers()
	if subbed {
		s.idleSinceTick = false
		return
	}
	if s.idleSinceTick {
		cclog.Debugf("[REPLAY]> session %s idle, shutting down", s.ID)
		metrics.SessionsGCedTotal.Inc()
		cancel()
		return
	}
	s.idleSinceTick = true
}

// autoPlay fires play_after seconds after session creation (§6 RPC
// surface): if the session is still Pause, as left by the creation request,
// start it playing. A state change made before the timer fires (by the
// client or a peer) takes precedence and this is a no-op.
func (s *Session) autoPlay() {
	s.mu.Lock()
	isPause := s.state == Pause
	s.mu.Unlock()
	if isPause {
		s.SetState(Play)
	}
}

// NotIdle resets the idle flag on a peer-originated "still in use" signal.
func (s *Session) NotIdle() {
	s.idleSinceTick = false
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.ID)
}
