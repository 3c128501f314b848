// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager is the one place in this repository that talks to
// go-co-op/gocron/v2, mirroring the teacher repository's own
// internal/taskmanager singleton scheduler: recorder poll loops, the archive
// flush timer and the replay session's idle-GC ticker all register
// fixed-period jobs here instead of each owning a raw time.Ticker.
//
// Variable-delay schedules (the durable subscription supervisor's
// jittered backoff, where the next deadline is recomputed every tick and
// is never a fixed period) are deliberately not modeled as gocron jobs; see
// internal/subscriber/durable.go and DESIGN.md for why a plain time.Timer
// fits that case better.
package taskmanager

import (
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

var (
	mu  sync.Mutex
	s   gocron.Scheduler
	ref int
)

// Start lazily creates and starts the shared scheduler; it is reference
// counted so independent components (recorder, replay sessions) can each
// call Start/Stop without tearing down a scheduler a sibling still needs.
func Start() error {
	mu.Lock()
	defer mu.Unlock()
	if s == nil {
		sched, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("taskmanager: create scheduler: %w", err)
		}
		s = sched
		s.Start()
		cclog.Debugf("[TASKMANAGER]> scheduler started")
	}
	ref++
	return nil
}

// Stop releases this caller's reference; the scheduler shuts down once the
// last caller has released it.
func Stop() {
	mu.Lock()
	defer mu.Unlock()
	if s == nil {
		return
	}
	ref--
	if ref <= 0 {
		if err := s.Shutdown(); err != nil {
			cclog.Warnf("[TASKMANAGER]> scheduler shutdown: %v", err)
		}
		s = nil
		ref = 0
		cclog.Debugf("[TASKMANAGER]> scheduler stopped")
	}
}

// Every registers task to run once per interval, returning a function that
// unregisters it. Start must have been called first.
func Every(interval gocron.JobDefinition, task func()) (func(), error) {
	mu.Lock()
	sched := s
	mu.Unlock()
	if sched == nil {
		return nil, fmt.Errorf("taskmanager: scheduler not started")
	}
	job, err := sched.NewJob(interval, gocron.NewTask(task))
	if err != nil {
		return nil, fmt.Errorf("taskmanager: register job: %w", err)
	}
	return func() {
		mu.Lock()
		cur := s
		mu.Unlock()
		if cur != nil {
			cur.RemoveJob(job.ID())
		}
	}, nil
}
