// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command netpub-recorder runs the archive recorder and replay-session
// services (§4.6/§4.7) as one process: it polls the resolver for paths
// matching its configured glob spec, records their values to an archive
// file, and serves replay sessions over the admin HTTP surface
// (internal/adminapi). Publishing the session control/data values described
// in §4.7 onto the resolver tree itself requires the publisher-side library,
// which SPEC_FULL.md excludes as an external collaborator; this binary
// therefore backs every session's Sink with a logging-only implementation
// and leaves wiring a real publisher to the process that embeds one.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/nhr-fau/netpub/internal/adminapi"
	"github.com/nhr-fau/netpub/internal/archive"
	"github.com/nhr-fau/netpub/internal/archive/coldstore"
	"github.com/nhr-fau/netpub/internal/clusterbus"
	"github.com/nhr-fau/netpub/internal/config"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/recorder"
	"github.com/nhr-fau/netpub/internal/replay"
	"github.com/nhr-fau/netpub/internal/resolver"
	"github.com/nhr-fau/netpub/internal/subscriber"
	"github.com/nhr-fau/netpub/internal/value"
)

func main() {
	var flagConfigFile, flagAdminAddr string
	var flagGops, flagNoServer bool
	flag.StringVar(&flagConfigFile, "config", "", "Path to the recorder config JSON (defaults to the NETIDX_CFG search order)")
	flag.StringVar(&flagAdminAddr, "admin-addr", "", "Overrides the config's admin-addr (host:port for the HTTP admin surface)")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagNoServer, "no-server", false, "Do not serve the admin HTTP surface; recording still runs until a termination signal")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		cclog.Fatalf("netpub-recorder: %v", err)
	}
	if cfg.ArchiveFile == "" {
		cclog.Fatalf("netpub-recorder: config is missing \"archive-file\"")
	}
	globs, err := cfg.CompileGlobs()
	if err != nil {
		cclog.Fatalf("netpub-recorder: %v", err)
	}
	pollInterval, err := config.Duration(cfg.PollInterval)
	if err != nil {
		cclog.Fatalf("netpub-recorder: poll-interval: %v", err)
	}
	flushInterval, err := config.Duration(cfg.FlushInterval)
	if err != nil {
		cclog.Fatalf("netpub-recorder: flush-interval: %v", err)
	}

	writer, err := archive.OpenWriter(cfg.ArchiveFile)
	if err != nil {
		cclog.Fatalf("netpub-recorder: open archive for writing: %v", err)
	}
	defer writer.Close()
	writer.SetImageCodec(cfg.ImageCodec)

	reader, err := archive.OpenReader(cfg.ArchiveFile)
	if err != nil {
		cclog.Fatalf("netpub-recorder: open archive for reading: %v", err)
	}
	defer reader.Close()

	roots := make([]resolver.Addr, len(cfg.Resolver))
	for i, a := range cfg.Resolver {
		roots[i] = resolver.Addr(a)
	}
	res := resolver.NewClient(roots)
	defer res.Close()
	sub := subscriber.NewClient(res)

	rec := recorder.New(recorder.Config{
		Globs:          globs,
		PollInterval:   pollInterval,
		ImageFrequency: cfg.ImageFrequency,
		FlushFrequency: cfg.FlushFrequency,
		FlushInterval:  flushInterval,
	}, writer, resolverList(res), sub.Subscribe)

	if cfg.Cluster != nil {
		clusterbus.Keys = *cfg.Cluster
	}
	clusterbus.Connect()
	bus := clusterbus.GetBus()

	idx := indexByID(reader)
	mgr := replay.NewManager(replay.ManagerConfig{
		MaxSessions:          cfg.MaxSessions,
		MaxSessionsPerClient: cfg.MaxSessionsPerClient,
	}, reader, idx)

	newSession := func(sessionID string) (replay.Sink, replay.Mirror) {
		return loggingSink(sessionID), clusterbus.NewSessionMirror(bus, cfg.ArchiveFile, sessionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); rec.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); drainBroadcast(ctx, rec) }()

	if coldCfg, err := cfg.ColdStore(); err != nil {
		cclog.Errorf("netpub-recorder: cold-storage config: %v", err)
	} else if coldCfg != nil {
		up, err := coldstore.New(*coldCfg)
		if err != nil {
			cclog.Errorf("netpub-recorder: cold storage disabled: %v", err)
		} else {
			wg.Add(1)
			go func() { defer wg.Done(); up.Run(ctx) }()
		}
	}

	addr := cfg.AdminAddr
	if flagAdminAddr != "" {
		addr = flagAdminAddr
	}
	var httpServer *http.Server
	if !flagNoServer && addr != "" {
		srv := &adminapi.Server{Recorder: rec, Manager: mgr, NewSession: newSession, StartedAt: time.Now()}
		httpServer = srv.NewHTTPServer(addr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cclog.Errorf("netpub-recorder: admin server: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigs
	cclog.Infof("netpub-recorder: received %s, shutting down", sig)

	if bus != nil {
		_ = clusterbus.PublishStop(bus, cfg.ArchiveFile)
		bus.Close()
	}
	mgr.Stop()
	rec.Stop()
	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	wg.Wait()
}

func indexByID(rd *archive.Reader) map[archive.Id]path.Path {
	idx := map[archive.Id]path.Path{}
	for _, e := range rd.GetIndex() {
		idx[e.Id] = e.Path
	}
	return idx
}

// resolverList adapts the resolver's List to the recorder's listFunc seam
// (§4.6 step 1). Filtering children against the glob spec is the recorder's
// own job (internal/recorder.listLoop); this just returns every child of
// base the resolver currently advertises.
func resolverList(res *resolver.Client) func(ctx context.Context, base path.Path) ([]path.Path, error) {
	return func(ctx context.Context, base path.Path) ([]path.Path, error) {
		return res.List(ctx, base)
	}
}

// drainBroadcast reads and discards every batch sent on rec.Broadcast so the
// channel never fills. Nothing else in this process reads Broadcast: replay
// sessions read batches from their own archive.Reader handle via Session.Run.
func drainBroadcast(ctx context.Context, rec *recorder.Recorder) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rec.Broadcast:
		}
	}
}

func loggingSink(sessionID string) replay.Sink {
	return replay.Sink{
		PublishControl: func(name string, v value.Value) {
			cclog.Infof("[REPLAY]> session %s control %s = %s", sessionID, name, v)
		},
		PublishData: func(p path.Path, v value.Value) {
			cclog.Debugf("[REPLAY]> session %s data %s = %s", sessionID, p, v)
		},
		HasSubscribers: func() bool { return false },
	}
}
