// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command netpub-subscriber is a thin CLI front-end over internal/subscriber:
// it resolves and subscribes to a fixed list of paths given on the command
// line, prints every Update/Unsubscribed event it receives, and exits
// cleanly on SIGTERM/SIGINT/SIGQUIT. It exists to give the subscriber-side
// library a runnable entry point; it is not the recorder (cmd/netpub-recorder)
// and does not write an archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/nhr-fau/netpub/internal/config"
	"github.com/nhr-fau/netpub/internal/path"
	"github.com/nhr-fau/netpub/internal/pubconn"
	"github.com/nhr-fau/netpub/internal/resolver"
	"github.com/nhr-fau/netpub/internal/subscriber"
)

func main() {
	var flagConfigFile string
	var flagGops bool
	var flagDurable bool
	var flagPaths string
	flag.StringVar(&flagConfigFile, "config", "", "Path to the client config JSON (defaults to the NETIDX_CFG search order)")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagDurable, "durable", false, "Use durable (auto-resubscribing) subscriptions instead of plain ones")
	flag.StringVar(&flagPaths, "paths", "", "Comma-separated list of absolute paths to subscribe to")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if flagPaths == "" {
		cclog.Fatalf("netpub-subscriber: -paths is required")
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		cclog.Fatalf("netpub-subscriber: %v", err)
	}
	if len(cfg.Resolver) == 0 {
		cclog.Fatalf("netpub-subscriber: config has no \"resolver\" addresses")
	}

	roots := make([]resolver.Addr, len(cfg.Resolver))
	for i, a := range cfg.Resolver {
		roots[i] = resolver.Addr(a)
	}
	res := resolver.NewClient(roots)
	defer res.Close()

	sub := subscriber.NewClient(res)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigs
		cclog.Infof("netpub-subscriber: received %s, shutting down", sig)
		cancel()
	}()

	var paths []path.Path
	for _, raw := range strings.Split(flagPaths, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		paths = append(paths, path.Path(raw))
	}

	if flagDurable {
		runDurable(ctx, sub, paths)
	} else {
		runPlain(ctx, sub, paths)
	}

	if err := sub.Flush(context.Background()); err != nil {
		cclog.Warnf("netpub-subscriber: flush on shutdown: %v", err)
	}
	os.Exit(0)
}

func runPlain(ctx context.Context, sub *subscriber.Client, paths []path.Path) {
	vals, errs := sub.Subscribe(ctx, paths)
	for p, err := range errs {
		cclog.Errorf("netpub-subscriber: subscribe %s: %v", p, err)
	}

	done := make(chan struct{})
	for p, v := range vals {
		ch := make(chan pubconn.Event, 16)
		v.Stream(ch, pubconn.BeginWithLast)
		go watch(p, ch, done)
	}
	<-ctx.Done()
}

func runDurable(ctx context.Context, sub *subscriber.Client, paths []path.Path) {
	for _, p := range paths {
		d := sub.Durable(p)
		go func(p path.Path, d *subscriber.Dval) {
			for {
				if err := d.WaitSubscribed(ctx); err != nil {
					return
				}
				v := d.Val()
				if v == nil {
					continue
				}
				ch := make(chan pubconn.Event, 16)
				v.Stream(ch, pubconn.BeginWithLast)
				for ev := range ch {
					printEvent(p, ev)
					if ev.Kind == pubconn.EvUnsubscribed {
						break
					}
				}
			}
		}(p, d)
	}
	<-ctx.Done()
}

func watch(p path.Path, ch chan pubconn.Event, done chan struct{}) {
	for ev := range ch {
		printEvent(p, ev)
	}
	done <- struct{}{}
}

func printEvent(p path.Path, ev pubconn.Event) {
	switch ev.Kind {
	case pubconn.EvUpdate:
		fmt.Printf("%s = %s\n", p, ev.Value)
	case pubconn.EvUnsubscribed:
		fmt.Printf("%s unsubscribed\n", p)
	}
}
