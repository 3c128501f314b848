// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of netpub.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus instrumentation for the subscriber
// runtime and the archive recorder/replayer, scraped by internal/adminapi's
// /metrics endpoint (§2 "every long-lived component emits ... Prometheus
// metrics").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Subscriber/publisher-connection metrics.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpub_publisher_connections_active",
		Help: "Number of open subscriber-to-publisher connections.",
	})
	ConnectionsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_publisher_connections_failed_total",
		Help: "Total publisher connection attempts that failed.",
	})
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpub_subscriptions_active",
		Help: "Number of currently subscribed paths.",
	})
	DurableResubscribesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_durable_resubscribes_total",
		Help: "Total resubscribe attempts issued by the durable-subscription supervisor.",
	})
	DurableDeadCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpub_durable_dead",
		Help: "Number of durable subscriptions currently in the Dead state.",
	})

	// Recorder metrics.
	RecorderBatchesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_recorder_batches_written_total",
		Help: "Total Delta/Image batches appended to the archive.",
	})
	RecorderBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netpub_recorder_batch_size_items",
		Help:    "Item count of each committed batch.",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000, 5000},
	})
	RecorderBroadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_recorder_broadcast_dropped_total",
		Help: "Batches dropped because the replay-session broadcast channel was full.",
	})
	ArchiveFileBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpub_archive_file_bytes",
		Help: "Current size of the archive file in bytes.",
	})

	// Replay-session metrics.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpub_replay_sessions_active",
		Help: "Number of live replay sessions.",
	})
	SessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpub_replay_sessions_rejected_total",
		Help: "Session creation requests rejected by admission limits.",
	}, []string{"reason"})
	SessionsGCedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_replay_sessions_gced_total",
		Help: "Sessions torn down by the idle-GC ticker.",
	})

	// Cluster-bus metrics.
	ClusterEnvelopesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_clusterbus_envelopes_sent_total",
		Help: "Control envelopes published to the cluster overlay.",
	})
	ClusterEnvelopesRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpub_clusterbus_envelopes_received_total",
		Help: "Control envelopes received from peer shards over the cluster overlay.",
	})
)
