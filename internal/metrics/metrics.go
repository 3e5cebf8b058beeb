// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package metrics provides Prometheus instrumentation for Driftmark:
// remote store operations, pairing lifecycle, sync publication, and
// stream-view health. All collectors are registered on the default
// registry and exposed on /metrics by the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Remote store metrics

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftmark_store_op_duration_seconds",
			Help:    "Duration of remote store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_store_op_errors_total",
			Help: "Total remote store operation failures",
		},
		[]string{"operation"},
	)

	// Pairing lifecycle metrics

	SessionCreates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftmark_session_creates_total",
			Help: "Total sessions created (including idempotent adoptions)",
		},
	)

	SessionJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftmark_session_joins_total",
			Help: "Total successful secondary joins",
		},
	)

	SessionLifecycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_session_lifecycle_failures_total",
			Help: "Pairing lifecycle operation failures by reason",
		},
		[]string{"operation", "reason"},
	)

	RoleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_role_transitions_total",
			Help: "Role state machine transitions",
		},
		[]string{"from", "to"},
	)

	SessionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftmark_sessions_swept_total",
			Help: "Expired or stale sessions removed by the pre-create sweep",
		},
	)

	// Sync publication metrics

	PublishWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_publish_writes_total",
			Help: "Domain data writes to the session path by kind",
		},
		[]string{"kind"},
	)

	PublishDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "driftmark_publish_dedup_hits_total",
			Help: "Publications skipped because the payload was unchanged",
		},
	)

	// Stream view metrics

	WatchRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_watch_restarts_total",
			Help: "Stream view re-subscriptions by view name",
		},
		[]string{"view"},
	)

	SelfHeals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftmark_self_heals_total",
			Help: "Deletion+reset cascades triggered by expired or corrupted sessions",
		},
		[]string{"reason"},
	)
)

// ObserveStoreOp records one remote store operation.
func ObserveStoreOp(operation string, elapsed time.Duration, err error) {
	StoreOpDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordTransition records a role state machine transition.
func RecordTransition(from, to string) {
	RoleTransitions.WithLabelValues(from, to).Inc()
}
