// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package metrics defines the Prometheus instrumentation for the ingestion
// pipeline, geolocation resolver, and live feed. Metrics are registered on
// the default registry and served via promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesParsed counts auth log lines that matched the failed-password
	// pattern.
	LinesParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_ingest_lines_parsed_total",
		Help: "Auth log lines parsed as failed login attempts",
	})

	// LinesSkipped counts lines read from the auth log that did not match.
	LinesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_ingest_lines_skipped_total",
		Help: "Auth log lines skipped (non-matching or malformed)",
	})

	// EventsStored counts rows newly inserted into storage.
	EventsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_events_stored_total",
		Help: "Failed login events newly persisted",
	})

	// EventsDuplicate counts inserts absorbed by the natural-key conflict
	// clause.
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_events_duplicate_total",
		Help: "Failed login events skipped as duplicates of an existing row",
	})

	// EventsRejected counts rows the storage server refused (malformed
	// values, non-key constraint violations); skipped rather than retried.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_events_rejected_total",
		Help: "Failed login events rejected by storage and skipped",
	})

	// IngestTicks counts ingest cycles by outcome (ok, error).
	IngestTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastionmap_ingest_ticks_total",
		Help: "Ingest cycles by outcome",
	}, []string{"outcome"})

	// GeoLookups counts geolocation lookups by outcome
	// (hit, success, failure, rate_limited, private).
	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastionmap_geo_lookups_total",
		Help: "Geolocation lookups by outcome",
	}, []string{"outcome"})

	// SnapshotCache counts ranked snapshot cache hits and misses.
	SnapshotCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastionmap_snapshot_cache_total",
		Help: "Ranked snapshot cache lookups by result",
	}, []string{"result"})

	// WebsocketClients tracks currently connected websocket clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bastionmap_websocket_clients",
		Help: "Currently connected websocket clients",
	})

	// BroadcastEvents counts events pushed to websocket clients.
	BroadcastEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_broadcast_events_total",
		Help: "Events pushed to websocket clients",
	})

	// DatabaseRetries counts retried storage batches.
	DatabaseRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bastionmap_database_retries_total",
		Help: "Storage insert batches that needed at least one retry",
	})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bastionmap_http_requests_total",
		Help: "API requests by route and status class",
	}, []string{"route", "status"})
)
