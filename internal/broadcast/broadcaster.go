// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package broadcast periodically pushes newly stored failed logins to the
// websocket hub. It decouples the live feed from the ingest cycle: the
// broadcaster polls the ranked snapshot on its own interval and forwards only
// events it has not pushed before.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/bastionmap/bastionmap/internal/cache"
	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/metrics"
	"github.com/bastionmap/bastionmap/internal/models"
)

// SnapshotSource supplies the ranked view of recent events and the running
// total.
type SnapshotSource interface {
	RankedSnapshot(ctx context.Context, limit, perCityCap int) ([]models.FailedLogin, error)
	TotalCount(ctx context.Context) (int64, error)
}

// Feed is the subset of the websocket hub the broadcaster pushes to.
type Feed interface {
	BroadcastLogs(events []models.FailedLogin)
	BroadcastStatsUpdate(totalCount int64)
	ClientCount() int
}

// Broadcaster polls the ranked snapshot and pushes the delta past its
// watermark to connected clients. With no clients connected, nothing is
// queried and the watermark does not advance, so the next connected client's
// feed resumes where broadcasting left off.
type Broadcaster struct {
	source SnapshotSource
	feed   Feed
	cache  *cache.Cache

	interval    time.Duration
	snapshotTTL time.Duration
	limit       int
	perCityCap  int

	mu        sync.Mutex
	watermark time.Time
}

// Options configures a Broadcaster.
type Options struct {
	Interval    time.Duration
	SnapshotTTL time.Duration
	Limit       int
	PerCityCap  int
}

// New creates a Broadcaster. The cache is shared with the API so snapshot
// queries are computed at most once per TTL window process-wide.
func New(source SnapshotSource, feed Feed, c *cache.Cache, opts Options) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = opts.Interval
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.PerCityCap <= 0 {
		opts.PerCityCap = 2
	}
	return &Broadcaster{
		source:      source,
		feed:        feed,
		cache:       c,
		interval:    opts.Interval,
		snapshotTTL: opts.SnapshotTTL,
		limit:       opts.Limit,
		perCityCap:  opts.PerCityCap,
	}
}

// Serve runs broadcast ticks until the context is canceled. Implements
// suture.Service.
func (b *Broadcaster) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", b.interval).
		Int("limit", b.limit).
		Int("per_city_cap", b.perCityCap).
		Msg("broadcaster started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("broadcaster stopping")
			return ctx.Err()
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// String implements suture's service naming.
func (b *Broadcaster) String() string {
	return "broadcaster"
}

// Snapshot returns the cached ranked snapshot, computing it if stale. Shared
// by the broadcast tick, the websocket connect path, and the REST API.
func (b *Broadcaster) Snapshot(ctx context.Context) ([]models.FailedLogin, error) {
	key := cache.GenerateKey("ranked_snapshot", struct {
		Limit      int
		PerCityCap int
	}{b.limit, b.perCityCap})

	computed := false
	val, err := b.cache.GetOrCompute(ctx, key, b.snapshotTTL, func(ctx context.Context) (interface{}, error) {
		computed = true
		return b.source.RankedSnapshot(ctx, b.limit, b.perCityCap)
	})
	if err != nil {
		return nil, err
	}

	if computed {
		metrics.SnapshotCache.WithLabelValues("miss").Inc()
	} else {
		metrics.SnapshotCache.WithLabelValues("hit").Inc()
	}

	events, _ := val.([]models.FailedLogin)
	return events, nil
}

// tick pushes the snapshot delta past the watermark, if anyone is listening.
func (b *Broadcaster) tick(ctx context.Context) {
	if b.feed.ClientCount() == 0 {
		return
	}

	events, err := b.Snapshot(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("broadcast tick failed to load snapshot")
		return
	}
	if len(events) == 0 {
		return
	}

	b.mu.Lock()
	watermark := b.watermark
	newest := watermark
	var delta []models.FailedLogin
	for _, ev := range events {
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
		if ev.Timestamp.After(watermark) {
			delta = append(delta, ev)
		}
	}

	if watermark.IsZero() {
		// First tick with a listener: clients received the full snapshot on
		// connect, so just establish the watermark without re-pushing.
		b.watermark = newest
		b.mu.Unlock()
		return
	}

	b.watermark = newest
	b.mu.Unlock()

	if len(delta) == 0 {
		return
	}

	b.feed.BroadcastLogs(delta)

	if total, err := b.source.TotalCount(ctx); err != nil {
		logging.Error().Err(err).Msg("broadcast tick failed to load total count")
	} else {
		b.feed.BroadcastStatsUpdate(total)
	}
}

// Watermark returns the timestamp of the newest event pushed so far.
func (b *Broadcaster) Watermark() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watermark
}
