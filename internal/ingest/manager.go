// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package ingest

import (
	"context"
	"time"

	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/metrics"
	"github.com/bastionmap/bastionmap/internal/models"
	"github.com/bastionmap/bastionmap/internal/parser"
	"github.com/bastionmap/bastionmap/internal/retry"
)

// Resolver enriches an IP with geolocation. Resolution failures degrade to
// an empty record; they never block ingestion.
type Resolver interface {
	Resolve(ctx context.Context, ip string) models.GeoRecord
}

// Writer persists a batch of events idempotently, returning the number of
// rows newly inserted.
type Writer interface {
	InsertFailedLogins(ctx context.Context, events []models.FailedLogin) (int64, error)
}

// Manager runs the ingest cycle: read new log lines, parse, enrich, persist,
// then commit the read offset. It implements suture.Service.
type Manager struct {
	tailer   *Tailer
	parser   *parser.Parser
	resolver Resolver
	writer   Writer

	interval  time.Duration
	batchSize int
	policy    retry.Policy
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Interval  time.Duration
	BatchSize int

	// RetryAttempts/RetryDelay bound the retry around a batch insert before
	// the batch is deferred to the next cycle.
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewManager wires the pipeline stages together.
func NewManager(tailer *Tailer, p *parser.Parser, resolver Resolver, writer Writer, opts ManagerOptions) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	return &Manager{
		tailer:    tailer,
		parser:    p,
		resolver:  resolver,
		writer:    writer,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		policy: retry.Policy{
			Attempts: opts.RetryAttempts,
			Delay:    opts.RetryDelay,
			Jitter:   true,
		},
	}
}

// Serve runs ingest cycles until the context is canceled. An immediate cycle
// runs at startup so a restart does not wait a full interval to catch up.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", m.interval).
		Msg("ingest manager started")

	m.runCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("ingest manager stopping")
			return ctx.Err()
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// String implements suture's service naming.
func (m *Manager) String() string {
	return "ingest-manager"
}

// runCycle performs one read-parse-enrich-persist cycle. Errors are logged
// and counted, never returned: a bad cycle must not take the service down,
// and the uncommitted offset means the next cycle retries the same content.
func (m *Manager) runCycle(ctx context.Context) {
	lines, next, err := m.tailer.Read(m.batchSize)
	if err != nil {
		logging.Error().Err(err).Msg("ingest cycle failed to read auth log")
		metrics.IngestTicks.WithLabelValues("error").Inc()
		return
	}
	if len(lines) == 0 {
		metrics.IngestTicks.WithLabelValues("ok").Inc()
		return
	}

	events := m.parser.ParseLines(lines)
	metrics.LinesParsed.Add(float64(len(events)))
	metrics.LinesSkipped.Add(float64(len(lines) - len(events)))

	if len(events) == 0 {
		// Nothing actionable in this chunk; skip past it.
		m.tailer.Commit(next)
		metrics.IngestTicks.WithLabelValues("ok").Inc()
		return
	}

	rows := make([]models.FailedLogin, 0, len(events))
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		geo := m.resolver.Resolve(ctx, ev.IPAddress)
		rows = append(rows, models.NewFailedLogin(ev, geo))
	}

	attempts := 0
	var inserted int64
	err = m.policy.Do(ctx, func() error {
		attempts++
		var insertErr error
		inserted, insertErr = m.writer.InsertFailedLogins(ctx, rows)
		return insertErr
	})
	if attempts > 1 {
		metrics.DatabaseRetries.Inc()
	}
	if err != nil {
		// Offset stays put; the whole batch is re-read next cycle and the
		// conflict clause absorbs any rows that did land.
		logging.Error().Err(err).Int("events", len(rows)).Msg("ingest cycle failed to persist batch")
		metrics.IngestTicks.WithLabelValues("error").Inc()
		return
	}

	m.tailer.Commit(next)
	metrics.IngestTicks.WithLabelValues("ok").Inc()

	logging.Info().
		Int("lines", len(lines)).
		Int("events", len(events)).
		Int64("inserted", inserted).
		Int64("duplicates", int64(len(rows))-inserted).
		Msg("ingest cycle complete")
}
