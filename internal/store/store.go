// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package store persists failed-login events in Postgres/TimescaleDB through
// a bounded pgx connection pool. Inserts are idempotent on the natural key
// (timestamp, ip_address, port); re-ingesting the same log lines never
// produces duplicate rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/metrics"
	"github.com/bastionmap/bastionmap/internal/models"
)

// Store wraps the pgx pool with the queries the pipeline and API need.
type Store struct {
	pool *pgxpool.Pool
}

// Options configures the connection pool.
type Options struct {
	// URL is a pgx connection string.
	URL string

	// MaxConns bounds the pool. Zero keeps the pgx default.
	MaxConns int32
}

// New connects to the database and verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Int32("max_conns", cfg.MaxConns).
		Msg("database connection pool established")

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const insertFailedLoginSQL = `
INSERT INTO failed_logins (timestamp, ip_address, port, city, region, country, latitude, longitude)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT ON CONSTRAINT failed_logins_natural_key DO NOTHING`

// InsertFailedLogins persists a batch of events. Rows whose natural key
// already exists are silently skipped. Returns the number of rows actually
// inserted.
//
// Failure isolation is per row: a row the server rejects (malformed value,
// some other constraint) is logged and skipped so it cannot block the rest
// of the batch forever. Only connection-level failures abort the batch, and
// then rows inserted so far stay inserted; the conflict clause absorbs their
// re-insertion when the caller retries.
func (s *Store) InsertFailedLogins(ctx context.Context, events []models.FailedLogin) (int64, error) {
	return insertFailedLogins(ctx, s.pool, events)
}

// execer is the subset of the pool that insertFailedLogins needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertFailedLogins(ctx context.Context, db execer, events []models.FailedLogin) (int64, error) {
	var inserted int64
	for _, ev := range events {
		tag, err := db.Exec(ctx, insertFailedLoginSQL,
			ev.Timestamp, ev.IPAddress, ev.Port,
			ev.City, ev.Region, ev.Country, ev.Latitude, ev.Longitude,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				metrics.EventsRejected.Inc()
				logging.Error().
					Err(err).
					Str("ip", ev.IPAddress).
					Int("port", ev.Port).
					Time("timestamp", ev.Timestamp).
					Msg("storage rejected event, skipping row")
				continue
			}
			return inserted, fmt.Errorf("failed to insert event %s/%s/%d: %w",
				ev.Timestamp.Format(time.RFC3339), ev.IPAddress, ev.Port, err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
			metrics.EventsStored.Inc()
		} else {
			metrics.EventsDuplicate.Inc()
		}
	}
	return inserted, nil
}

const recentFailedLoginsSQL = `
SELECT timestamp, ip_address, port, city, region, country, latitude, longitude
FROM failed_logins
ORDER BY timestamp DESC, ip_address, port
LIMIT $1`

// RecentFailedLogins returns the most recent events, newest first.
func (s *Store) RecentFailedLogins(ctx context.Context, limit int) ([]models.FailedLogin, error) {
	rows, err := s.pool.Query(ctx, recentFailedLoginsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanFailedLogins(rows)
}

const rankedSnapshotSQL = `
SELECT timestamp, ip_address, port, city, region, country, latitude, longitude
FROM (
    SELECT timestamp, ip_address, port, city, region, country, latitude, longitude,
           ROW_NUMBER() OVER (PARTITION BY city ORDER BY timestamp DESC, ip_address, port) AS rn
    FROM failed_logins
    WHERE city IS NOT NULL
) ranked
WHERE rn <= $2
ORDER BY timestamp DESC, ip_address, port
LIMIT $1`

// RankedSnapshot returns the geographically diverse view served to the live
// map: at most perCityCap most-recent events per city, newest first overall,
// capped at limit. Events without a resolved city are excluded since they
// cannot be plotted.
func (s *Store) RankedSnapshot(ctx context.Context, limit, perCityCap int) ([]models.FailedLogin, error) {
	rows, err := s.pool.Query(ctx, rankedSnapshotSQL, limit, perCityCap)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranked snapshot: %w", err)
	}
	defer rows.Close()

	return scanFailedLogins(rows)
}

// TotalCount returns the total number of stored events.
func (s *Store) TotalCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM failed_logins`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

const countByCountrySQL = `
SELECT country, COUNT(*) AS attempts
FROM failed_logins
WHERE country IS NOT NULL
GROUP BY country
ORDER BY attempts DESC, country
LIMIT $1`

// CountByCountry returns attack counts grouped by country, highest first.
func (s *Store) CountByCountry(ctx context.Context, limit int) ([]models.CountryCount, error) {
	rows, err := s.pool.Query(ctx, countByCountrySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query country counts: %w", err)
	}
	defer rows.Close()

	var counts []models.CountryCount
	for rows.Next() {
		var c models.CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan country count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read country counts: %w", err)
	}
	return counts, nil
}

const countByHourSQL = `
SELECT date_trunc('hour', timestamp) AS hour, COUNT(*) AS attempts
FROM failed_logins
WHERE timestamp >= $1
GROUP BY hour
ORDER BY hour`

// CountByHour returns hourly attack counts over the trailing window.
func (s *Store) CountByHour(ctx context.Context, since time.Time) ([]models.HourCount, error) {
	rows, err := s.pool.Query(ctx, countByHourSQL, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly counts: %w", err)
	}
	defer rows.Close()

	var counts []models.HourCount
	for rows.Next() {
		var c models.HourCount
		if err := rows.Scan(&c.Hour, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hourly counts: %w", err)
	}
	return counts, nil
}

// pgxRows is the subset of pgx.Rows that scanFailedLogins needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFailedLogins(rows pgxRows) ([]models.FailedLogin, error) {
	var events []models.FailedLogin
	for rows.Next() {
		var ev models.FailedLogin
		if err := rows.Scan(
			&ev.Timestamp, &ev.IPAddress, &ev.Port,
			&ev.City, &ev.Region, &ev.Country, &ev.Latitude, &ev.Longitude,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event rows: %w", err)
	}
	return events, nil
}
