// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package geo

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/metrics"
	"github.com/bastionmap/bastionmap/internal/models"
	"github.com/bastionmap/bastionmap/internal/retry"
)

// Resolver enriches IP addresses with geolocation data. Resolve never
// returns an error: when the provider cannot answer, the event is stored
// without location rather than dropped.
//
// Caching rules:
//   - a successful lookup caches the populated record
//   - exhausted rate-limit retries cache an EMPTY record, so a hot IP does
//     not burn quota every tick
//   - any other failure is NOT cached; the next occurrence retries
//   - private and loopback addresses cache an empty record without ever
//     hitting the provider
type Resolver struct {
	provider Provider
	policy   retry.Policy
	breaker  *gobreaker.CircuitBreaker[models.GeoRecord]

	mu    sync.RWMutex
	cache map[string]models.GeoRecord
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// RetryAttempts/RetryDelay apply only to rate-limited lookups.
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewResolver creates a Resolver around the given provider.
func NewResolver(provider Provider, opts ResolverOptions) *Resolver {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	settings := gobreaker.Settings{
		Name:    "geolocation",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Resolver{
		provider: provider,
		policy: retry.Policy{
			Attempts: opts.RetryAttempts,
			Delay:    opts.RetryDelay,
			Jitter:   true,
		},
		breaker: gobreaker.NewCircuitBreaker[models.GeoRecord](settings),
		cache:   make(map[string]models.GeoRecord),
	}
}

// Resolve returns the geolocation for ip, consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, ip string) models.GeoRecord {
	r.mu.RLock()
	rec, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok {
		metrics.GeoLookups.WithLabelValues("hit").Inc()
		return rec
	}

	if isPrivate(ip) {
		metrics.GeoLookups.WithLabelValues("private").Inc()
		r.store(ip, models.GeoRecord{})
		return models.GeoRecord{}
	}

	var result models.GeoRecord
	err := r.policy.DoIf(ctx, func(err error) bool {
		return errors.Is(err, ErrRateLimited)
	}, func() error {
		var lookupErr error
		result, lookupErr = r.breaker.Execute(func() (models.GeoRecord, error) {
			return r.provider.Lookup(ctx, ip)
		})
		return lookupErr
	})

	if err == nil {
		metrics.GeoLookups.WithLabelValues("success").Inc()
		r.store(ip, result)
		return result
	}

	if errors.Is(err, ErrRateLimited) {
		// Quota exhausted even after backoff. Cache the empty record so this
		// IP stops consuming quota until restart.
		metrics.GeoLookups.WithLabelValues("rate_limited").Inc()
		logging.Warn().Str("ip", ip).Msg("geolocation rate limit exhausted, caching empty record")
		r.store(ip, models.GeoRecord{})
		return models.GeoRecord{}
	}

	metrics.GeoLookups.WithLabelValues("failure").Inc()
	logging.Debug().Err(err).Str("ip", ip).Msg("geolocation lookup failed")
	return models.GeoRecord{}
}

// CacheSize returns the number of cached IPs.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) store(ip string, rec models.GeoRecord) {
	r.mu.Lock()
	r.cache[ip] = rec
	r.mu.Unlock()
}

// isPrivate reports whether ip is in a private, loopback, or link-local
// range. These never resolve on a public geolocation service.
func isPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}
