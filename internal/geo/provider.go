// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package geo resolves IP addresses to geographic locations through an
// external provider, with a process-lifetime cache, provider rate limiting,
// and graceful degradation when the provider is unavailable.
package geo

import (
	"context"
	"errors"

	"github.com/bastionmap/bastionmap/internal/models"
)

// ErrRateLimited is returned by a Provider when the upstream service rejects
// the request for quota reasons. It is the only lookup error the resolver
// retries.
var ErrRateLimited = errors.New("geolocation provider rate limited")

// Provider performs a single geolocation lookup. Implementations must be safe
// for concurrent use.
type Provider interface {
	Lookup(ctx context.Context, ip string) (models.GeoRecord, error)
}
