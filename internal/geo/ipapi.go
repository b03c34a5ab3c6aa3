// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/bastionmap/bastionmap/internal/models"
)

// ipapiFields is the field selection requested from the provider; keeps
// responses small and the schema stable.
const ipapiFields = "status,country,regionName,city,lat,lon"

// IPAPIProvider queries an ip-api.com compatible endpoint. Requests are
// throttled client-side with a token bucket matching the provider's
// free-tier quota, on top of which the provider's own 429 responses are
// surfaced as ErrRateLimited.
type IPAPIProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// IPAPIOptions configures an IPAPIProvider.
type IPAPIOptions struct {
	// BaseURL, e.g. "http://ip-api.com/json".
	BaseURL string

	// Timeout bounds a single request.
	Timeout time.Duration

	// RequestsPerMinute is the client-side throttle. Zero disables it.
	RequestsPerMinute int
}

// NewIPAPIProvider creates a provider for the given endpoint.
func NewIPAPIProvider(opts IPAPIOptions) *IPAPIProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(opts.RequestsPerMinute)/60.0),
			opts.RequestsPerMinute,
		)
	}

	return &IPAPIProvider{
		baseURL: opts.BaseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
	}
}

// ipapiResponse mirrors the provider's JSON shape.
type ipapiResponse struct {
	Status     string  `json:"status"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Lookup resolves a single IP. A 429 response returns ErrRateLimited; a
// response with status other than "success" (reserved ranges, bogons) is an
// ordinary error.
func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (models.GeoRecord, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return models.GeoRecord{}, err
	}

	reqURL := fmt.Sprintf("%s/%s?fields=%s", p.baseURL, url.PathEscape(ip), ipapiFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.GeoRecord{}, fmt.Errorf("failed to build geolocation request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.GeoRecord{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.GeoRecord{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return models.GeoRecord{}, fmt.Errorf("geolocation request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return models.GeoRecord{}, fmt.Errorf("failed to read geolocation response: %w", err)
	}

	var parsed ipapiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.GeoRecord{}, fmt.Errorf("failed to decode geolocation response: %w", err)
	}

	if parsed.Status != "success" {
		return models.GeoRecord{}, fmt.Errorf("geolocation lookup failed for %s: status %q", ip, parsed.Status)
	}

	return models.GeoRecord{
		Country:   strPtr(parsed.Country),
		Region:    strPtr(parsed.RegionName),
		City:      strPtr(parsed.City),
		Latitude:  &parsed.Lat,
		Longitude: &parsed.Lon,
	}, nil
}

// strPtr returns a pointer to s, or nil when s is empty.
func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
