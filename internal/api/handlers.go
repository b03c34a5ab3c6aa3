// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Package api exposes the REST and websocket surface: recent failed logins,
// the ranked map snapshot, aggregate statistics, health probes and the live
// feed upgrade endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bastionmap/bastionmap/internal/config"
	"github.com/bastionmap/bastionmap/internal/models"
	ws "github.com/bastionmap/bastionmap/internal/websocket"
)

const (
	defaultLogsLimit = 100
	maxLogsLimit     = 1000

	defaultCountriesLimit = 10
	maxCountriesLimit     = 250

	defaultHourlyWindow = 24
	maxHourlyWindow     = 24 * 31
)

// Storage is the subset of the store the API reads from.
type Storage interface {
	Ping(ctx context.Context) error
	RecentFailedLogins(ctx context.Context, limit int) ([]models.FailedLogin, error)
	TotalCount(ctx context.Context) (int64, error)
	CountByCountry(ctx context.Context, limit int) ([]models.CountryCount, error)
	CountByHour(ctx context.Context, since time.Time) ([]models.HourCount, error)
}

// Snapshotter supplies the cached ranked snapshot shared with the broadcaster.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]models.FailedLogin, error)
}

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	store       Storage
	hub         *ws.Hub
	snapshotter Snapshotter
	cfg         *config.Config
	startTime   time.Time
}

// NewHandler creates a Handler.
func NewHandler(store Storage, hub *ws.Hub, snapshotter Snapshotter, cfg *config.Config) *Handler {
	return &Handler{
		store:       store,
		hub:         hub,
		snapshotter: snapshotter,
		cfg:         cfg,
		startTime:   time.Now(),
	}
}

// HealthLive reports process liveness. Always returns 200 while the process
// can serve requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "alive",
			"uptime": time.Since(h.startTime).String(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthReady reports readiness. Returns 503 until the database answers a
// ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "database unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":            "ready",
			"websocket_clients": h.hub.ClientCount(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// GetLogs returns the most recent failed logins, newest first. The limit
// query parameter caps the result set.
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(getIntParam(r, "limit", defaultLogsLimit), 1, maxLogsLimit)

	start := time.Now()
	logs, err := h.store.RecentFailedLogins(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to query recent logs", err)
		return
	}
	if logs == nil {
		logs = []models.FailedLogin{}
	}

	resp := models.NewSuccessResponse(logs, time.Since(start), false)
	respondJSON(w, http.StatusOK, &resp)
}

// GetSnapshot returns the ranked map snapshot: the most recent events capped
// per city, only events with a resolved city. Served from the shared
// snapshot cache.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	events, err := h.snapshotter.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to load snapshot", err)
		return
	}
	if events == nil {
		events = []models.FailedLogin{}
	}

	resp := models.NewSuccessResponse(events, time.Since(start), false)
	respondJSON(w, http.StatusOK, &resp)
}

// GetStats returns overall totals.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	total, err := h.store.TotalCount(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to query stats", err)
		return
	}

	resp := models.NewSuccessResponse(map[string]interface{}{
		"total_count":       total,
		"websocket_clients": h.hub.ClientCount(),
	}, time.Since(start), false)
	respondJSON(w, http.StatusOK, &resp)
}

// GetStatsCountries returns attack counts grouped by country, highest first.
func (h *Handler) GetStatsCountries(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(getIntParam(r, "limit", defaultCountriesLimit), 1, maxCountriesLimit)

	start := time.Now()
	counts, err := h.store.CountByCountry(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to query country stats", err)
		return
	}
	if counts == nil {
		counts = []models.CountryCount{}
	}

	resp := models.NewSuccessResponse(counts, time.Since(start), false)
	respondJSON(w, http.StatusOK, &resp)
}

// GetStatsHourly returns per-hour attack counts for the trailing window. The
// hours query parameter selects the window size.
func (h *Handler) GetStatsHourly(w http.ResponseWriter, r *http.Request) {
	hours := clampInt(getIntParam(r, "hours", defaultHourlyWindow), 1, maxHourlyWindow)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	start := time.Now()
	counts, err := h.store.CountByHour(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "failed to query hourly stats", err)
		return
	}
	if counts == nil {
		counts = []models.HourCount{}
	}

	resp := models.NewSuccessResponse(counts, time.Since(start), false)
	respondJSON(w, http.StatusOK, &resp)
}
