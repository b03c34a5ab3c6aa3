// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bastionmap/bastionmap/internal/config"
	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/metrics"
)

// NewRouter builds the chi router with the full middleware stack and all
// routes.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(instrument)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.GetLogs)
			r.Get("/snapshot", h.GetSnapshot)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/", h.GetStats)
			r.Get("/countries", h.GetStatsCountries)
			r.Get("/hourly", h.GetStatsHourly)
		})

		r.Get("/ws", h.HandleWebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestID assigns an X-Request-ID when the client did not supply one and
// attaches it to the log context for the request.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := logging.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// instrument records per-route request counts by status code.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
