// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package api provides the HTTP surface over the pairing coordinator and
// the derived session views: the four lifecycle operations, a status
// endpoint, and a websocket stream of the effective session view.
// Routing uses Chi with the ecosystem middleware stack (request ID, real
// IP, panic recovery, CORS, per-IP rate limiting).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds routing middleware configuration.
type RouterConfig struct {
	// CORSOrigins lists allowed origins. Default: none (same-origin only).
	CORSOrigins []string

	// RateLimitReqs is the per-IP request budget per window. Default: 100
	RateLimitReqs int

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// NewRouter assembles the full route tree.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitReqs == 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/pairing", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Get("/", h.Status)
		r.Get("/stream", h.Stream)
		r.Post("/start", h.Start)
		r.Post("/join", h.Join)
		r.Post("/disconnect", h.Disconnect)
		r.Post("/end", h.End)
	})

	return r
}
