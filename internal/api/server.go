// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP control surface of the daemon.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/camanchor/internal/api/middleware"
	"github.com/ManuGH/camanchor/internal/health"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/pipeline"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline is the part of pipeline.Service the API calls.
type Pipeline interface {
	Stats(ctx context.Context) (records.Stats, error)
	BalanceStatus(ctx context.Context) (pipeline.BalanceStatus, error)
	StartSession(ctx context.Context, source string, segmentSeconds int) (pipeline.SessionInfo, error)
	StopSession(ctx context.Context) error
	Session() (pipeline.SessionInfo, bool)
	Progress() pipeline.Progress
	Pins(ctx context.Context) ([]pinning.Pin, error)
}

// Config configures the HTTP server.
type Config struct {
	ListenAddr   string
	RateLimit    int
	RateWindow   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TracingService enables request spans under this service name.
	TracingService string
}

// Server serves the control routes.
type Server struct {
	cfg    Config
	pipe   Pipeline
	health *health.Manager
	router chi.Router
}

// New builds the server and its routes.
func New(cfg Config, pipe Pipeline, hm *health.Manager) *Server {
	s := &Server{cfg: cfg, pipe: pipe, health: hm}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer returns an http.Server bound to the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Probes and metrics sit outside the rate limiter.
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableMetrics:  true,
			EnableLogging:  true,
			TracingService: s.cfg.TracingService,
			RateLimit:      s.cfg.RateLimit,
			RateWindow:     s.cfg.RateWindow,
		})
		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/recording", func(r chi.Router) {
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Get("/stats", s.handleStats)
				r.Get("/balance", s.handleBalance)
				r.Get("/progress", s.handleProgress)
			})
			r.Get("/pins", s.handlePins)
		})
	})
	return r
}
