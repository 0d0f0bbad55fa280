// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: the HMAC-gated worker callback
// endpoint, token-authenticated read endpoints and health probes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voxmill/settled/internal/config"
	"github.com/voxmill/settled/internal/dispatch"
	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/log"
	"github.com/voxmill/settled/internal/middleware"
	"github.com/voxmill/settled/internal/store"
)

// Server wires the HTTP routes to the dispatch core and the stores.
type Server struct {
	cfg    config.Config
	router *dispatch.Router
	store  *store.Store
	ledger *ledger.Ledger
	logger zerolog.Logger
	mux    *chi.Mux
}

// New builds the server with the canonical middleware stack and all routes.
func New(cfg config.Config, router *dispatch.Router, s *store.Store, l *ledger.Ledger) *Server {
	srv := &Server{
		cfg:    cfg,
		router: router,
		store:  s,
		ledger: l,
		logger: log.WithComponent("api"),
	}

	tracing := ""
	if cfg.TracingEnabled {
		tracing = cfg.LogService
	}
	mux := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:   true,
		TracingService:  tracing,
		EnableLogging:   true,
		EnableRateLimit: cfg.RateLimitRPS > 0,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
	})

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())

	mux.Route("/api/v1", func(r chi.Router) {
		r.Post("/callbacks", srv.handleCallback)

		r.Group(func(r chi.Router) {
			r.Use(srv.authMiddleware)
			r.Get("/tasks/{id}", srv.handleTaskByID)
			r.Get("/tasks", srv.handleTasksByJobID)
			r.Get("/ledger/{userId}/balance", srv.handleBalance)
			r.Get("/ledger/{userId}/transactions", srv.handleTransactions)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// HTTPServer builds the http.Server with the configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
}
