// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package api serves the local UI: session control state over REST, live
// aggregated telemetry over websocket, Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dynolink/dynolink/internal/analysis"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/session"
)

// Config holds the HTTP server settings.
type Config struct {
	Host        string
	Port        int
	Timeout     time.Duration
	CORSOrigins []string

	// PushInterval paces websocket state pushes, 50ms (20 Hz) by default.
	PushInterval time.Duration
}

// Server is the HTTP API. It implements suture.Service so it runs under the
// same supervision as everything else.
type Server struct {
	cfg        Config
	controller *session.Controller
	analysis   *analysis.Engine
	router     chi.Router
}

// New builds the API server around a session controller and the analysis
// engine.
func New(cfg Config, controller *session.Controller, eng *analysis.Engine) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 50 * time.Millisecond
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		cfg:        cfg,
		controller: controller,
		analysis:   eng,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/health", s.handleHealth)
		r.Get("/providers", s.handleProviders)
		r.Get("/mappings", s.handleMappings)
		r.Get("/deadletter", s.handleDeadLetters)
		r.Post("/deadletter/{id}/retry", s.handleRetryDeadLetter)
	})
	r.Get("/ws", s.handleWebsocket)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve implements suture.Service: listen until the context is canceled,
// then shut down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Timeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info().Str("addr", srv.Addr).Msg("http api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analysis.GetState())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.controller.Health()
	status := http.StatusOK
	if health.State == session.StateRunning && !health.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":    s.controller.Ready(),
		"mappings": s.controller.Mappings(),
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.controller.Queue().DeadLetters().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if letters == nil {
		letters = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.controller.Queue().RetryDeadLetter(id)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "requeued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
