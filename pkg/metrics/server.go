// Standalone metrics listener
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Addr string

	// Ready reports whether the host accepts commands. Nil means always.
	Ready func() bool

	// Basic auth on /metrics, disabled when both are empty.
	Username string
	Password string

	Timeout time.Duration
}

// Server exposes the host registry on its own address, for deployments
// that keep the status API private. Routes: /metrics, /healthz, /readyz.
type Server struct {
	opts  ServerOptions
	mux   *http.ServeMux
	http  *http.Server
	start time.Time
}

// NewServer builds a listener for hm on addr with no auth.
func NewServer(hm *HostMetrics, addr string, ready func() bool) *Server {
	return NewServerWithOptions(hm, ServerOptions{Addr: addr, Ready: ready})
}

// NewServerWithOptions builds a listener for hm.
func NewServerWithOptions(hm *HostMetrics, opts ServerOptions) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	s := &Server{
		opts:  opts,
		mux:   http.NewServeMux(),
		start: time.Now(),
	}
	s.mux.Handle("GET /metrics", s.auth(hm.Handler()))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.mux,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "ok uptime=%.0fs\n", time.Since(s.start).Seconds())
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.opts.Ready != nil && !s.opts.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not ready")
		return
	}
	fmt.Fprintln(w, "ready")
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.opts.Username == "" && s.opts.Password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !equal(user, s.opts.Username) || !equal(pass, s.opts.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="purgebelt"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
