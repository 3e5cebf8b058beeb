// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownGrace = 10 * time.Second

// Server runs the HTTP API as a suture service.
type Server struct {
	addr    string
	handler http.Handler
	timeout time.Duration
	log     zerolog.Logger
}

// NewServer creates the HTTP server service.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewServer(addr string, handler http.Handler, timeout time.Duration, log zerolog.Logger) *Server {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		addr:    addr,
		handler: handler,
		timeout: timeout,
		log:     log,
	}
}

// String names the service in the supervision tree.
func (s *Server) String() string { return "http-server" }

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the websocket stream holds connections open
		// indefinitely. Per-write deadlines bound individual writes.
		IdleTimeout: 2 * s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown incomplete, closing")
		_ = srv.Close()
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
