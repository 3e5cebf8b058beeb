// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package main is the entry point for the Driftmark device daemon.
//
// Driftmark coordinates anchor-watch pairing sessions across devices. The
// primary device publishes its anchor, position, and active alarms into a
// shared JetStream KV bucket; secondary devices join a session by token
// and observe the primary's state in near real time.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 load (defaults, config file, env)
//  2. Local state: BadgerDB holding role state and the device identity
//  3. Remote store: JetStream KV (or in-memory for development) wrapped
//     in a circuit breaker with authentication-refresh retry
//  4. Pairing: session notifier plus the role coordinator
//  5. Sync: producer feed, store syncer, and the derived session views
//  6. HTTP API: Chi router with the pairing lifecycle and a websocket
//     stream of the effective session view
//
// The sync layer and the HTTP server run under a suture supervision tree
// and restart independently on failure.
//
// # Build Tags
//
//	go build -tags nats ./cmd/driftmark   # JetStream KV store backend
//	go build ./cmd/driftmark              # memory backend only
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the server stops
// accepting connections, in-flight requests get 10s to finish, then the
// sync layer and local database close.
//
// # Example Usage
//
// Development, no NATS server:
//
//	export STORE_BACKEND=memory
//	export LOCAL_STATE_PATH=/tmp/driftmark
//	./driftmark
//
// Production:
//
//	export NATS_URL=nats://nats:4222
//	export LOG_LEVEL=info
//	./driftmark
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tomtom215/driftmark/internal/api"
	"github.com/tomtom215/driftmark/internal/config"
	"github.com/tomtom215/driftmark/internal/identity"
	"github.com/tomtom215/driftmark/internal/localstate"
	"github.com/tomtom215/driftmark/internal/logging"
	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/producer"
	"github.com/tomtom215/driftmark/internal/store"
	"github.com/tomtom215/driftmark/internal/supervisor"
	"github.com/tomtom215/driftmark/internal/syncer"
	"github.com/tomtom215/driftmark/internal/views"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := localstate.Open(cfg.LocalState.Path)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	defer db.Close()
	state := localstate.NewBadger(db)

	signingKey, err := loadSigningKey(cfg, state)
	if err != nil {
		return err
	}
	ident := identity.NewManager(state, signingKey)

	backend, closeBackend, err := newBackend(cfg, ident)
	if err != nil {
		return fmt.Errorf("store backend: %w", err)
	}
	defer closeBackend()

	st := store.NewResilient(backend, store.ResilientConfig{
		ConsecutiveFailures: uint32(cfg.Store.BreakerFailures),
		OpenTimeout:         cfg.Store.BreakerOpenTimeout,
	}, logging.Component("store"))

	notifier := pairing.NewNotifier(st, pairing.NotifierConfig{
		CreateCooldown:  cfg.Pairing.CreateCooldown,
		SessionTTL:      cfg.Pairing.SessionTTL,
		RetentionWindow: cfg.Pairing.RetentionWindow,
	}, logging.Component("pairing"))

	coord, err := pairing.NewCoordinator(notifier, st, state, logging.Component("pairing"))
	if err != nil {
		return fmt.Errorf("pairing coordinator: %w", err)
	}
	defer coord.Close()

	feed := producer.NewFeed(logging.Component("producer"))
	defer feed.Close()

	vws := views.New(coord, st, views.Config{
		SelfHealInterval: cfg.Views.SelfHealInterval,
		LivenessWindow:   cfg.Views.LivenessWindow,
	}, logging.Component("views"))

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("supervision tree: %w", err)
	}
	tree.AddSyncService(syncer.New(coord, feed, st, logging.Component("syncer")))
	tree.AddSyncService(vws)

	handler := api.NewHandler(coord, vws, logging.Component("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	tree.AddAPIService(api.NewServer(addr, router, cfg.Server.Timeout, logging.Component("api")))

	logging.Info().
		Str("addr", addr).
		Str("backend", cfg.Store.Backend).
		Msg("driftmark starting")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("driftmark stopped")
		return nil
	}
	return err
}

// newBackend builds the remote store per configuration. The memory
// backend exists for development and tests; production uses JetStream.
func newBackend(cfg *config.Config, ident *identity.Manager) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		js, err := store.NewJetStream(store.JetStreamConfig{
			URL:           cfg.Store.URL,
			Bucket:        cfg.Store.Bucket,
			MaxReconnects: cfg.Store.MaxReconnects,
			ReconnectWait: cfg.Store.ReconnectWait,
		}, ident, logging.Component("store"))
		if err != nil {
			return nil, nil, err
		}
		return js, js.Close, nil
	}
}

// loadSigningKey resolves the credential signing key: configured value if
// set, otherwise a persisted per-device key generated on first launch.
func loadSigningKey(cfg *config.Config, state localstate.Store) ([]byte, error) {
	if cfg.Identity.SigningKey != "" {
		return []byte(cfg.Identity.SigningKey), nil
	}

	existing, found, err := state.GetString(localstate.KeySigningKey)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	if found {
		return []byte(existing), nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	key := hex.EncodeToString(raw)
	if err := state.SetString(localstate.KeySigningKey, key); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return []byte(key), nil
}
