// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

//go:build nats

// Package testinfra provides test infrastructure for integration testing
// against a real JetStream-enabled NATS server.
//
// The server runs embedded in the test process, so integration tests need
// no external daemon or container. Tests that use it build only with the
// nats tag, matching the production store backend:
//
//	go test -tags nats ./internal/store/
package testinfra

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

const serverStartTimeout = 10 * time.Second

// StartJetStream runs an embedded JetStream-enabled NATS server on a
// random port and registers shutdown with t.Cleanup. Returns the client
// URL to connect to.
func StartJetStream(t *testing.T) string {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random free port
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create embedded nats server: %v", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(serverStartTimeout) {
		srv.Shutdown()
		t.Fatal("embedded nats server not ready")
	}

	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return srv.ClientURL()
}
