// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package store is the thin adapter over the shared remote document
// backend. The backend is passive: it offers get/set/update/delete/watch
// on slash-separated paths plus an identity bootstrap, and every piece of
// consistency logic lives in the clients above this package.
//
// Two backends are provided. The JetStream KV backend (build tag "nats")
// is the production store: one KV bucket, paths mapped to KV keys, live
// watches via KeyWatcher. The in-memory backend serves unit tests and
// local-only operation when the remote store is unreachable.
//
// Resilient wraps any backend with a circuit breaker and a single
// authentication-refresh retry on permission-denied, the contract the
// pairing layer relies on.
//
// Watch semantics, relied on by the stream views: a new watcher always
// delivers the current value (or absence) first, then subsequent updates.
package store
