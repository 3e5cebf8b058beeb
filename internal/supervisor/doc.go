// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package supervisor builds the suture supervision tree that keeps the
// long-running services alive: the sync coordinator, the stream views,
// and the HTTP API. Supervisor events are logged through a slog handler
// bridged to the global zerolog logger.
package supervisor
