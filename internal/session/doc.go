// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package session defines the shared pairing session domain model: the
// Session and Device records replicated through the remote store, the
// opaque pairing token format, and the single strict decode boundary
// through which every remote record enters the process.
//
// The session record is owned by the remote store and resolved
// last-writer-wins; this package never talks to the store itself. All
// shape validation happens in DecodeSession so callers can rely on a
// decoded *Session satisfying the structural invariants (non-empty device
// map, exactly one primary, primary id equals the owner identity).
package session
