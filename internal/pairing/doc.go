// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package pairing implements the pairing session lifecycle: the session
// notifier executing create/join/end against the remote store, and the
// role coordinator owning this device's authoritative answer to "which
// session am I driving, and as what role".
//
// The coordinator is an explicit state machine over three states:
//
//	Unpaired-Primary  role=primary, no session token
//	Active-Primary    role=primary, local session token set
//	Active-Secondary  role=secondary, remote session token set
//
// Only the coordinator mutates role state; every other component observes
// it through Subscribe. Each mutation is persisted to local storage
// before it is committed in memory, so a restart rehydrates into the
// same pairing, and a failed persistence write leaves the caller with an
// error and the state unchanged.
//
// The remote store provides no locking. Duplicate-create races are
// mitigated by the creation cooldown plus adopt-existing-session logic
// in the notifier, not by mutual exclusion; the store itself resolves
// concurrent writes last-writer-wins.
package pairing
