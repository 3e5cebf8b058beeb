// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package pairing

import "errors"

// Session lifecycle failures surfaced to the caller. Token-format and
// corruption errors live in the session package; transport and permission
// errors live in the store package.
var (
	// ErrNotFound means no session exists for the given token.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session's expiresAt has passed. The encounter
	// also triggers best-effort deletion of the remote record.
	ErrExpired = errors.New("session expired")

	// ErrInactive means the session exists but was ended by its primary.
	ErrInactive = errors.New("session inactive")

	// ErrRateLimited means createSession was called within the cooldown of
	// a prior successful creation. Transient; retry after the cooldown.
	ErrRateLimited = errors.New("session creation rate limited")

	// ErrNotPrimary means a primary-only operation was invoked while the
	// device is not an active primary.
	ErrNotPrimary = errors.New("not the primary device")
)
