// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package store

import (
	"context"
	"errors"
)

// Backend failure classes. Backends normalize their native errors into
// these so the pairing layer can branch without knowing the transport.
var (
	// ErrPermissionDenied is an auth/store rule rejection. The resilient
	// wrapper retries once after refreshing authentication, then surfaces.
	ErrPermissionDenied = errors.New("store: permission denied")

	// ErrQuotaExceeded is backend resource exhaustion. Fatal to remote
	// operations until external remediation; local-only operation continues.
	ErrQuotaExceeded = errors.New("store: quota exceeded")

	// ErrUnavailable is a transient transport failure (offline, timeout).
	ErrUnavailable = errors.New("store: unavailable")

	// ErrNoDocument is returned by Update when no document exists at the
	// path. Plain Get absence is reported via the found flag instead.
	ErrNoDocument = errors.New("store: no document at path")
)

// Event is one delivery from a watch: the value at the path, or absence
// after a delete (or when the path was empty at subscription time).
type Event struct {
	Value  []byte
	Exists bool
}

// Watcher is a live subscription on a single path.
type Watcher interface {
	// Updates delivers the current value first, then changes. The channel
	// closes when the watcher is stopped or its context ends.
	Updates() <-chan Event

	// Stop cancels the subscription and closes the updates channel.
	Stop()
}

// Entry is one path/value pair from a List.
type Entry struct {
	Path  string
	Value []byte
}

// Store is the remote store adapter consumed by the pairing layer.
// Values are opaque documents; merge semantics are last-writer-wins.
type Store interface {
	// Get reads the document at path. found is false for absence; err is
	// reserved for transport and permission failures.
	Get(ctx context.Context, path string) (value []byte, found bool, err error)

	// Set writes the document at path, creating or replacing it.
	Set(ctx context.Context, path string, value []byte) error

	// Update deep-merges the given fields into the document at path.
	// Returns ErrNoDocument if nothing exists there.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting an absent path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// List returns all documents whose path starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Watch subscribes to changes at path.
	Watch(ctx context.Context, path string) (Watcher, error)

	// EnsureAuthenticated bootstraps (or refreshes) the store identity and
	// returns the stable anonymous identity for this device.
	EnsureAuthenticated(ctx context.Context) (identity string, err error)
}
