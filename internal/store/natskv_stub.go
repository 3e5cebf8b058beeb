// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

//go:build !nats

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// JetStreamConfig configures the JetStream KV backend (stub: binary built
// without the nats tag).
type JetStreamConfig struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns production defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           "nats://127.0.0.1:4222",
		Bucket:        "driftmark",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// IdentityProvider supplies the stable anonymous device identity used by
// EnsureAuthenticated. The authentication mechanism itself is external.
type IdentityProvider interface {
	EnsureAuthenticated(ctx context.Context) (identity string, err error)
}

// JetStream is unavailable without the nats build tag.
type JetStream struct{}

// ErrJetStreamDisabled is returned when the binary was built without the
// nats tag but the configuration selects the JetStream backend.
var ErrJetStreamDisabled = errors.New("store: built without nats support (rebuild with -tags nats)")

// NewJetStream always fails in the stub build.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewJetStream(_ JetStreamConfig, _ IdentityProvider, _ zerolog.Logger) (*JetStream, error) {
	return nil, ErrJetStreamDisabled
}

// Close is a no-op in the stub build.
func (s *JetStream) Close() {}

// Get is unreachable in the stub build.
func (s *JetStream) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, ErrJetStreamDisabled
}

// Set is unreachable in the stub build.
func (s *JetStream) Set(context.Context, string, []byte) error { return ErrJetStreamDisabled }

// Update is unreachable in the stub build.
func (s *JetStream) Update(context.Context, string, map[string]any) error {
	return ErrJetStreamDisabled
}

// Delete is unreachable in the stub build.
func (s *JetStream) Delete(context.Context, string) error { return ErrJetStreamDisabled }

// List is unreachable in the stub build.
func (s *JetStream) List(context.Context, string) ([]Entry, error) {
	return nil, ErrJetStreamDisabled
}

// Watch is unreachable in the stub build.
func (s *JetStream) Watch(context.Context, string) (Watcher, error) {
	return nil, ErrJetStreamDisabled
}

// EnsureAuthenticated is unreachable in the stub build.
func (s *JetStream) EnsureAuthenticated(context.Context) (string, error) {
	return "", ErrJetStreamDisabled
}
