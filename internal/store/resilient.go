// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/driftmark/internal/metrics"
)

// ResilientConfig tunes the circuit breaker around the wrapped backend.
type ResilientConfig struct {
	// ConsecutiveFailures before the breaker opens.
	// Default: 5
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 15s
	OpenTimeout time.Duration
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         15 * time.Second,
	}
}

// Resilient wraps a Store with a circuit breaker and the permission-denied
// retry contract: on ErrPermissionDenied it refreshes authentication once
// and retries the operation once, then surfaces the error.
//
// Permission and quota rejections are policy outcomes, not availability
// failures, so they do not count toward opening the breaker.
type Resilient struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
	log     zerolog.Logger
}

// NewResilient wraps inner.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewResilient(inner Store, cfg ResilientConfig, log zerolog.Logger) *Resilient {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 15 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, ErrPermissionDenied) ||
				errors.Is(err, ErrQuotaExceeded) ||
				errors.Is(err, ErrNoDocument)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store breaker state change")
		},
	}

	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		log:     log,
	}
}

// execute runs op through the breaker with the auth-refresh retry and
// records operation metrics.
func (r *Resilient) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	result, err := r.breaker.Execute(func() (any, error) {
		result, err := fn()
		if errors.Is(err, ErrPermissionDenied) {
			r.log.Debug().Str("op", op).Msg("permission denied, refreshing authentication")
			if _, authErr := r.inner.EnsureAuthenticated(ctx); authErr != nil {
				return nil, err
			}
			return fn()
		}
		return result, err
	})
	metrics.ObserveStoreOp(op, time.Since(start), err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: breaker open: %w", op, ErrUnavailable)
	}
	return result, err
}

// Get reads the document at path.
func (r *Resilient) Get(ctx context.Context, path string) ([]byte, bool, error) {
	type getResult struct {
		value []byte
		found bool
	}
	result, err := r.execute(ctx, "get", func() (any, error) {
		value, found, err := r.inner.Get(ctx, path)
		return getResult{value, found}, err
	})
	if err != nil {
		return nil, false, err
	}
	res := result.(getResult)
	return res.value, res.found, nil
}

// Set writes the document at path.
func (r *Resilient) Set(ctx context.Context, path string, value []byte) error {
	_, err := r.execute(ctx, "set", func() (any, error) {
		return nil, r.inner.Set(ctx, path, value)
	})
	return err
}

// Update deep-merges fields into the document at path.
func (r *Resilient) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.execute(ctx, "update", func() (any, error) {
		return nil, r.inner.Update(ctx, path, fields)
	})
	return err
}

// Delete removes the document at path.
func (r *Resilient) Delete(ctx context.Context, path string) error {
	_, err := r.execute(ctx, "delete", func() (any, error) {
		return nil, r.inner.Delete(ctx, path)
	})
	return err
}

// List returns all documents under prefix.
func (r *Resilient) List(ctx context.Context, prefix string) ([]Entry, error) {
	result, err := r.execute(ctx, "list", func() (any, error) {
		return r.inner.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	entries, _ := result.([]Entry)
	return entries, nil
}

// Watch subscribes to changes at path. Watches bypass the breaker: a
// long-lived subscription is not a request, and the views own their
// re-subscribe backoff.
func (r *Resilient) Watch(ctx context.Context, path string) (Watcher, error) {
	return r.inner.Watch(ctx, path)
}

// EnsureAuthenticated bootstraps the store identity.
func (r *Resilient) EnsureAuthenticated(ctx context.Context) (string, error) {
	result, err := r.execute(ctx, "auth", func() (any, error) {
		return r.inner.EnsureAuthenticated(ctx)
	})
	if err != nil {
		return "", err
	}
	id, _ := result.(string)
	return id, nil
}
