// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestResilientPermissionDeniedRefreshesAuthOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// First get fails with permission denied; after the auth refresh the
	// injected failure is cleared so the retry succeeds.
	calls := 0
	m.Hook = func(op, _ string) {
		if op == "get" {
			calls++
			if calls == 1 {
				m.Fail["get"] = ErrPermissionDenied
			} else {
				delete(m.Fail, "get")
			}
		}
	}
	if err := m.Set(ctx, "sessions/X", []byte("v")); err != nil {
		t.Fatal(err)
	}

	r := NewResilient(m, DefaultResilientConfig(), zerolog.Nop())
	value, found, err := r.Get(ctx, "sessions/X")
	if err != nil {
		t.Fatalf("Get = %v, want success after auth refresh", err)
	}
	if !found || string(value) != "v" {
		t.Errorf("Get = %q found=%v", value, found)
	}
	if calls != 2 {
		t.Errorf("get attempts = %d, want 2", calls)
	}
	if m.AuthCalls() != 1 {
		t.Errorf("auth refreshes = %d, want 1", m.AuthCalls())
	}
}

func TestResilientPermissionDeniedSurfacesAfterRetry(t *testing.T) {
	m := NewMemory()
	m.Fail["set"] = ErrPermissionDenied

	r := NewResilient(m, DefaultResilientConfig(), zerolog.Nop())
	err := r.Set(context.Background(), "sessions/X", []byte("v"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Set = %v, want ErrPermissionDenied", err)
	}
	if m.AuthCalls() != 1 {
		t.Errorf("auth refreshes = %d, want exactly 1", m.AuthCalls())
	}
}

func TestResilientQuotaPassesThrough(t *testing.T) {
	m := NewMemory()
	m.Fail["set"] = ErrQuotaExceeded

	r := NewResilient(m, DefaultResilientConfig(), zerolog.Nop())
	err := r.Set(context.Background(), "sessions/X", []byte("v"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Set = %v, want ErrQuotaExceeded", err)
	}
	if m.AuthCalls() != 0 {
		t.Errorf("quota errors must not trigger auth refresh, got %d", m.AuthCalls())
	}
}

func TestResilientBreakerOpensOnTransportFailures(t *testing.T) {
	m := NewMemory()
	m.Fail["get"] = ErrUnavailable

	cfg := ResilientConfig{ConsecutiveFailures: 3, OpenTimeout: DefaultResilientConfig().OpenTimeout}
	r := NewResilient(m, cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := r.Get(ctx, "p"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}

	// Breaker is now open: the backend must not be hit.
	hits := 0
	m.Hook = func(op, _ string) {
		if op == "get" {
			hits++
		}
	}
	if _, _, err := r.Get(ctx, "p"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open breaker err = %v, want ErrUnavailable", err)
	}
	if hits != 0 {
		t.Errorf("backend hit %d times while breaker open", hits)
	}
}

func TestResilientBreakerIgnoresPolicyErrors(t *testing.T) {
	m := NewMemory()
	m.Fail["set"] = ErrQuotaExceeded

	cfg := ResilientConfig{ConsecutiveFailures: 2, OpenTimeout: DefaultResilientConfig().OpenTimeout}
	r := NewResilient(m, cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := r.Set(ctx, "p", nil); !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("attempt %d: err = %v, want ErrQuotaExceeded (breaker must stay closed)", i, err)
		}
	}
}
