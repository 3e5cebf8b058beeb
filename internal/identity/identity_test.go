// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package identity

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/driftmark/internal/localstate"
)

func TestEnsureAuthenticatedStableAcrossRestart(t *testing.T) {
	state := localstate.NewFake()
	key := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	m := NewManager(state, key)
	first, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	if first == "" {
		t.Fatal("empty identity")
	}

	again, err := m.EnsureAuthenticated(ctx)
	if err != nil || again != first {
		t.Fatalf("second call = %q err=%v, want %q", again, err, first)
	}

	// A new manager over the same local state simulates a restart.
	restarted, err := NewManager(state, key).EnsureAuthenticated(ctx)
	if err != nil || restarted != first {
		t.Fatalf("after restart = %q err=%v, want %q", restarted, err, first)
	}
}

func TestCredentialIsVerifiableJWT(t *testing.T) {
	state := localstate.NewFake()
	key := []byte("0123456789abcdef0123456789abcdef")
	m := NewManager(state, key)
	ctx := context.Background()

	id, err := m.EnsureAuthenticated(ctx)
	if err != nil {
		t.Fatalf("EnsureAuthenticated: %v", err)
	}
	credential, err := m.Credential(ctx)
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}

	token, err := jwt.ParseWithClaims(credential, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("credential not verifiable: %v", err)
	}
	claims := token.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != id {
		t.Errorf("subject = %q, want %q", claims.Subject, id)
	}
}
