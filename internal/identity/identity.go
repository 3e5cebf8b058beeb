// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package identity supplies the stable anonymous device identity consumed
// by the remote store bootstrap. The identity is a UUID minted on first
// launch and persisted locally; a self-signed JWT over that identity is
// the credential presented to the store backend, and re-signing it is
// what an "authentication refresh" means on permission-denied retries.
//
// The authentication mechanism proper (account linking, server-side
// verification) is an external collaborator and out of scope here.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/driftmark/internal/localstate"
)

// CredentialTTL is the lifetime of a minted credential. Short by design;
// the resilient store wrapper refreshes on demand.
const CredentialTTL = time.Hour

// Manager mints and caches the device identity and its credential.
type Manager struct {
	state      localstate.Store
	signingKey []byte

	mu         sync.Mutex
	deviceID   string
	credential string
	expiresAt  time.Time
	now        func() time.Time
}

// NewManager creates a manager persisting the identity in state and
// signing credentials with key.
func NewManager(state localstate.Store, key []byte) *Manager {
	return &Manager{state: state, signingKey: key, now: time.Now}
}

// EnsureAuthenticated returns the stable device identity, minting and
// persisting one on first use and refreshing the credential when expired.
// Implements the store's IdentityProvider contract.
func (m *Manager) EnsureAuthenticated(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deviceID == "" {
		id, found, err := m.state.GetString(localstate.KeyDeviceIdentity)
		if err != nil {
			return "", fmt.Errorf("load device identity: %w", err)
		}
		if !found {
			id = uuid.NewString()
			if err := m.state.SetString(localstate.KeyDeviceIdentity, id); err != nil {
				return "", fmt.Errorf("persist device identity: %w", err)
			}
		}
		m.deviceID = id
	}

	if m.credential == "" || !m.expiresAt.After(m.now()) {
		if err := m.mint(); err != nil {
			return "", err
		}
	}
	return m.deviceID, nil
}

// Credential returns the current signed credential, refreshing it first
// if needed.
func (m *Manager) Credential(ctx context.Context) (string, error) {
	if _, err := m.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, nil
}

func (m *Manager) mint() error {
	now := m.now()
	expires := now.Add(CredentialTTL)
	claims := jwt.RegisteredClaims{
		Subject:   m.deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		Issuer:    "driftmark",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return fmt.Errorf("sign credential: %w", err)
	}
	m.credential = signed
	m.expiresAt = expires
	return nil
}
