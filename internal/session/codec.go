// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package session

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrCorruptedState indicates a remote record that does not decode into a
// structurally valid session. Callers treat this as "session corrupted"
// and run the deletion+reset cascade rather than surfacing it as a
// blocking error.
var ErrCorruptedState = errors.New("corrupted session state")

// EncodeSession serializes a session to its store representation.
func EncodeSession(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// DecodeSession parses and validates a store record. This is the single
// deserialization boundary for remote session data: any record missing
// required fields, or violating the one-primary invariant, is rejected
// with ErrCorruptedState instead of leaking partial state to callers.
func DecodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %v: %w", err, ErrCorruptedState)
	}
	if err := validateShape(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateShape(s *Session) error {
	switch {
	case s.Token == "":
		return fmt.Errorf("missing token: %w", ErrCorruptedState)
	case s.OwnerIdentity == "":
		return fmt.Errorf("missing ownerIdentity: %w", ErrCorruptedState)
	case len(s.Devices) == 0:
		return fmt.Errorf("empty device map: %w", ErrCorruptedState)
	case s.CreatedAt.IsZero():
		return fmt.Errorf("missing createdAt: %w", ErrCorruptedState)
	case s.ExpiresAt.IsZero():
		return fmt.Errorf("missing expiresAt: %w", ErrCorruptedState)
	case !s.ExpiresAt.After(s.CreatedAt):
		return fmt.Errorf("expiresAt not after createdAt: %w", ErrCorruptedState)
	}

	primaries := 0
	for id, d := range s.Devices {
		if !d.Role.Valid() {
			return fmt.Errorf("device %s has unknown role %q: %w", id, d.Role, ErrCorruptedState)
		}
		if d.Role == RolePrimary {
			primaries++
			if id != s.OwnerIdentity {
				return fmt.Errorf("primary device %s is not the owner: %w", id, ErrCorruptedState)
			}
		}
	}
	if primaries != 1 {
		return fmt.Errorf("%d primary devices: %w", primaries, ErrCorruptedState)
	}
	return nil
}
