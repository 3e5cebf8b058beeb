// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package session

import (
	"time"
)

// Role identifies a device's part in a pairing.
type Role string

const (
	// RolePrimary owns the session and publishes domain data into it.
	RolePrimary Role = "primary"

	// RoleSecondary joined the session to observe, read-only.
	RoleSecondary Role = "secondary"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// Device is one participant in a session. Re-joining with the same
// DeviceID updates the existing entry rather than duplicating it.
type Device struct {
	DeviceID   string     `json:"deviceId"`
	Role       Role       `json:"role"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Session is the shared record coordinating one primary device and its
// secondary observers. Exactly one device entry has RolePrimary and its
// id equals OwnerIdentity.
type Session struct {
	Token         string            `json:"token"`
	OwnerIdentity string            `json:"ownerIdentity"`
	Devices       map[string]Device `json:"devices"`
	CreatedAt     time.Time         `json:"createdAt"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	IsActive      bool              `json:"isActive"`
}

// New builds a fresh active session owned by identity, with the owner
// installed as the primary device.
func New(token, identity string, ttl time.Duration, now time.Time) *Session {
	return &Session{
		Token:         token,
		OwnerIdentity: identity,
		Devices: map[string]Device{
			identity: {
				DeviceID: identity,
				Role:     RolePrimary,
				JoinedAt: now,
			},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IsActive:  true,
	}
}

// Expired reports whether the session's ExpiresAt has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Usable reports whether the session is active and unexpired. ExpiresAt is
// authoritative: an inactive or expired session is never usable regardless
// of any other field.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}

// Primary returns the primary device entry.
func (s *Session) Primary() (Device, bool) {
	d, ok := s.Devices[s.OwnerIdentity]
	if !ok || d.Role != RolePrimary {
		return Device{}, false
	}
	return d, true
}

// UpsertSecondary adds or refreshes a secondary device entry. An existing
// entry keeps its identity but gets JoinedAt refreshed; LastSeenAt is set
// either way.
func (s *Session) UpsertSecondary(deviceID string, now time.Time) {
	seen := now
	s.Devices[deviceID] = Device{
		DeviceID:   deviceID,
		Role:       RoleSecondary,
		JoinedAt:   now,
		LastSeenAt: &seen,
	}
}

// RemoveDevice drops a device entry. Removing the primary is not allowed
// and is ignored; the primary leaves by ending the session.
func (s *Session) RemoveDevice(deviceID string) {
	if deviceID == s.OwnerIdentity {
		return
	}
	delete(s.Devices, deviceID)
}

// Clone returns a deep copy. Views hand sessions to subscribers, which
// must not share the device map with the watch goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Devices = make(map[string]Device, len(s.Devices))
	for id, d := range s.Devices {
		if d.LastSeenAt != nil {
			seen := *d.LastSeenAt
			d.LastSeenAt = &seen
		}
		out.Devices[id] = d
	}
	return &out
}
