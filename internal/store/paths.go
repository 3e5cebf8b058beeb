// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package store

import "strings"

// Path scheme for the shared store. Sessions live under sessions/{token};
// the reverse index deviceSessions/{identity} maps an owner identity to
// the session it currently owns, preventing duplicate creation.
const (
	SessionsPrefix       = "sessions"
	DeviceSessionsPrefix = "deviceSessions"
)

// SessionPath is the session document path.
func SessionPath(token string) string {
	return SessionsPrefix + "/" + token
}

// DevicePath is an individual device sub-record path.
func DevicePath(token, deviceID string) string {
	return SessionsPrefix + "/" + token + "/devices/" + deviceID
}

// AnchorPath holds the primary's current anchor for a session.
func AnchorPath(token string) string {
	return SessionsPrefix + "/" + token + "/anchor"
}

// PositionPath holds the primary's latest position for a session.
func PositionPath(token string) string {
	return SessionsPrefix + "/" + token + "/position"
}

// AlarmPath is an individual active-alarm sub-record path.
func AlarmPath(token, alarmID string) string {
	return SessionsPrefix + "/" + token + "/alarms/" + alarmID
}

// AlarmsPrefix is the List prefix for all alarm sub-records of a session.
func AlarmsPrefix(token string) string {
	return SessionsPrefix + "/" + token + "/alarms/"
}

// ReverseIndexPath maps an owner identity to its session token.
func ReverseIndexPath(identity string) string {
	return DeviceSessionsPrefix + "/" + identity
}

// SessionTokenFromPath extracts the token from a sessions/{token} document
// path. Returns false for sub-record paths (devices, alarms, anchor,
// position) and anything outside the sessions prefix.
func SessionTokenFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, SessionsPrefix+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
