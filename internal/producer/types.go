// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package producer

import "time"

// Anchor is the dropped anchor point with its swing radius.
type Anchor struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	RadiusM   float64   `json:"radiusM"`
	SetAt     time.Time `json:"setAt"`
}

// Position is one GPS fix from the primary device.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	HeadingDeg float64   `json:"headingDeg,omitempty"`
	SpeedKts   float64   `json:"speedKts,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Alarm is one active alarm condition on the primary device.
type Alarm struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Message  string    `json:"message,omitempty"`
	RaisedAt time.Time `json:"raisedAt"`
}

// Alarm kinds produced by the anchor watch.
const (
	AlarmKindDrift      = "drift"
	AlarmKindGPSLost    = "gps_lost"
	AlarmKindLowBattery = "low_battery"
)
