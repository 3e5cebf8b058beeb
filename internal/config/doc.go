// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package config loads the daemon configuration with Koanf v2, layering
// built-in defaults, an optional YAML file, and environment variables in
// ascending precedence. All sections are plain structs with koanf tags;
// Validate enforces cross-field constraints after unmarshaling.
package config
