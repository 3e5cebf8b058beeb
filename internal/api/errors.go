// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapError translates the pairing error taxonomy to HTTP status and code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN"
	case errors.Is(err, pairing.ErrNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, pairing.ErrExpired):
		return http.StatusGone, "SESSION_EXPIRED"
	case errors.Is(err, pairing.ErrInactive):
		return http.StatusGone, "SESSION_INACTIVE"
	case errors.Is(err, pairing.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, pairing.ErrNotPrimary):
		return http.StatusConflict, "NOT_PRIMARY"
	case errors.Is(err, session.ErrCorruptedState):
		return http.StatusBadGateway, "CORRUPTED_SESSION"
	case errors.Is(err, store.ErrPermissionDenied):
		return http.StatusForbidden, "PERMISSION_DENIED"
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage, "QUOTA_EXCEEDED"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
