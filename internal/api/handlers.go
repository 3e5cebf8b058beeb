// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/producer"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/validation"
	"github.com/tomtom215/driftmark/internal/views"
)

// Pairing is the slice of the role coordinator the handlers need.
// Satisfied by *pairing.Coordinator.
type Pairing interface {
	StartPrimarySession(ctx context.Context) (string, error)
	JoinSecondarySession(ctx context.Context, token string) error
	Disconnect(ctx context.Context) error
	EndSession(ctx context.Context) error
	State() pairing.State
}

// SessionViews is the slice of the stream views the handlers need.
// Satisfied by *views.Views.
type SessionViews interface {
	Current() views.Update
	Subscribe() (<-chan views.Update, func())
	PrimaryLive() (producer.Position, bool)
}

// Handler implements the pairing HTTP surface.
type Handler struct {
	pairing Pairing
	views   SessionViews
	log     zerolog.Logger
}

// NewHandler creates the handler set.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHandler(p Pairing, v SessionViews, log zerolog.Logger) *Handler {
	return &Handler{pairing: p, views: v, log: log}
}

type joinRequest struct {
	Token string `json:"token" validate:"required,pairtoken"`
}

// sessionSummary is the join response payload.
type sessionSummary struct {
	Token         string    `json:"token"`
	OwnerIdentity string    `json:"ownerIdentity"`
	DeviceCount   int       `json:"deviceCount"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// pairingStatus is the GET /pairing payload.
type pairingStatus struct {
	Role                  session.Role `json:"role"`
	EffectiveSessionToken string       `json:"effectiveSessionToken,omitempty"`
}

// Start handles POST /api/v1/pairing/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	token, err := h.pairing.StartPrimarySession(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Join handles POST /api/v1/pairing/join.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		h.respondErrorCode(w, http.StatusBadRequest, apiErr.Code, apiErr.Message)
		return
	}

	if err := h.pairing.JoinSecondarySession(r.Context(), req.Token); err != nil {
		h.respondError(w, err)
		return
	}

	resp := sessionSummary{Token: req.Token}
	if u := h.views.Current(); u.Session != nil && u.Token == req.Token {
		resp.OwnerIdentity = u.Session.OwnerIdentity
		resp.DeviceCount = len(u.Session.Devices)
		resp.ExpiresAt = u.Session.ExpiresAt
	} else if st := h.pairing.State(); st.OwnerIdentity != "" {
		resp.OwnerIdentity = st.OwnerIdentity
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// Disconnect handles POST /api/v1/pairing/disconnect.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.pairing.Disconnect(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// End handles POST /api/v1/pairing/end.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	if err := h.pairing.EndSession(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /api/v1/pairing.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	st := h.pairing.State()
	h.respondJSON(w, http.StatusOK, pairingStatus{
		Role:                  st.Role,
		EffectiveSessionToken: st.EffectiveToken(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Debug().Err(err).Msg("response encode failed")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.respondErrorCode(w, status, code, err.Error())
}

func (h *Handler) respondErrorCode(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
