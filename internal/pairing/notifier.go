// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/metrics"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// NotifierConfig tunes session CRUD behavior.
type NotifierConfig struct {
	// CreateCooldown rejects repeat createSession calls after a successful
	// creation. Guards against double-tap and duplicate reactive triggers.
	// Default: 5s
	CreateCooldown time.Duration

	// SessionTTL sets expiresAt relative to creation time.
	// Default: 24h
	SessionTTL time.Duration

	// RetentionWindow is the age past which inactive sessions are swept.
	// expiresAt stays authoritative; this rule is a secondary GC pass and
	// never touches an active, unexpired session.
	// Default: 24h
	RetentionWindow time.Duration
}

// DefaultNotifierConfig returns production defaults.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		CreateCooldown:  5 * time.Second,
		SessionTTL:      24 * time.Hour,
		RetentionWindow: 24 * time.Hour,
	}
}

// ownedRef is the reverse index record mapping an owner identity to the
// session it currently owns.
type ownedRef struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier executes session CRUD against the remote store with the safety
// checks the passive backend cannot enforce: creation cooldown, idempotent
// adopt via the reverse index, stale-session cleanup, and local-only
// degradation when the store is unreachable during creation.
type Notifier struct {
	store store.Store
	cfg   NotifierConfig
	log   zerolog.Logger

	// now is replaceable in tests. The cooldown is evaluated against a
	// stored timestamp, never a blocking sleep.
	now func() time.Time

	mu         sync.Mutex
	lastCreate time.Time
	current    *session.Session
	localOnly  bool
}

// NewNotifier creates a notifier over the given store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewNotifier(st store.Store, cfg NotifierConfig, log zerolog.Logger) *Notifier {
	if cfg.CreateCooldown == 0 {
		cfg.CreateCooldown = 5 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.RetentionWindow == 0 {
		cfg.RetentionWindow = 24 * time.Hour
	}
	return &Notifier{
		store: st,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// CreateSession creates (or idempotently adopts) a session owned by this
// device's identity and returns its token.
//
// Store write failures other than quota exhaustion do not fail the call:
// the session is adopted into memory and the device operates local-only
// until the next successful write.
func (n *Notifier) CreateSession(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if !n.lastCreate.IsZero() && now.Sub(n.lastCreate) < n.cfg.CreateCooldown {
		metrics.SessionLifecycleFailures.WithLabelValues("create", "rate_limited").Inc()
		return "", fmt.Errorf("created %s ago: %w", now.Sub(n.lastCreate), ErrRateLimited)
	}

	identity, err := n.store.EnsureAuthenticated(ctx)
	if err != nil {
		metrics.SessionLifecycleFailures.WithLabelValues("create", "auth").Inc()
		return "", fmt.Errorf("create session: %w", err)
	}

	// Idempotent create: adopt an existing owned session if it is still
	// usable, clean it up if not.
	if token, adopted := n.adoptOwned(ctx, identity, now); adopted {
		n.lastCreate = now
		metrics.SessionCreates.Inc()
		return token, nil
	}

	n.sweep(ctx, now)

	token, err := session.GenerateToken()
	if err != nil {
		return "", err
	}
	sess := session.New(token, identity, n.cfg.SessionTTL, now)
	data, err := session.EncodeSession(sess)
	if err != nil {
		return "", err
	}

	if err := n.store.Set(ctx, store.SessionPath(token), data); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			metrics.SessionLifecycleFailures.WithLabelValues("create", "quota").Inc()
			return "", fmt.Errorf("create session: %w", err)
		}
		// Offline or otherwise unreachable: keep the session in memory and
		// operate local-only rather than failing the pairing.
		n.log.Warn().Err(err).Str("token", token).Msg("session write failed, operating local-only")
		n.localOnly = true
	} else {
		n.localOnly = false
		if err := n.writeReverseIndex(ctx, identity, token, now); err != nil {
			n.log.Warn().Err(err).Msg("reverse index write failed")
		}
	}

	n.current = sess
	n.lastCreate = now
	metrics.SessionCreates.Inc()
	return token, nil
}

// adoptOwned checks the reverse index for a session already owned by
// identity. A usable one is adopted; a stale one is deleted along with
// its index entry.
func (n *Notifier) adoptOwned(ctx context.Context, identity string, now time.Time) (string, bool) {
	raw, found, err := n.store.Get(ctx, store.ReverseIndexPath(identity))
	if err != nil || !found {
		return "", false
	}
	var ref ownedRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Token == "" {
		n.deleteBestEffort(ctx, store.ReverseIndexPath(identity))
		return "", false
	}

	raw, found, err = n.store.Get(ctx, store.SessionPath(ref.Token))
	if err != nil {
		return "", false
	}
	if found {
		sess, derr := session.DecodeSession(raw)
		if derr == nil && sess.Usable(now) {
			n.current = sess
			n.log.Info().Str("token", ref.Token).Msg("adopted existing owned session")
			return ref.Token, true
		}
	}

	// Owned session is gone, expired, inactive, or corrupted.
	n.deleteBestEffort(ctx, store.SessionPath(ref.Token))
	n.deleteBestEffort(ctx, store.ReverseIndexPath(identity))
	return "", false
}

// sweep deletes sessions that are expired, or inactive and older than the
// retention window. Best effort: failures are logged, never fatal.
// expiresAt is authoritative; an active, unexpired session is never swept
// regardless of age.
func (n *Notifier) sweep(ctx context.Context, now time.Time) {
	entries, err := n.store.List(ctx, store.SessionsPrefix+"/")
	if err != nil {
		n.log.Debug().Err(err).Msg("session sweep skipped")
		return
	}
	for _, entry := range entries {
		token, ok := store.SessionTokenFromPath(entry.Path)
		if !ok {
			continue
		}
		sess, err := session.DecodeSession(entry.Value)
		switch {
		case err != nil:
			n.log.Warn().Str("token", token).Msg("sweeping corrupted session record")
		case sess.Expired(now):
			n.log.Debug().Str("token", token).Msg("sweeping expired session")
		case !sess.IsActive && now.Sub(sess.CreatedAt) > n.cfg.RetentionWindow:
			n.log.Debug().Str("token", token).Msg("sweeping stale inactive session")
		default:
			continue
		}
		n.deleteBestEffort(ctx, entry.Path)
		if err == nil {
			n.deleteBestEffort(ctx, store.ReverseIndexPath(sess.OwnerIdentity))
		}
		metrics.SessionsSwept.Inc()
	}
}

// JoinSession adds this device to an existing session as a secondary and
// returns the refreshed session record. Unlike creation, join failures
// always propagate: a secondary with no valid remote session has nothing
// useful to display.
func (n *Notifier) JoinSession(ctx context.Context, token string) (*session.Session, error) {
	if err := session.ValidateToken(token); err != nil {
		metrics.SessionLifecycleFailures.WithLabelValues("join", "invalid_token").Inc()
		return nil, err
	}

	deviceID, err := n.store.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}

	// Read-access probe: fail fast on permission errors before the full
	// fetch-and-decode path.
	if _, _, err := n.store.Get(ctx, store.SessionPath(token)); err != nil {
		metrics.SessionLifecycleFailures.WithLabelValues("join", "probe").Inc()
		return nil, fmt.Errorf("join session: %w", err)
	}

	sess, err := n.fetchUsable(ctx, token)
	if err != nil {
		return nil, err
	}

	now := n.now()
	sess.UpsertSecondary(deviceID, now)

	data, err := session.EncodeSession(sess)
	if err != nil {
		return nil, err
	}
	if err := n.store.Set(ctx, store.SessionPath(token), data); err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	device := sess.Devices[deviceID]
	devData, err := json.Marshal(device)
	if err != nil {
		return nil, err
	}
	if err := n.store.Set(ctx, store.DevicePath(token, deviceID), devData); err != nil {
		return nil, fmt.Errorf("join session device record: %w", err)
	}

	// Re-fetch so the caller sees the store's current view, including any
	// concurrent writes that won the merge.
	sess, err = n.fetchUsable(ctx, token)
	if err != nil {
		return nil, err
	}
	metrics.SessionJoins.Inc()
	return sess, nil
}

// fetchUsable fetches and decodes a session, mapping absence and
// lifecycle states to the error taxonomy. Encountering an expired session
// triggers its best-effort deletion.
func (n *Notifier) fetchUsable(ctx context.Context, token string) (*session.Session, error) {
	raw, found, err := n.store.Get(ctx, store.SessionPath(token))
	if err != nil {
		return nil, fmt.Errorf("fetch session: %w", err)
	}
	if !found {
		metrics.SessionLifecycleFailures.WithLabelValues("join", "not_found").Inc()
		return nil, fmt.Errorf("token %s: %w", token, ErrNotFound)
	}
	sess, err := session.DecodeSession(raw)
	if err != nil {
		n.deleteBestEffort(ctx, store.SessionPath(token))
		metrics.SessionLifecycleFailures.WithLabelValues("join", "corrupted").Inc()
		return nil, err
	}
	now := n.now()
	if sess.Expired(now) {
		n.deleteBestEffort(ctx, store.SessionPath(token))
		n.deleteBestEffort(ctx, store.ReverseIndexPath(sess.OwnerIdentity))
		metrics.SessionLifecycleFailures.WithLabelValues("join", "expired").Inc()
		return nil, fmt.Errorf("token %s: %w", token, ErrExpired)
	}
	if !sess.IsActive {
		metrics.SessionLifecycleFailures.WithLabelValues("join", "inactive").Inc()
		return nil, fmt.Errorf("token %s: %w", token, ErrInactive)
	}
	return sess, nil
}

// EndSession marks the session inactive. The update is best effort: on
// failure local state is cleared anyway so the device is never stuck in a
// pairing it cannot exit.
func (n *Notifier) EndSession(ctx context.Context, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if token == "" {
		return nil
	}
	if err := n.store.Update(ctx, store.SessionPath(token), map[string]any{"isActive": false}); err != nil {
		n.log.Warn().Err(err).Str("token", token).Msg("end session update failed, clearing local state anyway")
	}
	if n.current != nil && n.current.Token == token {
		n.current = nil
	}
	return nil
}

// Current returns the in-memory session adopted by the last successful
// create, or nil.
func (n *Notifier) Current() *session.Session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current.Clone()
}

// LocalOnly reports whether the last creation degraded to local-only mode.
func (n *Notifier) LocalOnly() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localOnly
}

func (n *Notifier) writeReverseIndex(ctx context.Context, identity, token string, now time.Time) error {
	data, err := json.Marshal(ownedRef{Token: token, CreatedAt: now})
	if err != nil {
		return err
	}
	return n.store.Set(ctx, store.ReverseIndexPath(identity), data)
}

func (n *Notifier) deleteBestEffort(ctx context.Context, path string) {
	if err := n.store.Delete(ctx, path); err != nil {
		n.log.Debug().Err(err).Str("path", path).Msg("best-effort delete failed")
	}
}
