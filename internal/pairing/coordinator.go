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

	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/localstate"
	"github.com/tomtom215/driftmark/internal/metrics"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// State is the device's local view of its pairing. At most one of
// LocalToken/RemoteToken is meaningful: primary uses LocalToken,
// secondary uses RemoteToken, and the other is cleared on every role
// transition.
type State struct {
	Role          session.Role
	LocalToken    string
	RemoteToken   string
	OwnerIdentity string
}

// EffectiveToken is the session token actually in use, preferring a
// joined (remote) session over a self-created (local) one.
func (s State) EffectiveToken() string {
	if s.RemoteToken != "" {
		return s.RemoteToken
	}
	return s.LocalToken
}

// Name labels the state machine position for logs and metrics.
func (s State) Name() string {
	switch {
	case s.Role == session.RoleSecondary:
		return "active-secondary"
	case s.LocalToken != "":
		return "active-primary"
	default:
		return "unpaired-primary"
	}
}

// Coordinator is the pairing role state machine. It is the only component
// allowed to mutate role state; everything else observes via Subscribe.
// Mutations are serialized by a mutex and persisted before they commit,
// so either both the local store and the in-memory state advance, or the
// caller observes an error and the state is unchanged.
type Coordinator struct {
	notifier *Notifier
	store    store.Store
	local    localstate.Store
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	st      State
	subs    map[int]chan State
	nextSub int
	closed  bool

	cancelBg context.CancelFunc
	bgDone   chan struct{}
}

// NewCoordinator rehydrates role state from local persistence and starts
// the asynchronous stale-session check. The check never blocks startup
// and aborts silently if the coordinator is closed before it completes.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCoordinator(notifier *Notifier, st store.Store, local localstate.Store, log zerolog.Logger) (*Coordinator, error) {
	c := &Coordinator{
		notifier: notifier,
		store:    st,
		local:    local,
		log:      log,
		now:      time.Now,
		subs:     make(map[int]chan State),
	}

	rehydrated, err := c.rehydrate()
	if err != nil {
		return nil, err
	}
	c.st = rehydrated

	bgCtx, cancel := context.WithCancel(context.Background())
	c.cancelBg = cancel
	c.bgDone = make(chan struct{})
	go c.verifyRehydrated(bgCtx)

	return c, nil
}

// rehydrate loads persisted role state, normalizing impossible
// combinations back to Unpaired-Primary.
func (c *Coordinator) rehydrate() (State, error) {
	read := func(key string) (string, error) {
		value, _, err := c.local.GetString(key)
		if err != nil {
			return "", fmt.Errorf("rehydrate %s: %w", key, err)
		}
		return value, nil
	}

	role, err := read(localstate.KeyRole)
	if err != nil {
		return State{}, err
	}
	localToken, err := read(localstate.KeySessionToken)
	if err != nil {
		return State{}, err
	}
	remoteToken, err := read(localstate.KeyRemoteSessionToken)
	if err != nil {
		return State{}, err
	}
	owner, err := read(localstate.KeyOwnerIdentity)
	if err != nil {
		return State{}, err
	}

	st := State{Role: session.RolePrimary}
	switch session.Role(role) {
	case session.RoleSecondary:
		if remoteToken == "" {
			c.log.Warn().Msg("persisted secondary role without remote token, resetting")
			return st, nil
		}
		st = State{Role: session.RoleSecondary, RemoteToken: remoteToken, OwnerIdentity: owner}
	default:
		st.LocalToken = localToken
	}
	return st, nil
}

// verifyRehydrated checks a persisted token against the store in the
// background and clears state that turned out to be stale. It checks
// context liveness before acting so a closed coordinator is a no-op.
func (c *Coordinator) verifyRehydrated(ctx context.Context) {
	defer close(c.bgDone)

	token := c.State().EffectiveToken()
	if token == "" {
		return
	}

	raw, found, err := c.store.Get(ctx, store.SessionPath(token))
	if err != nil {
		// Unreachable store is not evidence of staleness.
		c.log.Debug().Err(err).Msg("rehydration check skipped")
		return
	}

	stale := !found
	var owner string
	if found {
		sess, derr := session.DecodeSession(raw)
		if derr != nil || !sess.Usable(c.now()) {
			stale = true
			if derr == nil {
				owner = sess.OwnerIdentity
			}
		}
	}
	if !stale || ctx.Err() != nil {
		return
	}

	c.log.Info().Str("token", token).Msg("persisted session is stale, cleaning up")
	if err := c.store.Delete(ctx, store.SessionPath(token)); err != nil {
		c.log.Debug().Err(err).Msg("stale session delete failed")
	}
	if owner != "" {
		if err := c.store.Delete(ctx, store.ReverseIndexPath(owner)); err != nil {
			c.log.Debug().Err(err).Msg("stale reverse index delete failed")
		}
	}
	if ctx.Err() != nil {
		return
	}
	c.Reset()
}

// Close tears down the coordinator: the background check is cancelled and
// all subscriber channels are closed.
func (c *Coordinator) Close() {
	c.cancelBg()
	<-c.bgDone

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// State returns the current role state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Role returns the current role.
func (c *Coordinator) Role() session.Role {
	return c.State().Role
}

// EffectiveSessionToken returns the token in use, or empty when unpaired.
func (c *Coordinator) EffectiveSessionToken() string {
	return c.State().EffectiveToken()
}

// Subscribe registers an observer of role state changes. The current
// state is delivered immediately, so late subscribers converge without a
// transition. The returned func unsubscribes.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 8)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.st

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// StartPrimarySession creates (or reuses) a session owned by this device
// and transitions to Active-Primary. Valid from any primary state.
func (c *Coordinator) StartPrimarySession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", errors.New("pairing coordinator closed")
	}
	if c.st.Role == session.RoleSecondary {
		return "", fmt.Errorf("start primary session while secondary: %w", ErrNotPrimary)
	}

	// A persisted local token is reused only if the remote session is
	// still usable; otherwise it is cleaned up and created anew.
	if c.st.LocalToken != "" {
		if c.verifyLocalLocked(ctx) {
			return c.st.LocalToken, nil
		}
	}

	token, err := c.notifier.CreateSession(ctx)
	if err != nil {
		return "", err
	}

	next := State{Role: session.RolePrimary, LocalToken: token}
	if err := c.applyLocked(next); err != nil {
		return "", err
	}
	return token, nil
}

// verifyLocalLocked checks the existing local session against the store.
// Returns true when it is still usable. A stale one is deleted best
// effort and the local token dropped from the working state (not yet
// persisted; the caller immediately transitions).
func (c *Coordinator) verifyLocalLocked(ctx context.Context) bool {
	token := c.st.LocalToken
	raw, found, err := c.store.Get(ctx, store.SessionPath(token))
	if err != nil {
		// Store unreachable: keep the token and operate local-only.
		c.log.Debug().Err(err).Msg("local session verification skipped")
		return true
	}
	if found {
		sess, derr := session.DecodeSession(raw)
		if derr == nil && sess.Usable(c.now()) {
			return true
		}
		if derr == nil {
			if err := c.store.Delete(ctx, store.ReverseIndexPath(sess.OwnerIdentity)); err != nil {
				c.log.Debug().Err(err).Msg("reverse index cleanup failed")
			}
		}
	}
	if err := c.store.Delete(ctx, store.SessionPath(token)); err != nil {
		c.log.Debug().Err(err).Msg("stale session cleanup failed")
	}
	c.st.LocalToken = ""
	return false
}

// JoinSecondarySession joins an existing session as a secondary and
// transitions to Active-Secondary. Valid from any state; the local token
// is cleared as part of the transition.
func (c *Coordinator) JoinSecondarySession(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("pairing coordinator closed")
	}

	sess, err := c.notifier.JoinSession(ctx, token)
	if err != nil {
		return err
	}

	next := State{
		Role:          session.RoleSecondary,
		RemoteToken:   token,
		OwnerIdentity: sess.OwnerIdentity,
	}
	return c.applyLocked(next)
}

// Disconnect leaves a joined session and reverts to Unpaired-Primary.
// Remote cleanup (removing this device's entry) is best effort; the
// local transition always completes. Called while primary it is a logged
// no-op.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("pairing coordinator closed")
	}
	if c.st.Role != session.RoleSecondary {
		c.log.Info().Msg("disconnect ignored while primary")
		return nil
	}

	c.removeOwnDeviceLocked(ctx)
	return c.applyLocked(State{Role: session.RolePrimary})
}

// removeOwnDeviceLocked removes this device's entry from the remote
// session, both the sub-record and the embedded map entry. Best effort.
func (c *Coordinator) removeOwnDeviceLocked(ctx context.Context) {
	token := c.st.RemoteToken
	deviceID, err := c.store.EnsureAuthenticated(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("device removal skipped")
		return
	}
	if err := c.store.Delete(ctx, store.DevicePath(token, deviceID)); err != nil {
		c.log.Debug().Err(err).Msg("device sub-record removal failed")
	}

	raw, found, err := c.store.Get(ctx, store.SessionPath(token))
	if err != nil || !found {
		return
	}
	sess, err := session.DecodeSession(raw)
	if err != nil {
		return
	}
	sess.RemoveDevice(deviceID)
	data, err := session.EncodeSession(sess)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, store.SessionPath(token), data); err != nil {
		c.log.Debug().Err(err).Msg("device map removal failed")
	}
}

// EndSession ends the owned session and reverts to Unpaired-Primary.
// Fails with ErrNotPrimary unless called from Active-Primary.
func (c *Coordinator) EndSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("pairing coordinator closed")
	}
	if c.st.Role != session.RolePrimary || c.st.LocalToken == "" {
		return fmt.Errorf("end session: %w", ErrNotPrimary)
	}

	// Best effort remotely; the notifier never leaves us stuck.
	_ = c.notifier.EndSession(ctx, c.st.LocalToken)
	return c.applyLocked(State{Role: session.RolePrimary})
}

// Reset is the disconnect-equivalent used by self-healing: it clears the
// pairing back to Unpaired-Primary without remote cleanup. Persistence
// failures are logged, not surfaced; the in-memory reset always happens
// so a corrupted remote record cannot wedge the device.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	next := State{Role: session.RolePrimary}
	if err := c.persist(next); err != nil {
		c.log.Warn().Err(err).Msg("reset persistence failed")
	}
	c.commitLocked(next)
}

// applyLocked persists then commits a state transition. On persistence
// failure the in-memory state is left unchanged and the error returned.
func (c *Coordinator) applyLocked(next State) error {
	if err := c.persist(next); err != nil {
		return fmt.Errorf("persist role state: %w", err)
	}
	c.commitLocked(next)
	return nil
}

func (c *Coordinator) persist(st State) error {
	writes := []struct {
		key   string
		value string
	}{
		{localstate.KeyRole, string(st.Role)},
		{localstate.KeySessionToken, st.LocalToken},
		{localstate.KeyRemoteSessionToken, st.RemoteToken},
		{localstate.KeyOwnerIdentity, st.OwnerIdentity},
	}
	for _, w := range writes {
		if w.value == "" && w.key != localstate.KeyRole {
			if err := c.local.Delete(w.key); err != nil {
				return err
			}
			continue
		}
		if err := c.local.SetString(w.key, w.value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) commitLocked(next State) {
	prev := c.st
	c.st = next
	if prev.Name() != next.Name() {
		c.log.Info().
			Str("from", prev.Name()).
			Str("to", next.Name()).
			Msg("role transition")
	}
	metrics.RecordTransition(prev.Name(), next.Name())
	for _, ch := range c.subs {
		select {
		case ch <- next:
		default:
			// Slow observer; it will converge from the next delivery or by
			// reading State directly.
		}
	}
}
