// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package views derives reactive read models from the pairing state and
// the shared store: the effective session view (the session document for
// the token currently in use) and the primary liveness view (the last
// position written by the primary and whether it is recent).
//
// The views re-subscribe whenever the effective token changes; the old
// watch is cancelled before the new one starts and every new watch
// delivers the current value first, so observers converge without manual
// refresh. An empty token is published as absence.
//
// Self-healing: an expired or corrupted session record triggers a cleanup
// cascade (delete remote leftovers, reset persisted role state) instead
// of surfacing an error. The cascade is rate-limited so a flapping or
// repeatedly corrupted record cannot thrash the role state machine. A
// secondary whose session disappears or is ended by the primary is reset
// to unpaired; a primary with a missing document is left alone, since
// local-only operation legitimately has no remote record.
package views

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/driftmark/internal/metrics"
	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/producer"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// Config tunes the derived views.
type Config struct {
	// SelfHealInterval rate-limits the corruption/expiry cleanup cascade.
	// Default: 10s
	SelfHealInterval time.Duration

	// LivenessWindow is how recent the primary's position must be for the
	// primary to count as live. Default: 90s
	LivenessWindow time.Duration

	// RetryInterval is the delay before re-establishing a failed watch.
	// Default: 2s
	RetryInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SelfHealInterval: 10 * time.Second,
		LivenessWindow:   90 * time.Second,
		RetryInterval:    2 * time.Second,
	}
}

// Update is one emission of the effective session view. Session is nil
// when no session is visible for the current token (or there is no token).
type Update struct {
	Token   string
	Session *session.Session
}

// Coordinator is the slice of the pairing coordinator the views need.
type Coordinator interface {
	Subscribe() (<-chan pairing.State, func())
	Reset()
}

// Views maintains the derived session and liveness views. It implements
// suture.Service.
type Views struct {
	coord Coordinator
	store store.Store
	cfg   Config
	log   zerolog.Logger
	heal  *rate.Limiter
	now   func() time.Time

	mu           sync.Mutex
	current      Update
	lastPosition *producer.Position
	subs         map[int]chan Update
	nextSub      int
}

// New creates the views over the given coordinator and store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(coord Coordinator, st store.Store, cfg Config, log zerolog.Logger) *Views {
	if cfg.SelfHealInterval == 0 {
		cfg.SelfHealInterval = 10 * time.Second
	}
	if cfg.LivenessWindow == 0 {
		cfg.LivenessWindow = 90 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Views{
		coord: coord,
		store: st,
		cfg:   cfg,
		log:   log,
		heal:  rate.NewLimiter(rate.Every(cfg.SelfHealInterval), 1),
		now:   time.Now,
		subs:  make(map[int]chan Update),
	}
}

// String names the service in the supervision tree.
func (v *Views) String() string { return "views" }

// Current returns the last emitted effective session view.
func (v *Views) Current() Update {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Update{Token: v.current.Token, Session: v.current.Session.Clone()}
}

// PrimaryLive reports whether the primary's last position is within the
// liveness window, and returns that position.
func (v *Views) PrimaryLive() (producer.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lastPosition == nil {
		return producer.Position{}, false
	}
	live := v.now().Sub(v.lastPosition.RecordedAt) <= v.cfg.LivenessWindow
	return *v.lastPosition, live
}

// Subscribe registers an observer of the effective session view. The
// current value is delivered immediately. The returned func unsubscribes.
func (v *Views) Subscribe() (<-chan Update, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan Update, 8)
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	ch <- Update{Token: v.current.Token, Session: v.current.Session.Clone()}

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(sub)
		}
	}
}

// Serve runs until ctx is cancelled, restarting the session watch on
// every effective token change.
func (v *Views) Serve(ctx context.Context) error {
	updates, unsubscribe := v.coord.Subscribe()
	defer unsubscribe()

	var (
		activeToken string
		started     bool
		watchCancel context.CancelFunc
		watchDone   chan struct{}
	)
	stopWatch := func() {
		if watchCancel == nil {
			return
		}
		watchCancel()
		<-watchDone
		watchCancel = nil
	}
	defer stopWatch()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			token := st.EffectiveToken()
			if started && token == activeToken {
				continue
			}
			stopWatch()
			activeToken = token
			started = true
			if token == "" {
				v.publish(Update{})
				v.setPosition(nil)
				continue
			}

			watchCtx, cancel := context.WithCancel(ctx)
			watchCancel = cancel
			watchDone = make(chan struct{})
			go func(st pairing.State, token string) {
				defer close(watchDone)
				var wg sync.WaitGroup
				wg.Add(2)
				go func() {
					defer wg.Done()
					v.watchSession(watchCtx, st, token)
				}()
				go func() {
					defer wg.Done()
					v.watchPosition(watchCtx, token)
				}()
				wg.Wait()
			}(st, token)
		}
	}
}

// watchSession follows the session document, emitting view updates and
// driving the self-heal cascade. A failed watch is re-established after
// RetryInterval.
func (v *Views) watchSession(ctx context.Context, st pairing.State, token string) {
	for ctx.Err() == nil {
		watcher, err := v.store.Watch(ctx, store.SessionPath(token))
		if err != nil {
			v.log.Warn().Err(err).Str("token", token).Msg("session watch failed")
			if !sleepCtx(ctx, v.cfg.RetryInterval) {
				return
			}
			metrics.WatchRestarts.WithLabelValues("session").Inc()
			continue
		}
		v.consumeSession(ctx, watcher, st, token)
		watcher.Stop()
		if ctx.Err() == nil {
			metrics.WatchRestarts.WithLabelValues("session").Inc()
		}
	}
}

// consumeSession drains one watch subscription. Returns when the channel
// closes or ctx is done. An expiry timer fires even when no event
// arrives, so a session that quietly times out is still healed.
func (v *Views) consumeSession(ctx context.Context, watcher store.Watcher, st pairing.State, token string) {
	expiry := time.NewTimer(time.Hour)
	expiry.Stop()
	defer expiry.Stop()

	var currentSess *session.Session
	armExpiry := func(sess *session.Session) {
		expiry.Stop()
		if sess != nil {
			expiry.Reset(time.Until(sess.ExpiresAt))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			if currentSess != nil {
				v.selfHeal(ctx, token, currentSess.OwnerIdentity, "expired")
			}
			return
		case ev, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if !ev.Exists {
				currentSess = nil
				armExpiry(nil)
				v.handleAbsent(st, token)
				continue
			}
			sess, err := session.DecodeSession(ev.Value)
			if err != nil {
				v.selfHeal(ctx, token, "", "corrupted")
				return
			}
			if sess.Expired(v.now()) {
				v.selfHeal(ctx, token, sess.OwnerIdentity, "expired")
				return
			}
			if !sess.IsActive {
				currentSess = nil
				armExpiry(nil)
				v.handleEnded(st, token)
				continue
			}
			currentSess = sess
			armExpiry(sess)
			v.publish(Update{Token: token, Session: sess})
		}
	}
}

// handleAbsent reacts to a missing session document. A secondary has lost
// its session and resets to unpaired; a primary may simply be operating
// local-only, so only the view goes absent.
func (v *Views) handleAbsent(st pairing.State, token string) {
	v.publish(Update{Token: token})
	if st.Role == session.RoleSecondary {
		v.log.Info().Str("token", token).Msg("joined session disappeared, resetting")
		metrics.SelfHeals.WithLabelValues("absent").Inc()
		v.coord.Reset()
	}
}

// handleEnded reacts to a session marked inactive by its primary.
func (v *Views) handleEnded(st pairing.State, token string) {
	v.publish(Update{Token: token})
	if st.Role == session.RoleSecondary {
		v.log.Info().Str("token", token).Msg("joined session was ended, resetting")
		metrics.SelfHeals.WithLabelValues("ended").Inc()
		v.coord.Reset()
	}
}

// selfHeal runs the cleanup cascade for an expired or corrupted session:
// delete the remote record and reverse index, reset persisted role state,
// publish absence. Rate-limited; a suppressed cascade only publishes
// absence.
func (v *Views) selfHeal(ctx context.Context, token, owner, reason string) {
	v.publish(Update{Token: token})
	if !v.heal.Allow() {
		v.log.Debug().Str("reason", reason).Msg("self-heal suppressed by rate limit")
		return
	}
	v.log.Warn().Str("token", token).Str("reason", reason).Msg("healing stale session state")
	metrics.SelfHeals.WithLabelValues(reason).Inc()

	if err := v.store.Delete(ctx, store.SessionPath(token)); err != nil {
		v.log.Debug().Err(err).Msg("session record delete failed")
	}
	if owner != "" {
		if err := v.store.Delete(ctx, store.ReverseIndexPath(owner)); err != nil {
			v.log.Debug().Err(err).Msg("reverse index delete failed")
		}
	}
	v.coord.Reset()
}

// watchPosition follows the primary's position writes for the liveness
// view.
func (v *Views) watchPosition(ctx context.Context, token string) {
	for ctx.Err() == nil {
		watcher, err := v.store.Watch(ctx, store.PositionPath(token))
		if err != nil {
			v.log.Debug().Err(err).Msg("position watch failed")
			if !sleepCtx(ctx, v.cfg.RetryInterval) {
				return
			}
			metrics.WatchRestarts.WithLabelValues("position").Inc()
			continue
		}
		v.consumePosition(ctx, watcher)
		watcher.Stop()
		if ctx.Err() == nil {
			metrics.WatchRestarts.WithLabelValues("position").Inc()
		}
	}
}

func (v *Views) consumePosition(ctx context.Context, watcher store.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if !ev.Exists {
				v.setPosition(nil)
				continue
			}
			var pos producer.Position
			if err := json.Unmarshal(ev.Value, &pos); err != nil {
				v.log.Debug().Err(err).Msg("position record not decodable")
				continue
			}
			v.setPosition(&pos)
		}
	}
}

func (v *Views) setPosition(pos *producer.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastPosition = pos
}

func (v *Views) publish(u Update) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = u
	for _, ch := range v.subs {
		select {
		case ch <- Update{Token: u.Token, Session: u.Session.Clone()}:
		default:
			// Slow observer; it converges from the next emission or Current.
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
