// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package pairing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// fakeClock drives the notifier's cooldown deterministically.
type fakeClock struct {
	current time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestNotifier(st store.Store) (*Notifier, *fakeClock) {
	n := NewNotifier(st, DefaultNotifierConfig(), zerolog.Nop())
	clock := newFakeClock()
	n.now = clock.now
	return n, clock
}

func seedSession(t *testing.T, m *store.Memory, sess *session.Session) {
	t.Helper()
	data, err := session.EncodeSession(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := m.Set(context.Background(), store.SessionPath(sess.Token), data); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCreateSessionCooldown(t *testing.T) {
	m := store.NewMemory()
	n, clock := newTestNotifier(m)
	ctx := context.Background()

	token, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if len(token) != session.TokenLength {
		t.Fatalf("token length = %d", len(token))
	}

	// Immediate retry within the cooldown is rejected and the token is
	// unchanged.
	if _, err := n.CreateSession(ctx); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second create = %v, want ErrRateLimited", err)
	}
	if current := n.Current(); current == nil || current.Token != token {
		t.Fatal("in-memory session changed by rate-limited call")
	}

	// After the cooldown the call succeeds and adopts the same session.
	clock.advance(6 * time.Second)
	again, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create after cooldown: %v", err)
	}
	if again != token {
		t.Errorf("adopt returned %s, want original %s", again, token)
	}
}

func TestCreateSessionIdempotentAcrossRestart(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	n1, _ := newTestNotifier(m)
	token, err := n1.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A fresh notifier over the same store and identity adopts the owned
	// session instead of creating a duplicate.
	n2, _ := newTestNotifier(m)
	adopted, err := n2.CreateSession(ctx)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if adopted != token {
		t.Errorf("adopted %s, want %s", adopted, token)
	}

	entries, err := m.List(ctx, store.SessionsPrefix+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("store has %d session docs, want 1", len(entries))
	}
}

func TestCreateSessionReplacesExpiredOwned(t *testing.T) {
	m := store.NewMemory()
	n, clock := newTestNotifier(m)
	ctx := context.Background()

	token, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Session passes its TTL; the next create must clean it up and mint a
	// new one.
	clock.advance(25 * time.Hour)
	fresh, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if fresh == token {
		t.Error("expired session was adopted")
	}
	if _, found, _ := m.Get(ctx, store.SessionPath(token)); found {
		t.Error("expired owned session not deleted")
	}
}

func TestCreateSessionSweepsStale(t *testing.T) {
	m := store.NewMemory()
	n, clock := newTestNotifier(m)
	ctx := context.Background()
	now := clock.now()

	expired := session.New(strings.Repeat("E", session.TokenLength), "other-1", time.Hour, now.Add(-2*time.Hour))
	seedSession(t, m, expired)

	staleInactive := session.New(strings.Repeat("S", session.TokenLength), "other-2", 48*time.Hour, now.Add(-30*time.Hour))
	staleInactive.IsActive = false
	seedSession(t, m, staleInactive)

	// Active, unexpired, but old: must survive the sweep.
	activeOld := session.New(strings.Repeat("L", session.TokenLength), "other-3", 72*time.Hour, now.Add(-30*time.Hour))
	seedSession(t, m, activeOld)

	if _, err := n.CreateSession(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, found, _ := m.Get(ctx, store.SessionPath(expired.Token)); found {
		t.Error("expired session not swept")
	}
	if _, found, _ := m.Get(ctx, store.SessionPath(staleInactive.Token)); found {
		t.Error("stale inactive session not swept")
	}
	if _, found, _ := m.Get(ctx, store.SessionPath(activeOld.Token)); !found {
		t.Error("active unexpired session swept; expiresAt is authoritative")
	}
}

func TestCreateSessionLocalOnlyOnWriteFailure(t *testing.T) {
	m := store.NewMemory()
	m.Fail["set"] = store.ErrUnavailable
	n, _ := newTestNotifier(m)

	token, err := n.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create should degrade, got %v", err)
	}
	if token == "" {
		t.Fatal("no token in local-only mode")
	}
	if !n.LocalOnly() {
		t.Error("LocalOnly not reported")
	}
	if current := n.Current(); current == nil || current.Token != token {
		t.Error("session not adopted in memory")
	}
}

func TestCreateSessionQuotaFailsFast(t *testing.T) {
	m := store.NewMemory()
	m.Fail["set"] = store.ErrQuotaExceeded
	n, _ := newTestNotifier(m)

	_, err := n.CreateSession(context.Background())
	if !errors.Is(err, store.ErrQuotaExceeded) {
		t.Fatalf("create = %v, want ErrQuotaExceeded", err)
	}
	if n.Current() != nil {
		t.Error("session adopted despite quota failure")
	}
}

func TestJoinSessionInvalidTokenBeforeStoreAccess(t *testing.T) {
	m := store.NewMemory()
	accesses := 0
	m.Hook = func(string, string) { accesses++ }
	n, _ := newTestNotifier(m)

	tokens := []string{"", "short", strings.Repeat("a", 32), strings.Repeat("A", 31) + "!"}
	for _, token := range tokens {
		if _, err := n.JoinSession(context.Background(), token); !errors.Is(err, session.ErrInvalidToken) {
			t.Errorf("JoinSession(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
	if accesses != 0 {
		t.Errorf("store accessed %d times before validation", accesses)
	}
}

func TestJoinSessionLifecycleErrors(t *testing.T) {
	m := store.NewMemory()
	n, clock := newTestNotifier(m)
	ctx := context.Background()
	now := clock.now()

	missing := strings.Repeat("M", session.TokenLength)
	if _, err := n.JoinSession(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("join missing = %v, want ErrNotFound", err)
	}

	expired := session.New(strings.Repeat("E", session.TokenLength), "owner-e", time.Hour, now.Add(-2*time.Hour))
	seedSession(t, m, expired)
	if _, err := n.JoinSession(ctx, expired.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("join expired = %v, want ErrExpired", err)
	}
	// Encountering an expired session deletes it.
	if _, found, _ := m.Get(ctx, store.SessionPath(expired.Token)); found {
		t.Error("expired session not deleted on join")
	}

	inactive := session.New(strings.Repeat("I", session.TokenLength), "owner-i", time.Hour, now)
	inactive.IsActive = false
	seedSession(t, m, inactive)
	if _, err := n.JoinSession(ctx, inactive.Token); !errors.Is(err, ErrInactive) {
		t.Errorf("join inactive = %v, want ErrInactive", err)
	}

	corrupted := strings.Repeat("C", session.TokenLength)
	if err := m.Set(ctx, store.SessionPath(corrupted), []byte(`{"token":""}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := n.JoinSession(ctx, corrupted); !errors.Is(err, session.ErrCorruptedState) {
		t.Errorf("join corrupted = %v, want ErrCorruptedState", err)
	}
}

func TestJoinSessionPermissionDenied(t *testing.T) {
	m := store.NewMemory()
	n, clock := newTestNotifier(m)
	ctx := context.Background()

	sess := session.New(strings.Repeat("P", session.TokenLength), "owner-p", time.Hour, clock.now())
	seedSession(t, m, sess)

	m.Fail["get"] = store.ErrPermissionDenied
	if _, err := n.JoinSession(ctx, sess.Token); !errors.Is(err, store.ErrPermissionDenied) {
		t.Errorf("join = %v, want ErrPermissionDenied", err)
	}
}

func TestJoinSessionAddsSecondary(t *testing.T) {
	m := store.NewMemory()
	m.Identity = "watcher-device"
	n, clock := newTestNotifier(m)
	ctx := context.Background()

	sess := session.New(strings.Repeat("J", session.TokenLength), "owner-j", time.Hour, clock.now())
	seedSession(t, m, sess)

	joined, err := n.JoinSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(joined.Devices))
	}
	device, ok := joined.Devices["watcher-device"]
	if !ok || device.Role != session.RoleSecondary {
		t.Fatalf("secondary entry = %+v ok=%v", device, ok)
	}

	// The device sub-record is written too.
	if _, found, _ := m.Get(ctx, store.DevicePath(sess.Token, "watcher-device")); !found {
		t.Error("device sub-record missing")
	}

	// Re-joining updates rather than duplicates.
	clock.advance(time.Minute)
	rejoined, err := n.JoinSession(ctx, sess.Token)
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if len(rejoined.Devices) != 2 {
		t.Errorf("devices after re-join = %d, want 2", len(rejoined.Devices))
	}
	if !rejoined.Devices["watcher-device"].JoinedAt.After(device.JoinedAt) {
		t.Error("re-join did not refresh joinedAt")
	}
}

func TestEndSessionClearsStateDespiteFailure(t *testing.T) {
	m := store.NewMemory()
	n, _ := newTestNotifier(m)
	ctx := context.Background()

	token, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m.Fail["update"] = store.ErrUnavailable
	if err := n.EndSession(ctx, token); err != nil {
		t.Fatalf("EndSession must swallow remote failures, got %v", err)
	}
	if n.Current() != nil {
		t.Error("in-memory session not cleared")
	}
}

func TestEndSessionMarksInactive(t *testing.T) {
	m := store.NewMemory()
	n, _ := newTestNotifier(m)
	ctx := context.Background()

	token, err := n.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := n.EndSession(ctx, token); err != nil {
		t.Fatalf("end: %v", err)
	}

	raw, found, _ := m.Get(ctx, store.SessionPath(token))
	if !found {
		t.Fatal("session document deleted; end should only deactivate")
	}
	sess, err := session.DecodeSession(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.IsActive {
		t.Error("session still active after end")
	}

	// Ending with no session is a no-op.
	if err := n.EndSession(ctx, ""); err != nil {
		t.Errorf("end with no session = %v, want nil", err)
	}
}
