// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package syncer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/producer"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// fakeRoles is a scripted RoleSource.
type fakeRoles struct {
	ch chan pairing.State
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{ch: make(chan pairing.State, 8)}
}

func (f *fakeRoles) Subscribe() (<-chan pairing.State, func()) {
	return f.ch, func() {}
}

func (f *fakeRoles) push(st pairing.State) {
	f.ch <- st
}

type harness struct {
	store  *store.Memory
	feed   *producer.Feed
	roles  *fakeRoles
	cancel context.CancelFunc
	done   chan struct{}
}

func startSyncer(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		feed:  producer.NewFeed(zerolog.Nop()),
		roles: newFakeRoles(),
	}
	s := New(h.roles, h.feed, h.store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		_ = s.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-h.done
		_ = h.feed.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func primaryState(token string) pairing.State {
	return pairing.State{Role: session.RolePrimary, LocalToken: token}
}

func TestPublishesSnapshotOnBecomingPrimary(t *testing.T) {
	h := startSyncer(t)
	token := strings.Repeat("A", session.TokenLength)

	if err := h.feed.SetAnchor(producer.Anchor{Latitude: 59.3, Longitude: 18.1, RadiusM: 35, SetAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := h.feed.SetPosition(producer.Position{Latitude: 59.3, Longitude: 18.1, RecordedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	h.roles.push(primaryState(token))

	ctx := context.Background()
	waitFor(t, "anchor published", func() bool {
		_, found, _ := h.store.Get(ctx, store.AnchorPath(token))
		return found
	})
	waitFor(t, "position published", func() bool {
		_, found, _ := h.store.Get(ctx, store.PositionPath(token))
		return found
	})
}

func TestMirrorsChangesWhilePrimary(t *testing.T) {
	h := startSyncer(t)
	token := strings.Repeat("B", session.TokenLength)
	ctx := context.Background()

	if err := h.feed.SetPosition(producer.Position{Latitude: 10, Longitude: 20, RecordedAt: time.Unix(1000, 0)}); err != nil {
		t.Fatal(err)
	}
	h.roles.push(primaryState(token))

	// Waiting for the initial snapshot also proves the loop's stream
	// subscriptions are live, so later changes cannot be dropped.
	waitFor(t, "position published", func() bool {
		_, found, _ := h.store.Get(ctx, store.PositionPath(token))
		return found
	})

	alarm := producer.Alarm{ID: "drift-1", Kind: producer.AlarmKindDrift, Severity: "critical", RaisedAt: time.Unix(1001, 0)}
	if err := h.feed.RaiseAlarm(alarm); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alarm published", func() bool {
		_, found, _ := h.store.Get(ctx, store.AlarmPath(token, "drift-1"))
		return found
	})

	if err := h.feed.ClearAlarm("drift-1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "alarm removed", func() bool {
		_, found, _ := h.store.Get(ctx, store.AlarmPath(token, "drift-1"))
		return !found
	})

	if err := h.feed.ClearAnchor(); err != nil {
		t.Fatal(err)
	}
	// Anchor was never published in this test; clearing must not error or
	// write anything.
	if _, found, _ := h.store.Get(ctx, store.AnchorPath(token)); found {
		t.Error("anchor path present after clear")
	}
}

func TestDeduplicatesIdenticalWrites(t *testing.T) {
	h := startSyncer(t)
	token := strings.Repeat("C", session.TokenLength)

	var mu sync.Mutex
	writes := 0
	h.store.SetHook(func(op, path string) {
		if op == "set" && path == store.PositionPath(token) {
			mu.Lock()
			writes++
			mu.Unlock()
		}
	})

	fix := producer.Position{Latitude: 1, Longitude: 2, RecordedAt: time.Unix(2000, 0)}
	if err := h.feed.SetPosition(fix); err != nil {
		t.Fatal(err)
	}
	h.roles.push(primaryState(token))
	waitFor(t, "position published", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return writes >= 1
	})

	// Re-publishing the identical payload must hit the dedup cache.
	if err := h.feed.SetPosition(fix); err != nil {
		t.Fatal(err)
	}
	if err := h.feed.SetPosition(fix); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if writes != 1 {
		t.Errorf("identical payload written %d times, want 1", writes)
	}
}

func TestStopsPublishingOnRoleLoss(t *testing.T) {
	h := startSyncer(t)
	token := strings.Repeat("D", session.TokenLength)
	ctx := context.Background()

	if err := h.feed.SetPosition(producer.Position{Latitude: 1, Longitude: 2, RecordedAt: time.Unix(3000, 0)}); err != nil {
		t.Fatal(err)
	}
	h.roles.push(primaryState(token))
	waitFor(t, "position published", func() bool {
		_, found, _ := h.store.Get(ctx, store.PositionPath(token))
		return found
	})

	// Transition to secondary: the loop stops and later changes stay local.
	h.roles.push(pairing.State{Role: session.RoleSecondary, RemoteToken: strings.Repeat("E", session.TokenLength)})

	var mu sync.Mutex
	writes := 0
	h.store.SetHook(func(op, _ string) {
		if op == "set" {
			mu.Lock()
			writes++
			mu.Unlock()
		}
	})
	time.Sleep(50 * time.Millisecond)
	if err := h.feed.SetPosition(producer.Position{Latitude: 9, Longitude: 9, RecordedAt: time.Unix(3001, 0)}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writes != 0 {
		t.Errorf("%d writes after leaving primary, want 0", writes)
	}
}

func TestWriteFailureRetriedOnNextChange(t *testing.T) {
	h := startSyncer(t)
	token := strings.Repeat("F", session.TokenLength)
	ctx := context.Background()

	var mu sync.Mutex
	attempts := 0
	h.store.SetHook(func(op, path string) {
		if op == "set" && path == store.PositionPath(token) {
			mu.Lock()
			attempts++
			mu.Unlock()
		}
	})

	if err := h.feed.SetPosition(producer.Position{Latitude: 1, Longitude: 2, RecordedAt: time.Unix(4000, 0)}); err != nil {
		t.Fatal(err)
	}
	h.store.SetFail("set", store.ErrUnavailable)
	h.roles.push(primaryState(token))
	waitFor(t, "initial publish attempted", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 1
	})

	// Store recovers; the next change publishes.
	h.store.SetFail("set", nil)
	if err := h.feed.SetPosition(producer.Position{Latitude: 1, Longitude: 2, RecordedAt: time.Unix(4001, 0)}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "position published after recovery", func() bool {
		_, found, _ := h.store.Get(ctx, store.PositionPath(token))
		return found
	})
}
