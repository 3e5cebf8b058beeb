// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/driftmark/internal/logging"
)

// countingService records how often it was (re)started.
type countingService struct {
	starts  atomic.Int64
	failing atomic.Bool
}

func (s *countingService) String() string { return "counting-service" }

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.failing.Load() {
		s.failing.Store(false)
		return context.DeadlineExceeded
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree, err := NewTree(logging.NewSlogLogger(), cfg)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func TestTreeDefaults(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("threshold = %v", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v", tree.config.ShutdownTimeout)
	}
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := newTestTree(t)
	svc := &countingService{}
	tree.AddSyncService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if svc.starts.Load() == 0 {
		t.Fatal("service never started")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := newTestTree(t)
	svc := &countingService{}
	svc.failing.Store(true)
	tree.AddSyncService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := svc.starts.Load(); got < 2 {
		t.Fatalf("starts = %d, want restart after failure", got)
	}
}
