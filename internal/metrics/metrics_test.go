// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStoreOp(t *testing.T) {
	before := testutil.ToFloat64(StoreOpErrors.WithLabelValues("get"))

	ObserveStoreOp("get", 5*time.Millisecond, nil)
	ObserveStoreOp("get", 5*time.Millisecond, errors.New("boom"))

	after := testutil.ToFloat64(StoreOpErrors.WithLabelValues("get"))
	if after-before != 1 {
		t.Errorf("error counter delta = %v, want 1", after-before)
	}
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(RoleTransitions.WithLabelValues("primary", "secondary"))
	RecordTransition("primary", "secondary")
	after := testutil.ToFloat64(RoleTransitions.WithLabelValues("primary", "secondary"))
	if after-before != 1 {
		t.Errorf("transition counter delta = %v, want 1", after-before)
	}
}
