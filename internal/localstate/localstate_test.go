// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package localstate

import (
	"testing"
)

// storeContract exercises the Store behaviors both implementations share.
func storeContract(t *testing.T, s Store) {
	t.Helper()

	if _, found, err := s.GetString(KeySessionToken); err != nil || found {
		t.Fatalf("GetString on empty store = found=%v err=%v", found, err)
	}

	if err := s.SetString(KeySessionToken, "TOKEN"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	value, found, err := s.GetString(KeySessionToken)
	if err != nil || !found || value != "TOKEN" {
		t.Fatalf("GetString = %q found=%v err=%v", value, found, err)
	}

	if err := s.SetString(KeySessionToken, "OTHER"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, _ = s.GetString(KeySessionToken)
	if value != "OTHER" {
		t.Errorf("overwrite not applied: %q", value)
	}

	if err := s.Delete(KeySessionToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := s.GetString(KeySessionToken); found {
		t.Error("key survived Delete")
	}
	if err := s.Delete(KeySessionToken); err != nil {
		t.Errorf("Delete of absent key should be nil, got %v", err)
	}
}

func TestFakeContract(t *testing.T) {
	storeContract(t, NewFake())
}

func TestBadgerContract(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	storeContract(t, NewBadger(db))
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := NewBadger(db)
	if err := s.SetString(KeyRole, "secondary"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	value, found, err := NewBadger(db).GetString(KeyRole)
	if err != nil || !found || value != "secondary" {
		t.Fatalf("after reopen: %q found=%v err=%v", value, found, err)
	}
}
