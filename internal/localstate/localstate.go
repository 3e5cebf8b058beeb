// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package localstate is the local persistence adapter: a small string
// key-value store that survives process restart. The pairing role
// coordinator persists its role and session tokens here after every
// mutation so a device restart rehydrates into the same pairing state.
//
// The production implementation is BadgerDB; Fake is the in-memory
// substitute for tests.
package localstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Well-known keys used by the pairing layer.
const (
	KeySessionToken       = "sessionToken"
	KeyRemoteSessionToken = "remoteSessionToken"
	KeyRole               = "role"
	KeyOwnerIdentity      = "ownerIdentity"
	KeyDeviceIdentity     = "deviceIdentity"
	KeySigningKey         = "identitySigningKey"
)

// Store is the local key-value persistence contract.
type Store interface {
	// GetString reads a key. found is false when the key is absent.
	GetString(key string) (value string, found bool, err error)

	// SetString writes a key. An empty value is stored as-is; use Delete
	// to clear a key.
	SetString(key, value string) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error
}

// keyPrefix namespaces pairing state within the shared badger instance.
const keyPrefix = "pairing:"

// Badger is the durable Store over a badger database.
type Badger struct {
	db *badger.DB
}

// NewBadger wraps an open badger database.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// Open opens (or creates) a badger database at path with logging disabled.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open local state at %s: %w", path, err)
	}
	return db, nil
}

// GetString reads a key.
func (b *Badger) GetString(key string) (string, bool, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// SetString writes a key.
func (b *Badger) SetString(key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Fake is an in-memory Store for tests.
type Fake struct {
	mu   sync.Mutex
	data map[string]string

	// FailWrites, when set, makes SetString and Delete fail with this
	// error. Used to test the persist-before-commit contract.
	FailWrites error
}

// NewFake creates an empty fake store.
func NewFake() *Fake {
	return &Fake{data: make(map[string]string)}
}

// GetString reads a key.
func (f *Fake) GetString(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.data[key]
	return value, ok, nil
}

// SetString writes a key.
func (f *Fake) SetString(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites != nil {
		return f.FailWrites
	}
	f.data[key] = value
	return nil
}

// Delete removes a key.
func (f *Fake) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites != nil {
		return f.FailWrites
	}
	delete(f.data, key)
	return nil
}

// Snapshot returns a copy of the stored data for assertions.
func (f *Fake) Snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out
}
