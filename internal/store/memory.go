// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Memory is an in-memory Store. It backs unit tests and local-only mode
// when the remote backend is unreachable. Watch and merge semantics match
// the JetStream backend.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[string][]*memoryWatcher

	// Identity is returned by EnsureAuthenticated. Defaults to a fixed id;
	// tests set distinct identities to simulate multiple devices.
	Identity string

	// Fail injects an error for the named operation ("get", "set",
	// "update", "delete", "list", "watch", "auth"). Nil entries are ignored.
	Fail map[string]error

	// Hook, if set, is invoked for every operation with the op name and
	// path. Tests use it to assert access ordering and counts.
	Hook func(op, path string)

	authCalls int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*memoryWatcher),
		Identity: "memory-device",
		Fail:     make(map[string]error),
	}
}

type memoryWatcher struct {
	ch       chan Event
	stopOnce sync.Once
	detach   func()
}

func (w *memoryWatcher) Updates() <-chan Event { return w.ch }

func (w *memoryWatcher) Stop() {
	w.stopOnce.Do(w.detach)
}

func (m *Memory) fire(op, path string) error {
	if m.Hook != nil {
		m.Hook(op, path)
	}
	return m.Fail[op]
}

// Get reads the document at path.
func (m *Memory) Get(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("get", path); err != nil {
		return nil, false, err
	}
	value, ok := m.data[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set writes the document at path and notifies watchers.
func (m *Memory) Set(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("set", path); err != nil {
		return err
	}
	m.data[path] = append([]byte(nil), value...)
	m.notifyLocked(path, Event{Value: append([]byte(nil), value...), Exists: true})
	return nil
}

// Update deep-merges fields into the JSON document at path.
func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("update", path); err != nil {
		return err
	}
	existing, ok := m.data[path]
	if !ok {
		return fmt.Errorf("update %s: %w", path, ErrNoDocument)
	}
	var doc map[string]any
	if err := json.Unmarshal(existing, &doc); err != nil {
		return fmt.Errorf("update %s: existing document not an object: %w", path, err)
	}
	deepMerge(doc, fields)
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	m.data[path] = merged
	m.notifyLocked(path, Event{Value: append([]byte(nil), merged...), Exists: true})
	return nil
}

// Delete removes the document at path and notifies watchers with absence.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("delete", path); err != nil {
		return err
	}
	if _, ok := m.data[path]; !ok {
		return nil
	}
	delete(m.data, path)
	m.notifyLocked(path, Event{Exists: false})
	return nil
}

// List returns all documents under prefix, ordered by path.
func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("list", prefix); err != nil {
		return nil, err
	}
	var entries []Entry
	for path, value := range m.data {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, Entry{Path: path, Value: append([]byte(nil), value...)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Watch subscribes to path. The current value (or absence) is delivered
// before any update.
func (m *Memory) Watch(ctx context.Context, path string) (Watcher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("watch", path); err != nil {
		return nil, err
	}

	w := &memoryWatcher{ch: make(chan Event, 16)}
	w.detach = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[path]
		for i, other := range list {
			if other == w {
				m.watchers[path] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(w.ch)
	}
	m.watchers[path] = append(m.watchers[path], w)

	initial := Event{Exists: false}
	if value, ok := m.data[path]; ok {
		initial = Event{Value: append([]byte(nil), value...), Exists: true}
	}
	w.ch <- initial

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
	}
	return w, nil
}

// EnsureAuthenticated returns the configured identity.
func (m *Memory) EnsureAuthenticated(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fire("auth", ""); err != nil {
		return "", err
	}
	m.authCalls++
	return m.Identity, nil
}

// SetFail installs (or clears, with a nil error) a fault injection for op
// while the store may be in concurrent use.
func (m *Memory) SetFail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Fail, op)
		return
	}
	m.Fail[op] = err
}

// SetHook installs the operation hook while the store may be in
// concurrent use.
func (m *Memory) SetHook(hook func(op, path string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hook = hook
}

// AuthCalls reports how many times EnsureAuthenticated was invoked.
func (m *Memory) AuthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls
}

// Len reports the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) notifyLocked(path string, ev Event) {
	for _, w := range m.watchers[path] {
		select {
		case w.ch <- ev:
		default:
			// Slow watcher; drop rather than block the store. The next
			// event carries the full current value anyway.
		}
	}
}

// deepMerge merges src into dst recursively; non-map values overwrite.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}
