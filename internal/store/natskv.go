// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

//go:build nats

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// JetStreamConfig configures the JetStream KV backend.
type JetStreamConfig struct {
	// URL is the NATS server URL.
	// Default: nats://127.0.0.1:4222
	URL string

	// Bucket is the KV bucket holding all session documents.
	// Default: driftmark
	Bucket string

	// MaxReconnects before the connection gives up.
	// Default: -1 (retry forever)
	MaxReconnects int

	// ReconnectWait between reconnection attempts.
	// Default: 2s
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns production defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           natsgo.DefaultURL,
		Bucket:        "driftmark",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// IdentityProvider supplies the stable anonymous device identity used by
// EnsureAuthenticated. The authentication mechanism itself is external.
type IdentityProvider interface {
	EnsureAuthenticated(ctx context.Context) (string, error)
}

// JetStream is the production Store backed by a NATS JetStream KV bucket.
// Paths map to KV keys with "/" replaced by "." so sub-records stay
// individually addressable subjects.
type JetStream struct {
	nc       *natsgo.Conn
	kv       natsgo.KeyValue
	identity IdentityProvider
	log      zerolog.Logger
}

// NewJetStream connects to NATS and binds (or creates) the KV bucket.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewJetStream(cfg JetStreamConfig, identity IdentityProvider, log zerolog.Logger) (*JetStream, error) {
	if cfg.URL == "" {
		cfg.URL = natsgo.DefaultURL
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "driftmark"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("store connection lost")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("store reconnected")
		}),
	}

	nc, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", classify(err))
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", classify(err))
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, natsgo.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&natsgo.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: 1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", cfg.Bucket, classify(err))
	}

	return &JetStream{nc: nc, kv: kv, identity: identity, log: log}, nil
}

// Close drains the underlying connection.
func (s *JetStream) Close() {
	s.nc.Close()
}

func encodeKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func decodeKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// Get reads the document at path.
func (s *JetStream) Get(_ context.Context, path string) ([]byte, bool, error) {
	entry, err := s.kv.Get(encodeKey(path))
	if errors.Is(err, natsgo.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, classify(err))
	}
	return entry.Value(), true, nil
}

// Set writes the document at path.
func (s *JetStream) Set(_ context.Context, path string, value []byte) error {
	if _, err := s.kv.Put(encodeKey(path), value); err != nil {
		return fmt.Errorf("set %s: %w", path, classify(err))
	}
	return nil
}

// Update deep-merges fields into the document at path. Last writer wins:
// the merge is a client-side read-modify-write with no compare-and-swap.
func (s *JetStream) Update(ctx context.Context, path string, fields map[string]any) error {
	existing, found, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if !found {
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
	return s.Set(ctx, path, merged)
}

// Delete removes the document at path.
func (s *JetStream) Delete(_ context.Context, path string) error {
	err := s.kv.Delete(encodeKey(path))
	if err != nil && !errors.Is(err, natsgo.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", path, classify(err))
	}
	return nil
}

// List returns all documents under prefix.
func (s *JetStream) List(ctx context.Context, prefix string) ([]Entry, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, natsgo.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, classify(err))
	}

	var entries []Entry
	for _, key := range keys {
		path := decodeKey(key)
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		value, found, err := s.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if found {
			entries = append(entries, Entry{Path: path, Value: value})
		}
	}
	return entries, nil
}

// jetStreamWatcher adapts a KeyWatcher to the Store watch contract:
// exactly one initial event (value or absence), then updates.
type jetStreamWatcher struct {
	inner    natsgo.KeyWatcher
	ch       chan Event
	stopOnce sync.Once
}

func (w *jetStreamWatcher) Updates() <-chan Event { return w.ch }

func (w *jetStreamWatcher) Stop() {
	w.stopOnce.Do(func() {
		// Stopping the inner watcher closes its channel, which ends the
		// pump goroutine and closes w.ch.
		_ = w.inner.Stop()
	})
}

// Watch subscribes to the single key at path.
func (s *JetStream) Watch(ctx context.Context, path string) (Watcher, error) {
	inner, err := s.kv.Watch(encodeKey(path))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, classify(err))
	}

	w := &jetStreamWatcher{inner: inner, ch: make(chan Event, 16)}
	go w.pump(ctx)
	return w, nil
}

// pump translates KeyValueEntry deliveries into Events. The KV watcher
// replays the current value (if any) and then sends a nil marker; absence
// at subscription time is represented by the marker arriving with nothing
// before it.
func (w *jetStreamWatcher) pump(ctx context.Context) {
	defer close(w.ch)

	var (
		pending    *Event
		initialSet bool
	)
	send := func(ev Event) bool {
		select {
		case w.ch <- ev:
			return true
		case <-ctx.Done():
			w.Stop()
			return false
		}
	}

	for {
		select {
		case entry, ok := <-w.inner.Updates():
			if !ok {
				return
			}
			if entry == nil {
				// End of initial replay.
				if !initialSet {
					initialSet = true
					ev := Event{Exists: false}
					if pending != nil {
						ev = *pending
					}
					if !send(ev) {
						return
					}
				}
				continue
			}

			ev := Event{Exists: false}
			if entry.Operation() == natsgo.KeyValuePut {
				ev = Event{Value: entry.Value(), Exists: true}
			}
			if !initialSet {
				pending = &ev
				continue
			}
			if !send(ev) {
				return
			}
		case <-ctx.Done():
			w.Stop()
			return
		}
	}
}

// EnsureAuthenticated delegates to the identity provider.
func (s *JetStream) EnsureAuthenticated(ctx context.Context) (string, error) {
	id, err := s.identity.EnsureAuthenticated(ctx)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", classify(err))
	}
	return id, nil
}

// classify normalizes NATS errors into the store failure classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, natsgo.ErrAuthorization),
		errors.Is(err, natsgo.ErrAuthExpired),
		strings.Contains(strings.ToLower(err.Error()), "permissions violation"):
		return fmt.Errorf("%v: %w", err, ErrPermissionDenied)
	case strings.Contains(strings.ToLower(err.Error()), "insufficient storage"),
		strings.Contains(strings.ToLower(err.Error()), "resources exceeded"),
		strings.Contains(strings.ToLower(err.Error()), "maximum bytes exceeded"):
		return fmt.Errorf("%v: %w", err, ErrQuotaExceeded)
	case errors.Is(err, natsgo.ErrNoServers),
		errors.Is(err, natsgo.ErrConnectionClosed),
		errors.Is(err, natsgo.ErrDisconnected),
		errors.Is(err, natsgo.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	default:
		return err
	}
}
