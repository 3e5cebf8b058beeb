// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package producer is the domain data feed: the current anchor, position,
// and active alarm set, plus a change stream per kind over a Watermill
// in-process pub/sub. The sync coordinator reads snapshots and subscribes
// to the streams; it never computes domain data itself.
package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/logging"
)

// Change stream topics. Messages signal that the named kind changed; the
// payload carries the new snapshot for observability, but consumers should
// read the current value from the feed rather than trust a possibly stale
// payload.
const (
	TopicAnchor   = "domain.anchor"
	TopicPosition = "domain.position"
	TopicAlarms   = "domain.alarms"
)

// Producer exposes current domain values and their change streams.
type Producer interface {
	Anchor() (Anchor, bool)
	Position() (Position, bool)
	Alarms() map[string]Alarm
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Feed is the canonical Producer implementation. Setters update the
// snapshot under a mutex and publish a change message; snapshot reads
// never block on slow subscribers.
type Feed struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger

	mu       sync.RWMutex
	anchor   *Anchor
	position *Position
	alarms   map[string]Alarm
}

// NewFeed creates an empty feed.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewFeed(log zerolog.Logger) *Feed {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logging.NewWatermillAdapter(log))
	return &Feed{
		pubsub: pubsub,
		log:    log,
		alarms: make(map[string]Alarm),
	}
}

// SetAnchor records a dropped anchor and signals the anchor stream.
func (f *Feed) SetAnchor(a Anchor) error {
	f.mu.Lock()
	f.anchor = &a
	f.mu.Unlock()
	return f.publish(TopicAnchor, a)
}

// ClearAnchor removes the anchor (raised) and signals the anchor stream.
func (f *Feed) ClearAnchor() error {
	f.mu.Lock()
	f.anchor = nil
	f.mu.Unlock()
	return f.publish(TopicAnchor, nil)
}

// SetPosition records a GPS fix and signals the position stream.
func (f *Feed) SetPosition(p Position) error {
	f.mu.Lock()
	f.position = &p
	f.mu.Unlock()
	return f.publish(TopicPosition, p)
}

// RaiseAlarm adds or refreshes an active alarm and signals the alarm
// stream. Alarms are keyed by ID; re-raising replaces the entry.
func (f *Feed) RaiseAlarm(a Alarm) error {
	if a.ID == "" {
		return fmt.Errorf("raise alarm: empty id")
	}
	f.mu.Lock()
	f.alarms[a.ID] = a
	f.mu.Unlock()
	return f.publish(TopicAlarms, a)
}

// ClearAlarm removes an active alarm and signals the alarm stream.
// Clearing an unknown id is a no-op and publishes nothing.
func (f *Feed) ClearAlarm(id string) error {
	f.mu.Lock()
	_, ok := f.alarms[id]
	if ok {
		delete(f.alarms, id)
	}
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.publish(TopicAlarms, nil)
}

// Anchor returns the current anchor, if one is set.
func (f *Feed) Anchor() (Anchor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.anchor == nil {
		return Anchor{}, false
	}
	return *f.anchor, true
}

// Position returns the latest GPS fix, if one was recorded.
func (f *Feed) Position() (Position, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.position == nil {
		return Position{}, false
	}
	return *f.position, true
}

// Alarms returns a copy of the active alarm set keyed by alarm ID.
func (f *Feed) Alarms() map[string]Alarm {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Alarm, len(f.alarms))
	for id, a := range f.alarms {
		out[id] = a
	}
	return out
}

// Subscribe returns the change stream for a topic. The subscription ends
// when ctx is cancelled or the feed is closed.
func (f *Feed) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return f.pubsub.Subscribe(ctx, topic)
}

// Close shuts down the pub/sub, closing all subscriber channels.
func (f *Feed) Close() error {
	return f.pubsub.Close()
}

func (f *Feed) publish(topic string, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := f.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
