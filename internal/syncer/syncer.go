// Driftmark - Anchor Watch Pairing and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driftmark

// Package syncer mirrors the domain data feed into the shared store while
// this device is an active primary. It observes role transitions from the
// pairing coordinator, runs a publish loop only in the
// primary-with-session state, and stops it on any transition out.
//
// Publication is write-through with deduplication: each path remembers the
// last payload successfully written and skips byte-identical writes.
// Write failures are logged and the dedup entry dropped, so the next
// change (or the next loop start) retries. The loop never fails the
// service; an unreachable store degrades to local-only operation.
package syncer

import (
	"bytes"
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/driftmark/internal/metrics"
	"github.com/tomtom215/driftmark/internal/pairing"
	"github.com/tomtom215/driftmark/internal/producer"
	"github.com/tomtom215/driftmark/internal/session"
	"github.com/tomtom215/driftmark/internal/store"
)

// RoleSource provides role state transitions. Satisfied by
// *pairing.Coordinator.
type RoleSource interface {
	Subscribe() (<-chan pairing.State, func())
}

// Syncer is the sync coordinator. It implements suture.Service.
type Syncer struct {
	roles RoleSource
	feed  producer.Producer
	store store.Store
	log   zerolog.Logger
}

// New creates a syncer over the given role source, data feed, and store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(roles RoleSource, feed producer.Producer, st store.Store, log zerolog.Logger) *Syncer {
	return &Syncer{
		roles: roles,
		feed:  feed,
		store: st,
		log:   log,
	}
}

// String names the service in the supervision tree.
func (s *Syncer) String() string { return "syncer" }

// Serve runs until ctx is cancelled, starting and stopping the publish
// loop as the device enters and leaves the active-primary state.
func (s *Syncer) Serve(ctx context.Context) error {
	updates, unsubscribe := s.roles.Subscribe()
	defer unsubscribe()

	var (
		activeToken string
		loopCancel  context.CancelFunc
		loopDone    chan struct{}
	)
	stopLoop := func() {
		if loopCancel == nil {
			return
		}
		loopCancel()
		<-loopDone
		loopCancel = nil
	}
	defer stopLoop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			token := ""
			if st.Role == session.RolePrimary && st.LocalToken != "" {
				token = st.LocalToken
			}
			if token == activeToken {
				continue
			}
			stopLoop()
			activeToken = token
			if token == "" {
				s.log.Debug().Msg("publishing stopped")
				continue
			}

			loopCtx, cancel := context.WithCancel(ctx)
			loopCancel = cancel
			loopDone = make(chan struct{})
			go func() {
				defer close(loopDone)
				s.publishLoop(loopCtx, token)
			}()
		}
	}
}

// publishLoop pushes a full snapshot, then mirrors each change stream
// event until ctx is cancelled.
func (s *Syncer) publishLoop(ctx context.Context, token string) {
	anchors, err := s.feed.Subscribe(ctx, producer.TopicAnchor)
	if err != nil {
		s.log.Error().Err(err).Msg("anchor stream subscribe failed")
		return
	}
	positions, err := s.feed.Subscribe(ctx, producer.TopicPosition)
	if err != nil {
		s.log.Error().Err(err).Msg("position stream subscribe failed")
		return
	}
	alarms, err := s.feed.Subscribe(ctx, producer.TopicAlarms)
	if err != nil {
		s.log.Error().Err(err).Msg("alarm stream subscribe failed")
		return
	}

	s.log.Info().Str("token", token).Msg("publishing started")
	pub := &publisher{
		syncer: s,
		token:  token,
		last:   make(map[string][]byte),
	}

	// Fresh start or rehydration: push everything before consuming changes.
	pub.syncAnchor(ctx)
	pub.syncPosition(ctx)
	pub.syncAlarms(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-anchors:
			if !ok {
				return
			}
			msg.Ack()
			pub.syncAnchor(ctx)
		case msg, ok := <-positions:
			if !ok {
				return
			}
			msg.Ack()
			pub.syncPosition(ctx)
		case msg, ok := <-alarms:
			if !ok {
				return
			}
			msg.Ack()
			pub.syncAlarms(ctx)
		}
	}
}

// publisher is the per-loop write-through state: one dedup entry per path
// plus the set of alarm paths currently published.
type publisher struct {
	syncer *Syncer
	token  string
	last   map[string][]byte
	alarms map[string]bool
}

func (p *publisher) syncAnchor(ctx context.Context) {
	path := store.AnchorPath(p.token)
	anchor, ok := p.syncer.feed.Anchor()
	if !ok {
		p.deleteIfPublished(ctx, path)
		return
	}
	p.setIfChanged(ctx, path, anchor, "anchor")
}

func (p *publisher) syncPosition(ctx context.Context) {
	position, ok := p.syncer.feed.Position()
	if !ok {
		return
	}
	p.setIfChanged(ctx, store.PositionPath(p.token), position, "position")
}

func (p *publisher) syncAlarms(ctx context.Context) {
	active := p.syncer.feed.Alarms()
	current := make(map[string]bool, len(active))
	for id, alarm := range active {
		current[id] = true
		p.setIfChanged(ctx, store.AlarmPath(p.token, id), alarm, "alarm")
	}
	for id := range p.alarms {
		if !current[id] {
			p.deleteIfPublished(ctx, store.AlarmPath(p.token, id))
		}
	}
	p.alarms = current
}

func (p *publisher) setIfChanged(ctx context.Context, path string, value any, kind string) {
	data, err := json.Marshal(value)
	if err != nil {
		p.syncer.log.Error().Err(err).Str("path", path).Msg("marshal failed")
		return
	}
	if prev, ok := p.last[path]; ok && bytes.Equal(prev, data) {
		metrics.PublishDedupHits.Inc()
		return
	}
	if err := p.syncer.store.Set(ctx, path, data); err != nil {
		// Keep going; the dedup entry is dropped so the next change retries.
		p.syncer.log.Warn().Err(err).Str("path", path).Msg("publish failed")
		delete(p.last, path)
		return
	}
	p.last[path] = data
	metrics.PublishWrites.WithLabelValues(kind).Inc()
}

func (p *publisher) deleteIfPublished(ctx context.Context, path string) {
	if _, ok := p.last[path]; !ok {
		return
	}
	if err := p.syncer.store.Delete(ctx, path); err != nil {
		p.syncer.log.Warn().Err(err).Str("path", path).Msg("unpublish failed")
		return
	}
	delete(p.last, path)
}
