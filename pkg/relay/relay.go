// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay moves rendered chat lines between Mattermost and the game
// server.
//
// Lines bound for the game are buffered until the server reports ready and
// are then broadcast in arrival order from the server's execution context.
// Lines bound for Mattermost are handed to a bounded background worker so
// the game side never waits on chat delivery.
package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

// Relay is the game-bound half of the bridge: a FIFO of rendered lines and
// a ready flag that only ever goes from false to true. Both live under one
// mutex so no append can slip between the ready check and the drain.
type Relay struct {
	mu      sync.Mutex
	pending []string
	ready   bool

	server game.Server
	log    zerolog.Logger

	inbound inboundDeps
}

// New creates a relay that broadcasts through server.
func New(server game.Server, log zerolog.Logger, opts ...Option) *Relay {
	r := &Relay{
		server: server,
		log:    log.With().Str("component", "relay").Logger(),
	}
	r.inbound.threadContext = DefaultThreadContext
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnqueueOrDeliver appends lines as one contiguous batch. Once the server is
// ready a drain is scheduled on its execution context; before that the
// lines wait in the queue.
func (r *Relay) EnqueueOrDeliver(lines ...string) {
	if len(lines) == 0 {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, lines...)
	ready := r.ready
	depth := len(r.pending)
	r.mu.Unlock()

	telemetry.PendingLines.Set(float64(depth))
	if ready {
		r.server.Execute(r.drain)
	}
}

// OnServerReady marks the server ready and schedules one drain of whatever
// was queued. Later calls are no-ops.
func (r *Relay) OnServerReady() {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return
	}
	r.ready = true
	queued := len(r.pending)
	r.mu.Unlock()

	r.log.Info().Int("queued_lines", queued).Msg("Game server ready, flushing queued lines")
	r.server.Execute(r.drain)
}

// Ready reports whether OnServerReady has been called.
func (r *Relay) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Pending returns the number of lines not yet broadcast.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// drain runs on the game execution context. It takes one line at a time and
// re-checks the queue after every broadcast, so lines appended mid-drain are
// picked up by this drain or by the one their append scheduled.
func (r *Relay) drain() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			telemetry.PendingLines.Set(0)
			return
		}
		line := r.pending[0]
		r.pending[0] = ""
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if err := r.server.Broadcast(line); err != nil {
			r.log.Warn().Err(err).Msg("Failed to broadcast line to game")
			telemetry.MessagesDropped.WithLabelValues(telemetry.DirectionToGame, "broadcast_failed").Inc()
			continue
		}
		telemetry.MessagesRelayed.WithLabelValues(telemetry.DirectionToGame).Inc()
	}
}
