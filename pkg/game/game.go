// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package game defines the boundary between the bridge and a running game
// server.
//
// A [Server] owns a single execution context. Everything that touches
// authoritative game state (broadcasts, kicks, player notifications,
// resource pack offers) must run inside a closure handed to
// [Server.Execute]. Roster lookups are safe from any goroutine.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPlayerOffline is returned by lookups for players that are not
// connected.
var ErrPlayerOffline = errors.New("player is not online")

// Player is a connected game session.
type Player struct {
	ID       uuid.UUID
	Name     string
	JoinedAt time.Time
}

// Position is a player's location in the world.
type Position struct {
	Dimension string
	X, Y, Z   float64
}

func (p Position) String() string {
	if p.Dimension == "" {
		return fmt.Sprintf("%.0f, %.0f, %.0f", p.X, p.Y, p.Z)
	}
	return fmt.Sprintf("%.0f, %.0f, %.0f (%s)", p.X, p.Y, p.Z, p.Dimension)
}

// Roster answers read-only questions about connected players.
type Roster interface {
	OnlinePlayers() []Player
	PlayerByName(name string) (Player, bool)
	PlayerByID(id uuid.UUID) (Player, bool)
}

// Server is a live game server.
type Server interface {
	Roster

	// Execute schedules fn on the server's execution context. It never
	// blocks the caller on game I/O.
	Execute(fn func())

	// The methods below must be called from inside an Execute closure.

	Broadcast(line string) error
	Tell(player, line string) error
	Notify(player, text string) error
	Kick(player, reason string) error
	SendResourcePack(player, url, sha1 string) error

	// Position runs its query on the execution context and waits for the
	// answer, so it must not be called from inside an Execute closure.
	Position(ctx context.Context, player string) (Position, error)
}

// Handler receives game lifecycle events. Methods are invoked on the
// server's execution context and must not block on network I/O.
type Handler interface {
	OnReady()
	OnJoin(p Player)
	OnLeave(p Player)
	OnChat(p Player, message string)
	// OnEvent receives presence lines such as deaths and advancements, with
	// the player's name already included in text.
	OnEvent(p Player, text string)
}
