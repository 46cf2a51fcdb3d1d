// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/aiku/craftbridge/pkg/game"
)

// fakeServer records game-side effects. With manual set, Execute queues
// closures until RunPending is called; otherwise they run inline.
type fakeServer struct {
	mu        sync.Mutex
	manual    bool
	tasks     []func()
	broadcast []string
	notified  []string
	failOn    string
	players   []game.Player
}

var _ game.Server = (*fakeServer)(nil)

func (f *fakeServer) Execute(fn func()) {
	f.mu.Lock()
	if f.manual {
		f.tasks = append(f.tasks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// RunPending runs queued closures, including ones queued while running.
func (f *fakeServer) RunPending() {
	for {
		f.mu.Lock()
		if len(f.tasks) == 0 {
			f.mu.Unlock()
			return
		}
		fn := f.tasks[0]
		f.tasks = f.tasks[1:]
		f.mu.Unlock()
		fn()
	}
}

func (f *fakeServer) Broadcast(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && line == f.failOn {
		return errors.New("rcon: connection reset")
	}
	f.broadcast = append(f.broadcast, line)
	return nil
}

func (f *fakeServer) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.broadcast...)
}

func (f *fakeServer) Tell(string, string) error { return nil }

func (f *fakeServer) Notify(player, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, player)
	return nil
}

func (f *fakeServer) Kick(string, string) error                     { return nil }
func (f *fakeServer) SendResourcePack(string, string, string) error { return nil }

func (f *fakeServer) Position(context.Context, string) (game.Position, error) {
	return game.Position{}, game.ErrPlayerOffline
}

func (f *fakeServer) OnlinePlayers() []game.Player { return f.players }

func (f *fakeServer) PlayerByName(name string) (game.Player, bool) {
	for _, p := range f.players {
		if p.Name == name {
			return p, true
		}
	}
	return game.Player{}, false
}

func (f *fakeServer) PlayerByID(id uuid.UUID) (game.Player, bool) {
	for _, p := range f.players {
		if p.ID == id {
			return p, true
		}
	}
	return game.Player{}, false
}
