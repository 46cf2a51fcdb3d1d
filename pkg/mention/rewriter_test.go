// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mention

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
)

var (
	steveID = uuid.MustParse("8667ba71-b85a-4004-af54-457a9734eed7")
	alexID  = uuid.MustParse("ec561538-f3fd-461d-aff5-086b22154bce")
)

type fakeLinks map[uuid.UUID]string

func (f fakeLinks) LookupChatID(gameID uuid.UUID) (string, bool) {
	id, ok := f[gameID]
	return id, ok
}

func (f fakeLinks) LookupGameID(chatID string) (uuid.UUID, bool) {
	for g, c := range f {
		if c == chatID {
			return g, true
		}
	}
	return uuid.Nil, false
}

type fakeRoster []game.Player

func (f fakeRoster) OnlinePlayers() []game.Player { return f }

func (f fakeRoster) PlayerByName(name string) (game.Player, bool) {
	for _, p := range f {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return game.Player{}, false
}

func (f fakeRoster) PlayerByID(id uuid.UUID) (game.Player, bool) {
	for _, p := range f {
		if p.ID == id {
			return p, true
		}
	}
	return game.Player{}, false
}

type fakeDirectory struct {
	users   []*model.User
	lookups int
}

func (f *fakeDirectory) UserByID(_ context.Context, id string) (*model.User, error) {
	f.lookups++
	for _, u := range f.users {
		if u.Id == id {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeDirectory) UserByUsername(_ context.Context, username string) (*model.User, error) {
	f.lookups++
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func newTestRewriter() (*Rewriter, *fakeDirectory) {
	dir := &fakeDirectory{users: []*model.User{
		{Id: "mm-steve", Username: "steve.jobs", FirstName: "Steve"},
		{Id: "mm-alex", Username: "alex", Nickname: "Al"},
		{Id: "mm-carol", Username: "carol", FirstName: "Carol"},
	}}
	links := fakeLinks{steveID: "mm-steve", alexID: "mm-alex"}
	roster := fakeRoster{{ID: steveID, Name: "Steve"}}
	return NewRewriter(links, roster, dir, zerolog.Nop()), dir
}

func TestToChat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"online linked player", "hello @Steve", "hello @steve.jobs"},
		{"case insensitive player lookup", "hello @steve!", "hello @steve.jobs!"},
		{"linked but offline", "hi @Alex", "hi @Alex"},
		{"unknown player", "hi @Herobrine", "hi @Herobrine"},
		{"email is not a mention", "mail steve@Steve.com", "mail steve@Steve.com"},
		{"bare at sign", "meet @ spawn", "meet @ spawn"},
		{"two mentions", "@Steve and @Steve", "@steve.jobs and @steve.jobs"},
		{"no mentions", "just text", "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestRewriter()
			if got := r.ToChat(context.Background(), tt.in); got != tt.want {
				t.Errorf("ToChat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToGame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		want      string
		mentioned []uuid.UUID
	}{
		{"online linked user", "hey @steve.jobs", "hey §e@Steve§r", []uuid.UUID{steveID}},
		{"trailing period", "thanks @steve.jobs.", "thanks §e@Steve§r.", []uuid.UUID{steveID}},
		{"offline linked user", "ping @alex", "ping §e@alex§r", []uuid.UUID{alexID}},
		{"unlinked user", "cc @carol", "cc @carol", nil},
		{"unknown user", "cc @nobody", "cc @nobody", nil},
		{"channel-wide mention", "@here and @channel", "@here and @channel", nil},
		{"repeat mention", "@alex @alex", "§e@alex§r §e@alex§r", []uuid.UUID{alexID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestRewriter()
			got, mentioned := r.ToGame(context.Background(), tt.in)
			if got != tt.want {
				t.Errorf("ToGame(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(mentioned) != len(tt.mentioned) {
				t.Fatalf("mentioned = %v, want %v", mentioned, tt.mentioned)
			}
			for i := range mentioned {
				if mentioned[i] != tt.mentioned[i] {
					t.Errorf("mentioned[%d] = %v, want %v", i, mentioned[i], tt.mentioned[i])
				}
			}
		})
	}
}

func TestToGameUsesDisplayName(t *testing.T) {
	t.Parallel()
	r, _ := newTestRewriter()
	r.DisplayName = func(u *model.User) string { return u.FirstName }

	got, _ := r.ToGame(context.Background(), "cc @carol")
	if got != "cc @Carol" {
		t.Errorf("got %q", got)
	}
}

func TestNoLookupsWithoutMentions(t *testing.T) {
	t.Parallel()
	r, dir := newTestRewriter()
	r.ToGame(context.Background(), "plain text")
	r.ToChat(context.Background(), "plain text")
	if dir.lookups != 0 {
		t.Errorf("expected no directory lookups, got %d", dir.lookups)
	}
}

func FuzzScan(f *testing.F) {
	f.Add("hello @Steve")
	f.Add("@")
	f.Add("@@@")
	f.Add("a@b.c @x.")
	f.Add("§e@Steve§r")
	f.Add(string([]byte{'@', 0xff, 0x00}))

	f.Fuzz(func(t *testing.T, text string) {
		// Resolving nothing must be the identity.
		if got := scan(text, isUsernameByte, func(string) (string, bool) { return "", false }); got != text {
			t.Errorf("identity scan changed %q to %q", text, got)
		}
		// Tokens handed to resolve are never empty and contain no '@'.
		scan(text, isPlayerNameByte, func(tok string) (string, bool) {
			if tok == "" || strings.Contains(tok, "@") {
				t.Errorf("bad token %q from %q", tok, text)
			}
			return "X", true
		})
	})
}
