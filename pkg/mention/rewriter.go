// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mention translates @-mentions between Minecraft player names and
// Mattermost usernames using the identity link registry.
package mention

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
)

// Links is the subset of the link registry the rewriter reads.
type Links interface {
	LookupChatID(gameID uuid.UUID) (string, bool)
	LookupGameID(chatID string) (uuid.UUID, bool)
}

// Directory resolves Mattermost users.
type Directory interface {
	UserByID(ctx context.Context, userID string) (*model.User, error)
	UserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Broadcast-style mentions that must never be rewritten.
var specialMentions = map[string]bool{
	"all":     true,
	"channel": true,
	"here":    true,
}

// Rewriter rewrites mention tokens. Any lookup miss leaves the token as it
// was, so text without mentions passes through unchanged.
type Rewriter struct {
	links     Links
	players   game.Roster
	directory Directory
	log       zerolog.Logger

	// DisplayName renders a chat user for game-side fallbacks. Defaults to
	// the username.
	DisplayName func(*model.User) string
	// Highlight renders a resolved game-side mention.
	Highlight func(name string) string
}

// NewRewriter builds a rewriter over the given lookups.
func NewRewriter(links Links, players game.Roster, directory Directory, log zerolog.Logger) *Rewriter {
	return &Rewriter{
		links:     links,
		players:   players,
		directory: directory,
		log:       log.With().Str("component", "mention").Logger(),
		Highlight: DefaultHighlight,
	}
}

// DefaultHighlight renders a mention in yellow and resets formatting after
// it.
func DefaultHighlight(name string) string {
	return "§e@" + name + "§r"
}

// ToChat rewrites game-side @PlayerName mentions of online, linked players
// into Mattermost @username mentions.
func (r *Rewriter) ToChat(ctx context.Context, text string) string {
	return scan(text, isPlayerNameByte, func(token string) (string, bool) {
		p, ok := r.players.PlayerByName(token)
		if !ok {
			return "", false
		}
		chatID, ok := r.links.LookupChatID(p.ID)
		if !ok {
			return "", false
		}
		user, err := r.directory.UserByID(ctx, chatID)
		if err != nil || user == nil {
			r.log.Debug().Err(err).Str("chat_id", chatID).Msg("Failed to resolve linked chat user for mention")
			return "", false
		}
		return "@" + user.Username, true
	})
}

// ToGame rewrites Mattermost @username mentions for display in game and
// returns the game IDs of linked users that were mentioned, in order of
// first appearance. Notifying those players is left to the caller.
//
// A linked user renders as a highlighted mention of the player's current
// name, or of the chat display name when the player is offline. An unlinked
// user renders as @DisplayName. Unknown usernames are left untouched.
func (r *Rewriter) ToGame(ctx context.Context, text string) (string, []uuid.UUID) {
	var mentioned []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	out := scan(text, isUsernameByte, func(token string) (string, bool) {
		if specialMentions[strings.ToLower(token)] {
			return "", false
		}
		user, err := r.directory.UserByUsername(ctx, strings.ToLower(token))
		if err != nil || user == nil {
			return "", false
		}
		display := r.displayName(user)
		gameID, linked := r.links.LookupGameID(user.Id)
		if !linked {
			return "@" + display, true
		}
		if !seen[gameID] {
			seen[gameID] = true
			mentioned = append(mentioned, gameID)
		}
		if p, online := r.players.PlayerByID(gameID); online {
			return r.Highlight(p.Name), true
		}
		return r.Highlight(display), true
	})
	return out, mentioned
}

func (r *Rewriter) displayName(user *model.User) string {
	if r.DisplayName != nil {
		if name := r.DisplayName(user); name != "" {
			return name
		}
	}
	return user.Username
}

// scan walks text once, left to right, offering every @token to resolve.
// A token must start the text or follow a byte that cannot be part of a
// name, so e-mail addresses are not treated as mentions.
func scan(text string, nameByte func(byte) bool, resolve func(token string) (string, bool)) string {
	if strings.IndexByte(text, '@') < 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '@' || (i > 0 && nameByte(text[i-1])) {
			continue
		}
		end := i + 1
		for end < len(text) && nameByte(text[end]) {
			end++
		}
		// Sentence punctuation is not part of the name.
		for end > i+1 && text[end-1] == '.' {
			end--
		}
		if end == i+1 {
			continue
		}
		if repl, ok := resolve(text[i+1 : end]); ok {
			sb.WriteString(text[last:i])
			sb.WriteString(repl)
			last = end
		}
		i = end - 1
	}
	if last == 0 {
		return text
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func isPlayerNameByte(b byte) bool {
	return b == '_' || isAlnum(b)
}

func isUsernameByte(b byte) bool {
	return b == '_' || b == '-' || b == '.' || isAlnum(b)
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
