// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/craftbridge/pkg/telemetry"
)

// DefaultThreadContext is the number of most recent replies shown under a
// thread root.
const DefaultThreadContext = 10

// Message is an inbound chat message. It only exists while being relayed.
type Message struct {
	ChannelID    string
	PostID       string
	RootID       string
	AuthorChatID string
	DisplayName  string
	Body         string
}

// ThreadFetcher returns every post of a thread, root first, oldest first.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, rootID string) ([]*model.Post, error)
}

// NameResolver turns a chat user ID into the name shown in game.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// GameMentions rewrites chat mentions for the game and reports who was
// mentioned.
type GameMentions interface {
	ToGame(ctx context.Context, text string) (string, []uuid.UUID)
}

type inboundDeps struct {
	channelID     string
	threads       ThreadFetcher
	names         NameResolver
	mentions      GameMentions
	format        func(string) string
	threadContext int
}

// Option configures the inbound side of a Relay.
type Option func(*Relay)

// WithChannel restricts inbound relaying to one Mattermost channel.
func WithChannel(channelID string) Option {
	return func(r *Relay) { r.inbound.channelID = channelID }
}

// WithThreads enables thread reconstruction for replies.
func WithThreads(threads ThreadFetcher, names NameResolver, replies int) Option {
	return func(r *Relay) {
		r.inbound.threads = threads
		r.inbound.names = names
		if replies > 0 {
			r.inbound.threadContext = replies
		}
	}
}

// WithMentions rewrites mentions in every inbound line.
func WithMentions(m GameMentions) Option {
	return func(r *Relay) { r.inbound.mentions = m }
}

// WithFormatter converts chat markup in message bodies for game display.
func WithFormatter(format func(string) string) Option {
	return func(r *Relay) { r.inbound.format = format }
}

// RelayInbound renders a chat message, or the thread it replies to, and
// queues it for the game. Messages from other channels are dropped. Thread
// lookup failures degrade to a single line.
func (r *Relay) RelayInbound(ctx context.Context, msg Message) {
	if r.inbound.channelID != "" && msg.ChannelID != r.inbound.channelID {
		r.log.Debug().Str("channel_id", msg.ChannelID).Msg("Ignoring message from unlinked channel")
		telemetry.MessagesDropped.WithLabelValues(telemetry.DirectionToGame, "other_channel").Inc()
		return
	}

	var lines []string
	var mentioned []uuid.UUID
	if msg.RootID != "" && r.inbound.threads != nil {
		root, replies, err := r.threadLines(ctx, msg)
		if err != nil {
			r.log.Warn().Err(err).Str("root_id", msg.RootID).Msg("Failed to fetch thread, relaying reply alone")
		} else {
			root.Body, mentioned = r.rewrite(ctx, root.Body, mentioned)
			for i := range replies {
				replies[i].Body, mentioned = r.rewrite(ctx, replies[i].Body, mentioned)
			}
			lines = RenderThread(root, replies)
		}
	}
	if lines == nil {
		body, m := r.rewrite(ctx, msg.Body, nil)
		mentioned = m
		lines = []string{RenderLine(Line{Author: msg.DisplayName, Body: body})}
	}

	r.EnqueueOrDeliver(lines...)
	r.notifyMentioned(mentioned, msg.DisplayName)
}

// RelayLines queues pre-rendered lines with mention rewriting applied to
// each body. The webhook ingress uses it.
func (r *Relay) RelayLines(ctx context.Context, root *Line, replies ...Line) {
	var mentioned []uuid.UUID
	var rendered []string
	if root != nil {
		rl := *root
		rl.Body, mentioned = r.rewrite(ctx, rl.Body, mentioned)
		for i := range replies {
			replies[i].Body, mentioned = r.rewrite(ctx, replies[i].Body, mentioned)
		}
		rendered = RenderThread(rl, replies)
	} else {
		for _, l := range replies {
			l.Body, mentioned = r.rewrite(ctx, l.Body, mentioned)
			rendered = append(rendered, RenderLine(l))
		}
	}
	r.EnqueueOrDeliver(rendered...)
	if len(replies) > 0 {
		r.notifyMentioned(mentioned, replies[len(replies)-1].Author)
	}
}

func (r *Relay) threadLines(ctx context.Context, msg Message) (Line, []Line, error) {
	posts, err := r.inbound.threads.FetchThread(ctx, msg.RootID)
	if err != nil {
		return Line{}, nil, err
	}
	if len(posts) == 0 {
		return Line{}, nil, errEmptyThread
	}
	root := Line{Author: r.inbound.names.DisplayName(ctx, posts[0].UserId), Body: posts[0].Message}
	rest := posts[1:]
	if len(rest) > r.inbound.threadContext {
		rest = rest[len(rest)-r.inbound.threadContext:]
	}
	replies := make([]Line, 0, len(rest))
	for _, p := range rest {
		replies = append(replies, Line{Author: r.inbound.names.DisplayName(ctx, p.UserId), Body: p.Message})
	}
	return root, replies, nil
}

// rewrite formats body for the game, then replaces mentions, so player and
// display names inserted by the rewriter are never read as markup.
func (r *Relay) rewrite(ctx context.Context, body string, mentioned []uuid.UUID) (string, []uuid.UUID) {
	if r.inbound.format != nil {
		body = r.inbound.format(body)
	}
	if r.inbound.mentions != nil {
		var ids []uuid.UUID
		body, ids = r.inbound.mentions.ToGame(ctx, body)
		mentioned = append(mentioned, ids...)
	}
	return body, mentioned
}

// notifyMentioned pings mentioned players that are online. It runs after
// rendering so the renderer itself stays free of side effects.
func (r *Relay) notifyMentioned(ids []uuid.UUID, author string) {
	if len(ids) == 0 {
		return
	}
	r.server.Execute(func() {
		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			p, ok := r.server.PlayerByID(id)
			if !ok {
				continue
			}
			if err := r.server.Notify(p.Name, author+" mentioned you in chat"); err != nil {
				r.log.Debug().Err(err).Str("player", p.Name).Msg("Failed to notify mentioned player")
			}
		}
	})
}
