// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/telemetry"
)

// DefaultOutboundBuffer is the number of posts that may wait for the worker
// before new ones are dropped.
const DefaultOutboundBuffer = 256

const postTimeout = 15 * time.Second

// Poster creates a Mattermost post that appears to come from username.
type Poster interface {
	PostAs(ctx context.Context, channelID, username, iconURL, message string) error
}

// ChatMentions rewrites game mentions for chat.
type ChatMentions interface {
	ToChat(ctx context.Context, text string) string
}

type outboundPost struct {
	name string
	id   uuid.UUID
	body string
	at   time.Time
}

// Outbound posts game chat to Mattermost from a single worker goroutine.
// Callers never block: when the buffer is full the post is dropped.
type Outbound struct {
	poster    Poster
	channelID string
	avatar    *AvatarTemplate
	mentions  ChatMentions
	format    func(string) string
	queue     chan outboundPost
	log       zerolog.Logger
	now       func() time.Time
}

// NewOutbound creates an outbound relay for channelID. An empty channel ID
// disables it. mentions and format may be nil.
func NewOutbound(poster Poster, channelID string, avatar *AvatarTemplate, mentions ChatMentions, format func(string) string, log zerolog.Logger) *Outbound {
	return &Outbound{
		poster:    poster,
		channelID: channelID,
		avatar:    avatar,
		mentions:  mentions,
		format:    format,
		queue:     make(chan outboundPost, DefaultOutboundBuffer),
		log:       log.With().Str("component", "relay_outbound").Logger(),
		now:       time.Now,
	}
}

// RelayOutbound queues body to be posted as the player. It is a no-op when
// no channel is configured.
func (o *Outbound) RelayOutbound(name string, id uuid.UUID, body string) {
	if o.channelID == "" {
		return
	}
	select {
	case o.queue <- outboundPost{name: name, id: id, body: body, at: o.now()}:
	default:
		o.log.Warn().Str("player", name).Msg("Outbound queue full, dropping message")
		telemetry.MessagesDropped.WithLabelValues(telemetry.DirectionToChat, "queue_full").Inc()
	}
}

// Run delivers queued posts until ctx is cancelled.
func (o *Outbound) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case post := <-o.queue:
			o.deliver(ctx, post)
		}
	}
}

func (o *Outbound) deliver(ctx context.Context, post outboundPost) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	body := post.body
	if o.mentions != nil {
		body = o.mentions.ToChat(ctx, body)
	}
	if o.format != nil {
		body = o.format(body)
	}
	var icon string
	if o.avatar != nil {
		icon = o.avatar.URL(post.name, post.id, post.at)
	}

	if err := o.poster.PostAs(ctx, o.channelID, post.name, icon, body); err != nil {
		o.log.Warn().Err(err).Str("player", post.name).Msg("Failed to post message to Mattermost")
		telemetry.MessagesDropped.WithLabelValues(telemetry.DirectionToChat, "post_failed").Inc()
		return
	}
	telemetry.MessagesRelayed.WithLabelValues(telemetry.DirectionToChat).Inc()
}
