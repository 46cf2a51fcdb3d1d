// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/craftbridge/pkg/relay"
)

// handleEvent dispatches a Mattermost WebSocket event. Only new posts are
// bridged; edits, deletions and reactions have no game-side equivalent.
func (b *Bridge) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		b.handlePosted(ctx, evt)
	default:
		b.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

func (b *Bridge) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, err := b.mm.parsePostedEvent(evt)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	body := postBody(post)
	if body == "" {
		return
	}
	b.relay.RelayInbound(ctx, relay.Message{
		ChannelID:    post.ChannelId,
		PostID:       post.Id,
		RootID:       post.RootId,
		AuthorChatID: post.UserId,
		DisplayName:  b.mm.DisplayName(ctx, post.UserId),
		Body:         body,
	})
}

// postBody is the text relayed for a post. Attachments cannot be shown in
// game, so they are summarized.
func postBody(post *model.Post) string {
	body := strings.TrimSpace(post.Message)
	switch n := len(post.FileIds); {
	case n == 1:
		body = strings.TrimSpace(body + " [attachment]")
	case n > 1:
		body = strings.TrimSpace(fmt.Sprintf("%s [%d attachments]", body, n))
	}
	return body
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (m *MattermostClient) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts, which include every relayed game line.
	if post.UserId == m.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching known bridge patterns.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, m.botPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// isBridgeUsername returns true if the username belongs to bridge
// infrastructure that should never be relayed, such as a second bridge
// instance posting into the same channel.
func isBridgeUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}
