// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/linking"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

// CommandPath is where Mattermost slash commands are delivered.
const CommandPath = "/commands"

// positionTimeout bounds the /whois position lookup, which waits on the
// game server's execution context.
const positionTimeout = 3 * time.Second

const commandHelp = "Usage: `/mc list`, `/mc whois <player>`, `/mc link <code>`, `/mc unlink`"

// CommandHandler answers Mattermost custom slash commands. Every command is
// also accepted as a sub-command of /mc. Replies are ephemeral.
type CommandHandler struct {
	bridge *Bridge
	token  string
	log    zerolog.Logger
}

// NewCommandHandler returns a handler that only accepts requests carrying
// token.
func NewCommandHandler(bridge *Bridge, token string, log zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		bridge: bridge,
		token:  token,
		log:    log.With().Str("component", "commands").Logger(),
	}
}

func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	token := r.PostForm.Get("token")
	if h.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		h.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected slash command with bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	command := strings.TrimPrefix(r.PostForm.Get("command"), "/")
	args := strings.TrimSpace(r.PostForm.Get("text"))
	if command == "mc" {
		command, args, _ = strings.Cut(args, " ")
		args = strings.TrimSpace(args)
	}
	userID := r.PostForm.Get("user_id")

	h.log.Debug().
		Str("command", command).
		Str("user_id", userID).
		Msg("Slash command received")

	var resp *model.CommandResponse
	switch strings.ToLower(command) {
	case "list":
		resp = h.list()
	case "whois":
		resp = h.whois(r.Context(), args)
	case "link":
		resp = h.link(args, userID)
	case "unlink":
		resp = h.unlink(userID)
	default:
		resp = ephemeral(commandHelp)
	}
	writeCommandResponse(w, resp)
}

func (h *CommandHandler) list() *model.CommandResponse {
	players := h.bridge.server.OnlinePlayers()
	if len(players) == 0 {
		return ephemeral("Nobody is online.")
	}
	resp := ephemeral(fmt.Sprintf("**%s online**", pluralPlayers(len(players))))
	now := time.Now()
	for _, p := range players {
		resp.Attachments = append(resp.Attachments, &model.SlackAttachment{
			Fallback:   p.Name,
			AuthorName: p.Name,
			AuthorIcon: h.bridge.avatarURL(p, now),
			Text:       "Online since " + humanize.Time(p.JoinedAt),
		})
	}
	return resp
}

func pluralPlayers(n int) string {
	if n == 1 {
		return "1 player"
	}
	return fmt.Sprintf("%d players", n)
}

func (h *CommandHandler) whois(ctx context.Context, name string) *model.CommandResponse {
	if name == "" {
		return ephemeral("Usage: `/whois <player>`")
	}
	p, ok := h.bridge.server.PlayerByName(name)
	if !ok {
		return ephemeral(fmt.Sprintf("**%s** is not online.", name))
	}

	position := "unknown"
	posCtx, cancel := context.WithTimeout(ctx, positionTimeout)
	defer cancel()
	if pos, err := h.bridge.server.Position(posCtx, p.Name); err != nil {
		h.log.Debug().Err(err).Str("player", p.Name).Msg("Position lookup failed")
	} else {
		position = pos.String()
	}

	linked := "not linked"
	if chatID, ok := h.bridge.links.LookupChatID(p.ID); ok {
		linked = h.bridge.chatMention(ctx, chatID)
	}

	resp := ephemeral("")
	resp.Attachments = []*model.SlackAttachment{{
		Fallback: p.Name,
		Title:    p.Name,
		ThumbURL: h.bridge.avatarURL(p, time.Now()),
		Fields: []*model.SlackAttachmentField{
			{Title: "UUID", Value: p.ID.String()},
			{Title: "Online since", Value: humanize.Time(p.JoinedAt)},
			{Title: "Position", Value: position},
			{Title: "Mattermost", Value: linked},
		},
	}}
	return resp
}

func (h *CommandHandler) link(code, userID string) *model.CommandResponse {
	if code == "" {
		return ephemeral("Usage: `/link <code>`. Join the Minecraft server to get a code.")
	}
	pending, err := h.bridge.links.RedeemCode(code, userID)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, linking.ErrCodeNotFound):
			outcome = "not_found"
		case errors.Is(err, linking.ErrCodeExpired):
			outcome = "expired"
		}
		telemetry.LinkCodes.WithLabelValues(outcome).Inc()
		h.log.Debug().Err(err).Str("user_id", userID).Msg("Link code rejected")
		return ephemeral(linkFailureReply(err))
	}
	telemetry.LinkCodes.WithLabelValues("redeemed").Inc()
	telemetry.LinkedAccounts.Set(float64(len(h.bridge.links.Records())))
	return ephemeral(fmt.Sprintf("Linked to **%s**. You can join the server now.", pending.DisplayName))
}

func linkFailureReply(err error) string {
	switch {
	case errors.Is(err, linking.ErrCodeNotFound):
		return "That code is not valid. Join the Minecraft server to get a new one."
	case errors.Is(err, linking.ErrCodeExpired):
		return "That code has expired. Join the Minecraft server again to get a new one."
	default:
		return "Linking failed, please try again."
	}
}

func (h *CommandHandler) unlink(userID string) *model.CommandResponse {
	gameID, err := h.bridge.unlinkChatUser(userID)
	if errors.Is(err, linking.ErrNotLinked) {
		h.log.Debug().Str("user_id", userID).Msg("Unlink requested by unlinked user")
		return ephemeral("Your account is not linked.")
	}
	name := gameID.String()
	if p, ok := h.bridge.server.PlayerByID(gameID); ok {
		name = p.Name
		h.bridge.server.Execute(func() {
			if err := h.bridge.server.Kick(p.Name, unlinkedReason); err != nil {
				h.log.Warn().Err(err).Str("player", p.Name).Msg("Failed to kick unlinked player")
			}
		})
	}
	return ephemeral(fmt.Sprintf("Unlinked from **%s**.", name))
}

// unlinkChatUser removes the link held by a Mattermost user.
func (b *Bridge) unlinkChatUser(chatID string) (uuid.UUID, error) {
	gameID, ok := b.links.LookupGameID(chatID)
	if !ok || !b.links.UnlinkByChatID(chatID) {
		return uuid.Nil, linking.ErrNotLinked
	}
	telemetry.LinkedAccounts.Set(float64(len(b.links.Records())))
	b.log.Info().Str("chat_id", chatID).Str("game_id", gameID.String()).Msg("Chat user removed their link")
	return gameID, nil
}

// chatMention renders a Mattermost user as an @mention, or the raw ID when
// the user cannot be fetched.
func (b *Bridge) chatMention(ctx context.Context, chatID string) string {
	user, err := b.mm.UserByID(ctx, chatID)
	if err != nil {
		return chatID
	}
	return "@" + user.Username
}

func (b *Bridge) avatarURL(p game.Player, at time.Time) string {
	if b.Config.avatarTemplate == nil {
		return ""
	}
	return b.Config.avatarTemplate.URL(p.Name, p.ID, at)
}

func ephemeral(text string) *model.CommandResponse {
	return &model.CommandResponse{
		ResponseType: model.CommandResponseTypeEphemeral,
		Text:         text,
	}
}

func writeCommandResponse(w http.ResponseWriter, resp *model.CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
