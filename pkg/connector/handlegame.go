// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"fmt"
	"strings"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/linking"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

const (
	joinedText = "_joined the game_"
	leftText   = "_left the game_"

	linkUnavailableReason = "Account linking is unavailable right now. Please try again later."
	unlinkedReason        = "Your Mattermost account was unlinked."
	notLinkedReply        = "Your account is not linked to Mattermost."
)

var _ game.Handler = (*Bridge)(nil)

// OnReady flushes lines queued while the server was starting.
func (b *Bridge) OnReady() {
	b.log.Info().Int("pending", b.relay.Pending()).Msg("Game server ready")
	b.relay.OnServerReady()
}

// OnJoin gates the server on a linked Mattermost account. Unlinked players
// are kicked with a fresh code to redeem from chat; linked players are
// announced and offered the resource pack.
func (b *Bridge) OnJoin(p game.Player) {
	log := b.log.With().Str("player", p.Name).Str("game_id", p.ID.String()).Logger()

	if _, linked := b.links.LookupChatID(p.ID); !linked {
		reason := linkUnavailableReason
		code, err := b.links.IssueCode(p.ID, p.Name)
		if err != nil {
			log.Error().Err(err).Msg("Failed to issue link code")
		} else {
			telemetry.LinkCodes.WithLabelValues("issued").Inc()
			reason = joinGateReason(code)
		}
		if err := b.server.Kick(p.Name, reason); err != nil {
			log.Warn().Err(err).Msg("Failed to kick unlinked player")
		}
		log.Info().Msg("Unlinked player turned away with a link code")
		return
	}

	if b.Config.Minecraft.RelayPresence {
		b.outbound.RelayOutbound(p.Name, p.ID, joinedText)
	}
	if b.distributor != nil {
		b.distributor.PushTo(b.server, p.Name, b.server.Host())
	}
}

// joinGateReason is the kick message shown to an unlinked player.
func joinGateReason(code string) string {
	return fmt.Sprintf(
		"This server requires a linked Mattermost account.\nType /link %s in Mattermost, then rejoin. The code expires in %d minutes.",
		code, int(linking.CodeTTL.Minutes()),
	)
}

// OnLeave announces linked players only; unlinked ones were never announced.
func (b *Bridge) OnLeave(p game.Player) {
	if !b.Config.Minecraft.RelayPresence {
		return
	}
	if _, linked := b.links.LookupChatID(p.ID); linked {
		b.outbound.RelayOutbound(p.Name, p.ID, leftText)
	}
}

// OnChat relays a chat line, or handles the unlink command. The command is
// never relayed.
func (b *Bridge) OnChat(p game.Player, message string) {
	if b.isUnlinkCommand(message) {
		b.unlinkFromGame(p)
		return
	}
	b.outbound.RelayOutbound(p.Name, p.ID, message)
}

// OnEvent relays deaths and advancements.
func (b *Bridge) OnEvent(p game.Player, text string) {
	if !b.Config.Minecraft.RelayPresence {
		return
	}
	b.outbound.RelayOutbound(p.Name, p.ID, text)
}

func (b *Bridge) isUnlinkCommand(message string) bool {
	cmd := b.Config.Minecraft.UnlinkCommand
	return cmd != "" && strings.EqualFold(strings.TrimSpace(message), cmd)
}

func (b *Bridge) unlinkFromGame(p game.Player) {
	if !b.links.UnlinkByGameID(p.ID) {
		if err := b.server.Tell(p.Name, notLinkedReply); err != nil {
			b.log.Warn().Err(err).Str("player", p.Name).Msg("Failed to reply to unlink command")
		}
		return
	}
	telemetry.LinkedAccounts.Set(float64(len(b.links.Records())))
	b.log.Info().Str("player", p.Name).Msg("Player removed their link from game")
	if err := b.server.Kick(p.Name, unlinkedReason); err != nil {
		b.log.Warn().Err(err).Str("player", p.Name).Msg("Failed to kick unlinked player")
	}
}
