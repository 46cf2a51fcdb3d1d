// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector wires a Mattermost channel to a Minecraft server.
//
// [Bridge] is the application context: it owns the config, the Mattermost
// client, the identity link registry, both relay directions, the emoji
// resource pack pipeline and the HTTP servers, and implements
// [game.Handler] for events coming from the game.
//
// # Join Gate
//
// Players without a linked Mattermost account are kicked on join with a
// one-time code. Redeeming it with /link in Mattermost creates the link;
// the player can then rejoin.
//
// # Echo Prevention
//
// Game lines are posted by the bot account with an overridden username, so
// inbound posts from the bot's own user ID are never relayed back. System
// posts and usernames matching the configured bot prefix are skipped too.
//
// # Sub-packages
//
//   - mattermostfmt converts Mattermost markdown to Minecraft formatting codes.
//   - gamefmt converts Minecraft formatting codes to Mattermost markdown.
package connector
