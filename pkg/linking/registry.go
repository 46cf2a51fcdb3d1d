// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package linking maintains the bidirectional mapping between Minecraft
// player UUIDs and Mattermost user IDs, plus the short-lived codes players
// redeem from chat to create a link.
package linking

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is a single established link.
type Record struct {
	GameID uuid.UUID
	ChatID string
}

// Registry holds the link indexes and the pending-code table behind one
// lock. Reads take the read lock; every mutation persists the full snapshot
// before releasing the write lock, so no caller can observe a link that was
// not handed to the store. Store failures are logged and swallowed: the
// in-memory state stays authoritative for the life of the process.
type Registry struct {
	mu         sync.RWMutex
	gameToChat map[uuid.UUID]string
	chatToGame map[string]uuid.UUID

	codes      map[string]*PendingCode
	codeByGame map[uuid.UUID]string
	expiry     expiryHeap

	store  Store
	log    zerolog.Logger
	now    func() time.Time
	random io.Reader
}

// NewRegistry loads existing links from store. A nil store keeps links in
// memory only.
func NewRegistry(store Store, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		gameToChat: make(map[uuid.UUID]string),
		chatToGame: make(map[string]uuid.UUID),
		codes:      make(map[string]*PendingCode),
		codeByGame: make(map[uuid.UUID]string),
		store:      store,
		log:        log.With().Str("component", "link_registry").Logger(),
		now:        time.Now,
		random:     defaultRandom,
	}
	if store == nil {
		return r, nil
	}

	snap, err := store.Load()
	if err != nil {
		return nil, err
	}
	r.restore(snap)
	r.log.Info().Int("links", len(r.gameToChat)).Msg("Loaded identity links")
	return r, nil
}

// restore rebuilds both indexes from the game-to-chat side of a snapshot.
// Entries are applied in a stable order so a hand-edited file with
// duplicate chat IDs resolves deterministically.
func (r *Registry) restore(snap *Snapshot) {
	keys := make([]string, 0, len(snap.GameToChat))
	for k := range snap.GameToChat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		gameID, err := uuid.Parse(k)
		if err != nil {
			r.log.Warn().Str("game_id", k).Msg("Skipping link with invalid player UUID")
			continue
		}
		chatID := snap.GameToChat[k]
		if chatID == "" {
			continue
		}
		r.linkLocked(gameID, chatID)
	}
	if len(snap.ChatToGame) != len(r.chatToGame) {
		r.log.Warn().
			Int("chat_to_game", len(snap.ChatToGame)).
			Int("rebuilt", len(r.chatToGame)).
			Msg("Links file indexes were inconsistent, rebuilt from game_to_chat")
	}
}

// Link creates or replaces the link for both IDs, displacing any previous
// partner of either side. Thread-safe.
func (r *Registry) Link(gameID uuid.UUID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkLocked(gameID, chatID)
	r.persistLocked()
}

func (r *Registry) linkLocked(gameID uuid.UUID, chatID string) {
	if oldChat, ok := r.gameToChat[gameID]; ok {
		delete(r.chatToGame, oldChat)
	}
	if oldGame, ok := r.chatToGame[chatID]; ok {
		delete(r.gameToChat, oldGame)
	}
	r.gameToChat[gameID] = chatID
	r.chatToGame[chatID] = gameID
}

// UnlinkByGameID removes the link for a player. It reports whether a link
// existed. Thread-safe.
func (r *Registry) UnlinkByGameID(gameID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	chatID, ok := r.gameToChat[gameID]
	if !ok {
		return false
	}
	delete(r.gameToChat, gameID)
	delete(r.chatToGame, chatID)
	r.persistLocked()
	return true
}

// UnlinkByChatID removes the link for a chat user. It reports whether a link
// existed. Thread-safe.
func (r *Registry) UnlinkByChatID(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	gameID, ok := r.chatToGame[chatID]
	if !ok {
		return false
	}
	delete(r.chatToGame, chatID)
	delete(r.gameToChat, gameID)
	r.persistLocked()
	return true
}

// LookupChatID returns the chat user linked to a player.
func (r *Registry) LookupChatID(gameID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chatID, ok := r.gameToChat[gameID]
	return chatID, ok
}

// LookupGameID returns the player linked to a chat user.
func (r *Registry) LookupGameID(chatID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gameID, ok := r.chatToGame[chatID]
	return gameID, ok
}

// Records returns every link sorted by chat ID.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.gameToChat))
	for gameID, chatID := range r.gameToChat {
		out = append(out, Record{GameID: gameID, ChatID: chatID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// IssueCode creates a fresh code for a player and returns it. Any code the
// player still holds from an earlier join attempt is invalidated, and a
// generated code that collides with another player's live code is drawn
// again. Thread-safe.
func (r *Registry) IssueCode(gameID uuid.UUID, displayName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	if old, ok := r.codeByGame[gameID]; ok {
		delete(r.codes, old)
		delete(r.codeByGame, gameID)
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return "", fmt.Errorf("failed to generate a unique link code after %d attempts", attempt)
		}
		var err error
		code, err = generateCode(r.random)
		if err != nil {
			return "", err
		}
		if _, taken := r.codes[code]; !taken {
			break
		}
	}

	pending := &PendingCode{
		Code:        code,
		GameID:      gameID,
		DisplayName: displayName,
		ExpiresAt:   now.Add(CodeTTL),
	}
	r.codes[code] = pending
	r.codeByGame[gameID] = code
	r.expiry.push(code, pending.ExpiresAt)

	r.log.Debug().
		Str("game_id", gameID.String()).
		Str("player", displayName).
		Time("expires_at", pending.ExpiresAt).
		Msg("Issued link code")
	return code, nil
}

// RedeemCode consumes a code and links its player to chatID. It returns the
// consumed code on success, ErrCodeNotFound for unknown codes and
// ErrCodeExpired (discarding the code) for stale ones. Thread-safe.
func (r *Registry) RedeemCode(code, chatID string) (PendingCode, error) {
	code = NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.codes[code]
	if !ok {
		return PendingCode{}, ErrCodeNotFound
	}
	r.dropCodeLocked(pending)
	if pending.Expired(r.now()) {
		return PendingCode{}, ErrCodeExpired
	}

	r.linkLocked(pending.GameID, chatID)
	r.persistLocked()
	r.log.Info().
		Str("game_id", pending.GameID.String()).
		Str("player", pending.DisplayName).
		Str("chat_id", chatID).
		Msg("Linked accounts")
	return *pending, nil
}

// PendingCount returns the number of codes not yet pruned.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}

func (r *Registry) dropCodeLocked(p *PendingCode) {
	delete(r.codes, p.Code)
	if r.codeByGame[p.GameID] == p.Code {
		delete(r.codeByGame, p.GameID)
	}
}

// pruneLocked discards codes whose expiry has passed. Heap entries for codes
// that were replaced or consumed are skipped.
func (r *Registry) pruneLocked(now time.Time) {
	for _, item := range r.expiry.popExpired(now) {
		p, ok := r.codes[item.code]
		if !ok || !p.ExpiresAt.Equal(item.expiresAt) {
			continue
		}
		r.dropCodeLocked(p)
	}
}

func (r *Registry) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		GameToChat: make(map[string]string, len(r.gameToChat)),
		ChatToGame: make(map[string]string, len(r.chatToGame)),
	}
	for gameID, chatID := range r.gameToChat {
		snap.GameToChat[gameID.String()] = chatID
	}
	for chatID, gameID := range r.chatToGame {
		snap.ChatToGame[chatID] = gameID.String()
	}
	return snap
}

func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(r.snapshotLocked()); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist identity links, keeping in-memory state")
	}
}
