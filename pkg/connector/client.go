// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
	userCacheTTL      = 5 * time.Minute
)

// MattermostClient is the bot account's connection to Mattermost: REST calls
// for posting and lookups, and a WebSocket for real-time events.
type MattermostClient struct {
	client    *model.Client4
	wsClient  *model.WebSocketClient
	serverURL string
	userID    string
	username  string
	botPrefix string
	format    func(DisplaynameParams) string

	usersMu sync.Mutex
	users   map[string]cachedUser

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
	now      func() time.Time
}

type cachedUser struct {
	user      *model.User
	fetchedAt time.Time
}

// NewMattermostClient creates a client for the configured bot account. It
// does not contact the server; call Connect for that.
func NewMattermostClient(cfg *Config, log zerolog.Logger) *MattermostClient {
	client := model.NewAPIv4Client(cfg.Mattermost.ServerURL)
	client.SetToken(cfg.Mattermost.BotToken)
	if timeout := time.Duration(cfg.Mattermost.RequestTimeout); timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &MattermostClient{
		client:    client,
		serverURL: cfg.Mattermost.ServerURL,
		botPrefix: cfg.Mattermost.BotPrefix,
		format:    cfg.FormatDisplayname,
		users:     make(map[string]cachedUser),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "mm_client").Logger(),
		now:       time.Now,
	}
}

// API exposes the REST client for collaborators that take a narrower
// interface, such as the emoji catalog.
func (m *MattermostClient) API() *model.Client4 {
	return m.client
}

// Connect validates the bot token and the bridged channel, then opens the
// WebSocket. Events are passed to handle from a single goroutine until ctx
// is done or Disconnect is called; dropped sockets are reopened with
// exponential backoff.
func (m *MattermostClient) Connect(ctx context.Context, channelID string, handle func(context.Context, *model.WebSocketEvent)) error {
	m.log.Info().Str("server_url", m.serverURL).Msg("Connecting to Mattermost")
	me, err := m.validateToken(ctx)
	if err != nil {
		return err
	}
	m.userID = me.Id
	m.username = me.Username
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if err := m.checkChannel(ctx, channelID); err != nil {
		return err
	}
	if err := m.connectWebSocket(); err != nil {
		return err
	}
	go m.listenWebSocket(ctx, handle)
	return nil
}

func (m *MattermostClient) connectWebSocket() error {
	wsURL := httpToWS(m.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	m.wsClient = ws
	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *MattermostClient) listenWebSocket(ctx context.Context, handle func(context.Context, *model.WebSocketEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case event, ok := <-m.wsClient.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				if !m.reconnect(ctx) {
					return
				}
				continue
			}
			if event == nil {
				continue
			}
			handle(ctx, event)
		}
	}
}

// reconnect retries the WebSocket until it succeeds or the client stops.
func (m *MattermostClient) reconnect(ctx context.Context) bool {
	delay := reconnectMinDelay
	for {
		select {
		case <-ctx.Done():
			return false
		case <-m.stopChan:
			return false
		case <-time.After(delay):
		}
		err := m.connectWebSocket()
		if err == nil {
			return true
		}
		m.log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// Disconnect closes the WebSocket connection and stops the event loop.
func (m *MattermostClient) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	if m.wsClient != nil {
		m.wsClient.Close()
	}
}

// PostAs creates a post in channelID that Mattermost renders under username
// and iconURL instead of the bot's own profile. The server must allow
// integrations to override usernames and profile pictures.
func (m *MattermostClient) PostAs(ctx context.Context, channelID, username, iconURL, message string) error {
	post := &model.Post{
		ChannelId: channelID,
		Message:   message,
	}
	post.AddProp("override_username", username)
	if iconURL != "" {
		post.AddProp("override_icon_url", iconURL)
	}
	post.AddProp("from_webhook", "true")
	if _, _, err := m.client.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// UserByID returns a user, served from a short-lived cache.
func (m *MattermostClient) UserByID(ctx context.Context, userID string) (*model.User, error) {
	if user, ok := m.cachedUser(userID); ok {
		return user, nil
	}
	user, _, err := m.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	m.storeUser(user)
	return user, nil
}

// UserByUsername looks up a user by username. Results are not cached since
// mention lookups are usually for names that were never seen by ID.
func (m *MattermostClient) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, _, err := m.client.GetUserByUsername(ctx, username, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user @%s: %w", username, err)
	}
	m.storeUser(user)
	return user, nil
}

// DisplayName renders the configured display name for a user, falling back
// to the raw ID when the user cannot be fetched.
func (m *MattermostClient) DisplayName(ctx context.Context, userID string) string {
	user, err := m.UserByID(ctx, userID)
	if err != nil {
		m.log.Debug().Err(err).Str("user_id", userID).Msg("Falling back to user ID for display name")
		return userID
	}
	return m.formatUser(user)
}

func (m *MattermostClient) formatUser(user *model.User) string {
	return m.format(displaynameParams(user))
}

func displaynameParams(user *model.User) DisplaynameParams {
	return DisplaynameParams{
		Username:  user.Username,
		Nickname:  user.Nickname,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

func (m *MattermostClient) cachedUser(userID string) (*model.User, bool) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	entry, ok := m.users[userID]
	if !ok || m.now().Sub(entry.fetchedAt) > userCacheTTL {
		return nil, false
	}
	return entry.user, true
}

func (m *MattermostClient) storeUser(user *model.User) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	m.users[user.Id] = cachedUser{user: user, fetchedAt: m.now()}
}
