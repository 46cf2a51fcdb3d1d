// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/linking"
)

var (
	testChannelID = "channel" + strings.Repeat("0", 19)
	testBotID     = "bot" + strings.Repeat("0", 23)
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Threads maps root post ID to the thread's PostList.
	Threads map[string]*model.PostList
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Channels:      make(map[string]*model.Channel),
		Threads:       make(map[string]*model.PostList),
		FailEndpoints: make(map[string]bool),
	}
	f.Users[testBotID] = &model.User{Id: testBotID, Username: "craftbridge"}
	f.TokenToUser["test-token"] = testBotID
	f.Channels[testChannelID] = &model.Channel{Id: testChannelID, Name: "minecraft"}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) addUser(u *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Users[u.Id] = u
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// CreatedPosts decodes every post sent to POST /api/v4/posts.
func (f *fakeMM) CreatedPosts() []*model.Post {
	var posts []*model.Post
	for _, c := range f.Calls() {
		if c.Method != http.MethodPost || c.Path != "/api/v4/posts" {
			continue
		}
		var post model.Post
		if err := json.Unmarshal([]byte(c.Body), &post); err == nil {
			posts = append(posts, &post)
		}
	}
	return posts
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) user(match func(*model.User) bool) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.Users {
		if match(u) {
			return u
		}
	}
	return nil
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	// Check if this endpoint should fail.
	f.mu.Lock()
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			f.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}
	f.mu.Unlock()

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u := f.user(func(u *model.User) bool { return u.Id == uid }); u != nil {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/username/{username}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/username/"):
		name := path[len("/api/v4/users/username/"):]
		if u := f.user(func(u *model.User) bool { return u.Username == name }); u != nil {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u := f.user(func(u *model.User) bool { return u.Id == uid }); u != nil {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/posts/{post_id}/thread
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/posts/") && strings.HasSuffix(path, "/thread"):
		rootID := strings.TrimSuffix(path[len("/api/v4/posts/"):], "/thread")
		f.mu.Lock()
		pl, ok := f.Threads[rootID]
		f.mu.Unlock()
		if ok {
			_ = json.NewEncoder(w).Encode(pl)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && !strings.Contains(path[len("/api/v4/channels/"):], "/"):
		chID := path[len("/api/v4/channels/"):]
		f.mu.Lock()
		ch, ok := f.Channels[chID]
		f.mu.Unlock()
		if ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent wraps post in a posted event the way the server sends it.
func postedEvent(t *testing.T, post *model.Post, senderName string) *model.WebSocketEvent {
	t.Helper()
	data, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("marshal post: %v", err)
	}
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(data),
		"sender_name": "@" + senderName,
	})
}

// fakeGame is a game server whose execution context is the caller: Execute
// runs closures inline.
type fakeGame struct {
	mu       sync.Mutex
	players  []game.Player
	commands []string
	handler  game.Handler
	position game.Position
	posErr   error
}

var _ GameServer = (*fakeGame)(nil)

func newFakeGame(players ...game.Player) *fakeGame {
	return &fakeGame{players: players}
}

func (g *fakeGame) record(cmd string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append(g.commands, cmd)
	return nil
}

func (g *fakeGame) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commands...)
}

func (g *fakeGame) OnlinePlayers() []game.Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]game.Player(nil), g.players...)
}

func (g *fakeGame) PlayerByName(name string) (game.Player, bool) {
	for _, p := range g.OnlinePlayers() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return game.Player{}, false
}

func (g *fakeGame) PlayerByID(id uuid.UUID) (game.Player, bool) {
	for _, p := range g.OnlinePlayers() {
		if p.ID == id {
			return p, true
		}
	}
	return game.Player{}, false
}

func (g *fakeGame) Execute(fn func())                { fn() }
func (g *fakeGame) Broadcast(line string) error      { return g.record("broadcast " + line) }
func (g *fakeGame) Tell(player, line string) error   { return g.record("tell " + player + " " + line) }
func (g *fakeGame) Notify(player, text string) error { return g.record("notify " + player + " " + text) }
func (g *fakeGame) Kick(player, reason string) error { return g.record("kick " + player + " " + reason) }
func (g *fakeGame) Host() string                     { return "mc.example.com" }
func (g *fakeGame) SetHandler(h game.Handler)        { g.handler = h }
func (g *fakeGame) Run(ctx context.Context) error    { <-ctx.Done(); return nil }

func (g *fakeGame) SendResourcePack(player, url, sha1 string) error {
	return g.record("pack " + player + " " + url + " " + sha1)
}

func (g *fakeGame) Position(ctx context.Context, player string) (game.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position, g.posErr
}

// newTestBridge builds a bridge against fake Mattermost and game servers.
// The resource pack is disabled unless mutate enables it.
func newTestBridge(t *testing.T, mm *fakeMM, g *fakeGame, mutate ...func(*Config)) *Bridge {
	t.Helper()
	cfg, err := defaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Mattermost.ServerURL = mm.Server.URL
	cfg.Mattermost.BotToken = "test-token"
	cfg.Mattermost.CommandToken = "cmd-token"
	cfg.Mattermost.ChannelID = testChannelID
	cfg.ResourcePack.Enabled = false
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatal(err)
	}

	client := NewMattermostClient(cfg, zerolog.Nop())
	client.userID = testBotID
	links, err := linking.NewRegistry(nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return newBridge(cfg, t.TempDir(), g, client, links, zerolog.Nop())
}

// runOutbound starts the chat poster until the test ends.
func runOutbound(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.outbound.Run(ctx)
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
