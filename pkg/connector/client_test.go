// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, fake *fakeMM, token string) *MattermostClient {
	t.Helper()
	cfg, err := defaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Mattermost.ServerURL = fake.Server.URL
	cfg.Mattermost.BotToken = token
	cfg.Mattermost.BotPrefix = "relay_"
	if err := cfg.PostProcess(); err != nil {
		t.Fatal(err)
	}
	mc := NewMattermostClient(cfg, zerolog.Nop())
	mc.userID = testBotID
	return mc
}

// TestDisconnect_ClosesStopChan verifies that Disconnect closes the stopChan.
func TestDisconnect_ClosesStopChan(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	mc := newTestClient(t, fake, "test-token")
	mc.Disconnect()

	select {
	case <-mc.stopChan:
	default:
		t.Fatal("stopChan was not closed after Disconnect")
	}
}

// TestDisconnect_ConcurrentSafe verifies concurrent Disconnect calls do not
// panic on a double close.
func TestDisconnect_ConcurrentSafe(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	mc := newTestClient(t, fake, "test-token")
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.Disconnect()
		}()
	}
	wg.Wait()
}

func TestConnect_NoToken(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	mc := newTestClient(t, fake, "")
	err := mc.Connect(context.Background(), testChannelID, nil)
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Error("no request should be made without a token")
	}
}

func TestConnect_InvalidToken(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	mc := newTestClient(t, fake, "wrong-token")
	if err := mc.Connect(context.Background(), testChannelID, nil); err == nil {
		t.Fatal("expected error for invalid token")
	}
	if !fake.CalledPath("/users/me") {
		t.Error("token should be validated with GetMe")
	}
}

func TestCheckChannel(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	mc := newTestClient(t, fake, "test-token")

	tests := []struct {
		name      string
		channelID string
		wantErr   bool
	}{
		{"valid", testChannelID, false},
		{"malformed", "town-square", true},
		{"unknown", model.NewId(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := mc.checkChannel(context.Background(), tt.channelID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkChannel(%q): err=%v, wantErr=%v", tt.channelID, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidChannel) {
				t.Errorf("expected ErrInvalidChannel, got %v", err)
			}
		})
	}
}

func TestPostAs_OverridesIdentity(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	mc := newTestClient(t, fake, "test-token")

	err := mc.PostAs(context.Background(), testChannelID, "Steve", "https://cravatar.eu/avatar/x/512", "hello")
	if err != nil {
		t.Fatalf("PostAs: %v", err)
	}
	posts := fake.CreatedPosts()
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	post := posts[0]
	if post.ChannelId != testChannelID || post.Message != "hello" {
		t.Errorf("post: channel %q message %q", post.ChannelId, post.Message)
	}
	if got := post.GetProp("override_username"); got != "Steve" {
		t.Errorf("override_username: got %v", got)
	}
	if got := post.GetProp("override_icon_url"); got != "https://cravatar.eu/avatar/x/512" {
		t.Errorf("override_icon_url: got %v", got)
	}
}

func TestPostAs_Error(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	fake.FailEndpoints["/api/v4/posts"] = true
	mc := newTestClient(t, fake, "test-token")

	if err := mc.PostAs(context.Background(), testChannelID, "Steve", "", "hello"); err == nil {
		t.Fatal("expected error when post creation fails")
	}
}

func TestUserByID_Cached(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	fake.addUser(&model.User{Id: "u1", Username: "alice", Nickname: "Al"})
	mc := newTestClient(t, fake, "test-token")

	for range 3 {
		user, err := mc.UserByID(context.Background(), "u1")
		if err != nil {
			t.Fatalf("UserByID: %v", err)
		}
		if user.Username != "alice" {
			t.Errorf("username: got %q", user.Username)
		}
	}
	count := 0
	for _, c := range fake.Calls() {
		if c.Path == "/api/v4/users/u1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected one request for cached user, got %d", count)
	}
}

func TestUserByID_CacheExpires(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	fake.addUser(&model.User{Id: "u1", Username: "alice"})
	mc := newTestClient(t, fake, "test-token")

	now := time.Now()
	mc.now = func() time.Time { return now }
	if _, err := mc.UserByID(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(userCacheTTL + time.Second)
	if _, err := mc.UserByID(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, c := range fake.Calls() {
		if c.Path == "/api/v4/users/u1" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected a refetch after the TTL, got %d requests", count)
	}
}

func TestUserByUsername(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	fake.addUser(&model.User{Id: "u1", Username: "alice"})
	mc := newTestClient(t, fake, "test-token")

	user, err := mc.UserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if user.Id != "u1" {
		t.Errorf("id: got %q", user.Id)
	}
	if _, err := mc.UserByUsername(context.Background(), "nobody"); err == nil {
		t.Error("expected error for unknown username")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	fake.addUser(&model.User{Id: "u1", Username: "alice", Nickname: "Al"})
	fake.addUser(&model.User{Id: "u2", Username: "bob"})
	mc := newTestClient(t, fake, "test-token")

	tests := []struct {
		userID string
		want   string
	}{
		{"u1", "Al"},
		{"u2", "bob"},
		{"missing", "missing"},
	}
	for _, tt := range tests {
		if got := mc.DisplayName(context.Background(), tt.userID); got != tt.want {
			t.Errorf("DisplayName(%q): got %q, want %q", tt.userID, got, tt.want)
		}
	}
}

func TestFetchThread_OrdersAndFilters(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	pl := model.NewPostList()
	// The root is created last on purpose: it must still come first.
	pl.AddPost(&model.Post{Id: "root", UserId: "u1", Message: "root", CreateAt: 300})
	pl.AddPost(&model.Post{Id: "r2", UserId: "u2", Message: "second", CreateAt: 200, RootId: "root"})
	pl.AddPost(&model.Post{Id: "r1", UserId: "u2", Message: "first", CreateAt: 100, RootId: "root"})
	pl.AddPost(&model.Post{Id: "sys", Type: model.PostTypeJoinChannel, CreateAt: 150, RootId: "root"})
	for _, id := range []string{"root", "r2", "r1", "sys"} {
		pl.AddOrder(id)
	}
	fake.Threads["root"] = pl

	mc := newTestClient(t, fake, "test-token")
	posts, err := mc.FetchThread(context.Background(), "root")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	var got []string
	for _, p := range posts {
		got = append(got, p.Id)
	}
	want := []string{"root", "r1", "r2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFetchThread_KeepsSystemRoot(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	pl := model.NewPostList()
	pl.AddPost(&model.Post{Id: "root", UserId: "u1", Type: model.PostTypeJoinChannel, CreateAt: 100})
	pl.AddPost(&model.Post{Id: "r1", UserId: "u2", Message: "welcome", CreateAt: 200, RootId: "root"})
	pl.AddPost(&model.Post{Id: "r2", UserId: "u3", Message: "thanks", CreateAt: 300, RootId: "root"})
	for _, id := range []string{"root", "r1", "r2"} {
		pl.AddOrder(id)
	}
	fake.Threads["root"] = pl

	mc := newTestClient(t, fake, "test-token")
	posts, err := mc.FetchThread(context.Background(), "root")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	var got []string
	for _, p := range posts {
		got = append(got, p.Id)
	}
	if want := []string{"root", "r1", "r2"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFetchThread_Error(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	mc := newTestClient(t, fake, "test-token")

	if _, err := mc.FetchThread(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown thread")
	}
}

func TestHttpToWS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"https://mm.example.com", "wss://mm.example.com"},
		{"http://localhost:8065", "ws://localhost:8065"},
		{"ws://already", "ws://already"},
	}
	for _, tt := range tests {
		if got := httpToWS(tt.input); got != tt.want {
			t.Errorf("httpToWS(%q): got %q, want %q", tt.input, got, tt.want)
		}
	}
}
