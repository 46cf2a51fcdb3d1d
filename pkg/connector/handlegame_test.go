// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/linking"
	"github.com/aiku/craftbridge/pkg/respack"
)

var kickCodeRe = regexp.MustCompile(`/link ([A-Z0-9]{6})`)

func newSteve() game.Player {
	return game.Player{ID: uuid.New(), Name: "Steve", JoinedAt: time.Now()}
}

// kickedCode extracts the link code from the last kick sent to the game.
func kickedCode(t *testing.T, g *fakeGame) string {
	t.Helper()
	cmds := g.Commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		if m := kickCodeRe.FindStringSubmatch(cmds[i]); m != nil && strings.HasPrefix(cmds[i], "kick ") {
			return m[1]
		}
	}
	t.Fatalf("no kick with a link code in %q", cmds)
	return ""
}

func postsWithMessage(fake *fakeMM, message string) []*model.Post {
	var out []*model.Post
	for _, p := range fake.CreatedPosts() {
		if p.Message == message {
			out = append(out, p)
		}
	}
	return out
}

func TestOnJoin_UnlinkedIsKickedWithCode(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)

	b.OnJoin(steve)

	code := kickedCode(t, g)
	if b.links.PendingCount() != 1 {
		t.Fatalf("pending codes: got %d, want 1", b.links.PendingCount())
	}
	pending, err := b.links.RedeemCode(strings.ToLower(code), "alice-id")
	if err != nil {
		t.Fatalf("RedeemCode: %v", err)
	}
	if pending.GameID != steve.ID || pending.DisplayName != "Steve" {
		t.Errorf("pending code: got %+v", pending)
	}
	if chatID, ok := b.links.LookupChatID(steve.ID); !ok || chatID != "alice-id" {
		t.Errorf("link: got %q, %v", chatID, ok)
	}
}

func TestOnJoin_RetryInvalidatesPreviousCode(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)

	b.OnJoin(steve)
	first := kickedCode(t, g)
	b.OnJoin(steve)
	second := kickedCode(t, g)

	if b.links.PendingCount() != 1 {
		t.Fatalf("pending codes: got %d, want 1", b.links.PendingCount())
	}
	if first != second {
		if _, err := b.links.RedeemCode(first, "alice-id"); !errors.Is(err, linking.ErrCodeNotFound) {
			t.Errorf("first code should be invalidated, got %v", err)
		}
	}
	if _, err := b.links.RedeemCode(second, "alice-id"); err != nil {
		t.Errorf("second code should redeem: %v", err)
	}
}

func TestOnJoin_LinkedAnnouncesAndOffersPack(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g, func(c *Config) { c.ResourcePack.Enabled = true })
	b.links.Link(steve.ID, "alice-id")
	b.distributor.Publish(&respack.Bundle{SHA1: "0123abcd", BuiltAt: time.Now()})
	runOutbound(t, b)

	b.OnJoin(steve)

	wantPack := "pack Steve http://mc.example.com:8082/resourcepack.zip 0123abcd"
	if cmds := g.Commands(); len(cmds) != 1 || cmds[0] != wantPack {
		t.Errorf("commands: got %q, want [%q]", cmds, wantPack)
	}
	waitFor(t, "join announcement", func() bool {
		return len(postsWithMessage(fake, joinedText)) == 1
	})
	post := postsWithMessage(fake, joinedText)[0]
	if post.GetProp("override_username") != "Steve" {
		t.Errorf("override_username: got %v", post.GetProp("override_username"))
	}
	if icon, _ := post.GetProp("override_icon_url").(string); !strings.Contains(icon, steve.ID.String()) {
		t.Errorf("override_icon_url should carry the player's UUID, got %q", icon)
	}
}

func TestOnJoin_LinkedWithoutPack(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g, func(c *Config) { c.ResourcePack.Enabled = true })
	b.links.Link(steve.ID, "alice-id")

	b.OnJoin(steve)

	if cmds := g.Commands(); len(cmds) != 0 {
		t.Errorf("no pack is built yet, got %q", cmds)
	}
}

func TestOnLeave(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	alex := game.Player{ID: uuid.New(), Name: "Alex"}
	g := newFakeGame(steve, alex)
	b := newTestBridge(t, fake, g)
	b.links.Link(steve.ID, "alice-id")
	runOutbound(t, b)

	b.OnLeave(alex)
	b.OnLeave(steve)

	waitFor(t, "leave announcement", func() bool {
		return len(postsWithMessage(fake, leftText)) == 1
	})
	if got := postsWithMessage(fake, leftText)[0].GetProp("override_username"); got != "Steve" {
		t.Errorf("only the linked player should be announced, got %v", got)
	}
}

func TestOnChat_Relays(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)
	runOutbound(t, b)

	b.OnChat(steve, "anyone seen my §lpickaxe§r?")

	waitFor(t, "chat post", func() bool {
		return len(postsWithMessage(fake, "anyone seen my **pickaxe**?")) == 1
	})
}

func TestOnChat_UnlinkCommand(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)
	b.links.Link(steve.ID, "alice-id")

	b.OnChat(steve, " !UNLINK ")

	if _, ok := b.links.LookupChatID(steve.ID); ok {
		t.Error("link should be removed")
	}
	want := "kick Steve " + unlinkedReason
	if cmds := g.Commands(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("commands: got %q, want [%q]", cmds, want)
	}
}

func TestOnChat_UnlinkCommandNotLinked(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)

	b.OnChat(steve, "!unlink")

	want := "tell Steve " + notLinkedReply
	if cmds := g.Commands(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("commands: got %q, want [%q]", cmds, want)
	}
}

func TestOnEvent(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g)
	runOutbound(t, b)

	b.OnEvent(steve, "Steve has made the advancement [Stone Age]")

	waitFor(t, "advancement post", func() bool {
		return len(postsWithMessage(fake, "Steve has made the advancement [Stone Age]")) == 1
	})
}

func TestOnEvent_PresenceDisabled(t *testing.T) {
	t.Parallel()
	fake := newFakeMM()
	t.Cleanup(fake.Close)
	steve := newSteve()
	g := newFakeGame(steve)
	b := newTestBridge(t, fake, g, func(c *Config) { c.Minecraft.RelayPresence = false })
	runOutbound(t, b)

	b.OnEvent(steve, "Steve fell from a high place")
	b.OnChat(steve, "marker")

	// Posts are delivered in order, so once the marker arrives the event
	// would have been posted already.
	waitFor(t, "marker post", func() bool {
		return len(postsWithMessage(fake, "marker")) == 1
	})
	if got := postsWithMessage(fake, "Steve fell from a high place"); len(got) != 0 {
		t.Error("presence lines should not be relayed when disabled")
	}
}

func TestJoinGateReason(t *testing.T) {
	t.Parallel()
	reason := joinGateReason("ABC123")
	for _, want := range []string{"/link ABC123", "5 minutes"} {
		if !strings.Contains(reason, want) {
			t.Errorf("reason %q should contain %q", reason, want)
		}
	}
}
