// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package minecraft drives a vanilla Minecraft server from a sidecar
// process: commands go over RCON and events are read from the server log.
package minecraft

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/craftbridge/pkg/game"
)

const DefaultDialTimeout = 5 * time.Second

// Config locates the server's remote console and log file.
type Config struct {
	RCONAddress  string
	RCONPassword string
	LogPath      string
	DialTimeout  time.Duration
	PollInterval time.Duration
}

type commander interface {
	Command(cmd string) (string, error)
	Close() error
}

// Server implements game.Server. All RCON traffic and every Handler
// callback happen on one executor goroutine, in submission order.
type Server struct {
	cfg     Config
	log     zerolog.Logger
	handler game.Handler
	now     func() time.Time
	dial    func(ctx context.Context) (commander, error)

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	mu      sync.RWMutex
	players map[string]game.Player
	uuids   map[string]uuid.UUID

	// Owned by the executor goroutine.
	ctx   context.Context
	conn  commander
	ready bool
}

var _ game.Server = (*Server)(nil)

// NewServer creates an adapter for the server described by cfg. Call
// SetHandler before Run.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	s := &Server{
		cfg:     cfg,
		log:     log.With().Str("component", "minecraft").Logger(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		players: make(map[string]game.Player),
		uuids:   make(map[string]uuid.UUID),
		ctx:     context.Background(),
	}
	s.dial = func(ctx context.Context) (commander, error) {
		return DialRCON(ctx, cfg.RCONAddress, cfg.RCONPassword, cfg.DialTimeout)
	}
	return s
}

// SetHandler sets the receiver of game events.
func (s *Server) SetHandler(h game.Handler) {
	s.handler = h
}

// Host returns the host part of the RCON address, which is where players
// reach the server as well.
func (s *Server) Host() string {
	host, _, err := net.SplitHostPort(s.cfg.RCONAddress)
	if err != nil {
		return ""
	}
	return host
}

// Run starts the executor and the log tailer and blocks until ctx is done.
func (s *Server) Run(parent context.Context) error {
	s.ctx = parent
	tailer := NewLogTailer(s.cfg.LogPath, s.cfg.PollInterval)

	eg, ctx := errgroup.WithContext(parent)
	eg.Go(func() error {
		s.execLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		return tailer.Run(ctx)
	})
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line := <-tailer.Lines:
				if ev, ok := ParseLine(line); ok {
					s.Execute(func() { s.dispatch(ev) })
				}
			}
		}
	})
	// A server that was already running when we started never logs its
	// startup line, so ask it directly.
	s.Execute(s.probe)

	err := eg.Wait()
	s.closeConn()
	if parent.Err() != nil {
		return nil
	}
	return err
}

// Execute queues fn for the executor goroutine. It never blocks.
func (s *Server) Execute(fn func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, fn)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Server) execLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			fn()
		}
	}
}

func (s *Server) probe() {
	resp, err := s.command("list uuids")
	if err != nil {
		s.log.Info().Err(err).Msg("Server not reachable yet, waiting for startup")
		return
	}
	now := s.now()
	s.mu.Lock()
	for _, p := range parseList(resp) {
		p.JoinedAt = now
		s.players[strings.ToLower(p.Name)] = p
	}
	count := len(s.players)
	s.mu.Unlock()
	s.log.Info().Int("online", count).Msg("Connected to running server")
	s.markReady()
}

func (s *Server) markReady() {
	if s.ready {
		return
	}
	s.ready = true
	if s.handler != nil {
		s.handler.OnReady()
	}
}

func (s *Server) dispatch(ev LogEvent) {
	key := strings.ToLower(ev.Player)
	switch ev.Type {
	case EventUUID:
		s.mu.Lock()
		s.uuids[key] = ev.UUID
		s.mu.Unlock()
	case EventReady:
		// The server restarted under us, so any open connection is stale.
		s.closeConn()
		s.markReady()
	case EventStopping:
		s.closeConn()
		s.mu.Lock()
		clear(s.players)
		s.mu.Unlock()
	case EventJoin:
		s.mu.Lock()
		id, ok := s.uuids[key]
		if !ok {
			id = offlineUUID(ev.Player)
		}
		p := game.Player{ID: id, Name: ev.Player, JoinedAt: s.now()}
		s.players[key] = p
		s.mu.Unlock()
		if s.handler != nil {
			s.handler.OnJoin(p)
		}
	case EventLeave:
		s.mu.Lock()
		p, ok := s.players[key]
		delete(s.players, key)
		s.mu.Unlock()
		if ok && s.handler != nil {
			s.handler.OnLeave(p)
		}
	case EventChat:
		p, ok := s.PlayerByName(ev.Player)
		if !ok {
			p = game.Player{ID: s.knownUUID(ev.Player), Name: ev.Player}
		}
		if s.handler != nil {
			s.handler.OnChat(p, ev.Message)
		}
	case EventPresence:
		if p, ok := s.PlayerByName(ev.Player); ok && s.handler != nil {
			s.handler.OnEvent(p, ev.Message)
		}
	}
}

func (s *Server) knownUUID(name string) uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.uuids[strings.ToLower(name)]; ok {
		return id
	}
	return offlineUUID(name)
}

// offlineUUID derives the UUID an offline-mode server assigns to name.
func offlineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

func (s *Server) OnlinePlayers() []game.Player {
	s.mu.RLock()
	out := make([]game.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) PlayerByName(name string) (game.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[strings.ToLower(name)]
	return p, ok
}

func (s *Server) PlayerByID(id uuid.UUID) (game.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if p.ID == id {
			return p, true
		}
	}
	return game.Player{}, false
}

// command runs cmd over RCON, connecting first if needed. A failed
// connection is dropped and redialed on the next command; the failed
// command itself is not retried since it may have run. A command rejected
// for its length was never sent and leaves the connection open.
func (s *Server) command(cmd string) (string, error) {
	if s.conn == nil {
		conn, err := s.dial(s.ctx)
		if err != nil {
			return "", err
		}
		s.conn = conn
	}
	resp, err := s.conn.Command(cmd)
	if err != nil {
		if !errors.Is(err, ErrCommandTooLong) {
			s.closeConn()
		}
		return "", err
	}
	return resp, nil
}

func (s *Server) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// targetCommand runs a command aimed at one player and maps the server's
// "not found" reply to game.ErrPlayerOffline.
func (s *Server) targetCommand(cmd string) (string, error) {
	resp, err := s.command(cmd)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(resp, "No player was found") || strings.HasPrefix(resp, "No entity was found") {
		return "", game.ErrPlayerOffline
	}
	return resp, nil
}

// textComponent is the subset of the JSON chat component format we emit.
type textComponent struct {
	Text       string      `json:"text"`
	Color      string      `json:"color,omitempty"`
	Underlined bool        `json:"underlined,omitempty"`
	ClickEvent *clickEvent `json:"clickEvent,omitempty"`
	HoverEvent *hoverEvent `json:"hoverEvent,omitempty"`
}

type clickEvent struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

type hoverEvent struct {
	Action   string `json:"action"`
	Contents string `json:"contents"`
}

func componentJSON(parts ...textComponent) string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if len(parts) == 1 {
		_ = enc.Encode(parts[0])
	} else {
		_ = enc.Encode(parts)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Broadcast shows line to every player. tellraw is used instead of say so
// the line is not echoed back through the server log. Lines too long for
// one command are sent in parts.
func (s *Server) Broadcast(line string) error {
	for _, cmd := range tellrawCommands("@a", line) {
		if _, err := s.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) Tell(player, line string) error {
	for _, cmd := range tellrawCommands(player, line) {
		if _, err := s.targetCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Notify shows text above the player's hotbar and plays a chime.
func (s *Server) Notify(player, text string) error {
	if _, err := s.targetCommand("title " + player + " actionbar " + componentJSON(textComponent{Text: text, Color: "yellow"})); err != nil {
		return err
	}
	_, err := s.targetCommand("playsound minecraft:entity.experience_orb.pickup player " + player)
	return err
}

func (s *Server) Kick(player, reason string) error {
	reason = strings.ReplaceAll(reason, "\n", " ")
	_, err := s.targetCommand("kick " + player + " " + reason)
	return err
}

// SendResourcePack offers the pack as a clickable download link. Vanilla
// servers cannot push a pack to a connected client over RCON.
func (s *Server) SendResourcePack(player, url, sha1 string) error {
	msg := componentJSON(
		textComponent{Text: "Emoji resource pack available: ", Color: "gray"},
		textComponent{
			Text:       "[Download]",
			Color:      "aqua",
			Underlined: true,
			ClickEvent: &clickEvent{Action: "open_url", Value: url},
			HoverEvent: &hoverEvent{Action: "show_text", Contents: "SHA-1 " + sha1},
		},
	)
	_, err := s.targetCommand("tellraw " + player + " " + msg)
	return err
}

type positionResult struct {
	pos game.Position
	err error
}

// Position queries a player's coordinates and dimension.
func (s *Server) Position(ctx context.Context, player string) (game.Position, error) {
	if _, ok := s.PlayerByName(player); !ok {
		return game.Position{}, game.ErrPlayerOffline
	}
	res := make(chan positionResult, 1)
	s.Execute(func() {
		pos, err := s.queryPosition(player)
		res <- positionResult{pos, err}
	})
	select {
	case r := <-res:
		return r.pos, r.err
	case <-ctx.Done():
		return game.Position{}, ctx.Err()
	}
}

var (
	posRegex       = regexp.MustCompile(`\[(-?[0-9.E-]+)d, (-?[0-9.E-]+)d, (-?[0-9.E-]+)d\]`)
	dimensionRegex = regexp.MustCompile(`"([^"]+)"`)
	listEntryRegex = regexp.MustCompile(`(\w{1,16}) \(([0-9a-fA-F-]{36})\)`)
)

func (s *Server) queryPosition(player string) (game.Position, error) {
	resp, err := s.targetCommand("data get entity " + player + " Pos")
	if err != nil {
		return game.Position{}, err
	}
	m := posRegex.FindStringSubmatch(resp)
	if m == nil {
		return game.Position{}, fmt.Errorf("unexpected position reply %q", resp)
	}
	var pos game.Position
	for i, dst := range []*float64{&pos.X, &pos.Y, &pos.Z} {
		if *dst, err = strconv.ParseFloat(m[i+1], 64); err != nil {
			return game.Position{}, fmt.Errorf("failed to parse coordinate: %w", err)
		}
	}
	if resp, err := s.targetCommand("data get entity " + player + " Dimension"); err == nil {
		if m := dimensionRegex.FindStringSubmatch(resp); m != nil {
			pos.Dimension = strings.TrimPrefix(m[1], "minecraft:")
		}
	}
	return pos, nil
}

// parseList reads the reply to "list uuids".
func parseList(resp string) []game.Player {
	_, names, ok := strings.Cut(resp, ":")
	if !ok {
		return nil
	}
	var out []game.Player
	for _, m := range listEntryRegex.FindAllStringSubmatch(names, -1) {
		id, err := uuid.Parse(m[2])
		if err != nil {
			continue
		}
		out = append(out, game.Player{ID: id, Name: m[1]})
	}
	return out
}
