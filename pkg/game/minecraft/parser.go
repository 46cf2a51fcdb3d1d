// Copyright 2024-2026 Aiku AI

package minecraft

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// EventType classifies a server log line.
type EventType string

const (
	EventReady    EventType = "ready"
	EventStopping EventType = "stopping"
	EventUUID     EventType = "uuid"
	EventJoin     EventType = "join"
	EventLeave    EventType = "leave"
	EventChat     EventType = "chat"
	// EventPresence is a line that starts with a player name, such as a
	// death message or an advancement. Whether the name belongs to an
	// online player is decided by the caller.
	EventPresence EventType = "presence"
)

// LogEvent is a parsed server log line.
type LogEvent struct {
	Type    EventType
	Player  string
	UUID    uuid.UUID
	Message string
}

var (
	// [12:34:56] [Server thread/INFO]: message
	prefixRegex = regexp.MustCompile(`^\[[^\]]+\] \[([^\]]+)/INFO\]: (.*)$`)

	uuidRegex     = regexp.MustCompile(`^UUID of player (\w{1,16}) is ([0-9a-fA-F-]{36})$`)
	readyRegex    = regexp.MustCompile(`^Done \([0-9.,]+s\)!`)
	stoppingRegex = regexp.MustCompile(`^Stopping (?:the )?server$`)
	joinRegex     = regexp.MustCompile(`^(\w{1,16}) joined the game$`)
	leaveRegex    = regexp.MustCompile(`^(\w{1,16}) left the game$`)
	chatRegex     = regexp.MustCompile(`^(?:\[Not Secure\] )?<(\w{1,16})> (.*)$`)
	presenceRegex = regexp.MustCompile(`^(\w{1,16}) (.+)$`)
)

// Player lines the server logs that are not worth relaying.
var ignoredPresence = []string{
	"lost connection",
	"issued server command",
	"moved too quickly",
	"moved wrongly",
	"logged in with entity id",
}

// ParseLine classifies one log line. It reports false for lines that carry
// nothing the bridge acts on.
func ParseLine(line string) (LogEvent, bool) {
	m := prefixRegex.FindStringSubmatch(line)
	if m == nil {
		return LogEvent{}, false
	}
	thread, msg := m[1], m[2]

	if m := uuidRegex.FindStringSubmatch(msg); m != nil {
		id, err := uuid.Parse(m[2])
		if err != nil {
			return LogEvent{}, false
		}
		return LogEvent{Type: EventUUID, Player: m[1], UUID: id}, true
	}
	if thread != "Server thread" && !strings.HasPrefix(thread, "Async Chat Thread") {
		return LogEvent{}, false
	}

	switch {
	case readyRegex.MatchString(msg):
		return LogEvent{Type: EventReady}, true
	case stoppingRegex.MatchString(msg):
		return LogEvent{Type: EventStopping}, true
	}
	if m := chatRegex.FindStringSubmatch(msg); m != nil {
		return LogEvent{Type: EventChat, Player: m[1], Message: m[2]}, true
	}
	if m := joinRegex.FindStringSubmatch(msg); m != nil {
		return LogEvent{Type: EventJoin, Player: m[1]}, true
	}
	if m := leaveRegex.FindStringSubmatch(msg); m != nil {
		return LogEvent{Type: EventLeave, Player: m[1]}, true
	}
	if m := presenceRegex.FindStringSubmatch(msg); m != nil {
		for _, ignored := range ignoredPresence {
			if strings.Contains(m[2], ignored) {
				return LogEvent{}, false
			}
		}
		return LogEvent{Type: EventPresence, Player: m[1], Message: msg}, true
	}
	return LogEvent{}, false
}
