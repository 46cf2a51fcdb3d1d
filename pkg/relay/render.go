// Copyright 2024-2026 Aiku AI

package relay

// Line is one chat message reduced to what the game displays.
type Line struct {
	Author string
	Body   string
}

const (
	threadRootPrefix  = "[thread] "
	threadReplyPrefix = "  ↳ "
)

// RenderLine formats a single message as "<Author> Body". Lines without an
// author render as the bare body.
func RenderLine(l Line) string {
	if l.Author == "" {
		return l.Body
	}
	return "<" + l.Author + "> " + l.Body
}

// RenderThread formats a thread root followed by its replies, oldest first.
func RenderThread(root Line, replies []Line) []string {
	out := make([]string, 0, len(replies)+1)
	out = append(out, threadRootPrefix+RenderLine(root))
	for _, reply := range replies {
		out = append(out, threadReplyPrefix+RenderLine(reply))
	}
	return out
}
