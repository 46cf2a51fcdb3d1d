// Copyright 2024-2026 Aiku AI

// Package mattermostfmt converts Mattermost markdown to Minecraft legacy
// formatting codes for lines shown in game.
package mattermostfmt

import (
	"regexp"
	"strconv"
	"strings"
)

// Legacy formatting codes understood by the game client.
const (
	Reset         = "§r"
	Bold          = "§l"
	Italic        = "§o"
	Strikethrough = "§m"
	Underline     = "§n"
	Gray          = "§7"
	Aqua          = "§b"
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^\w*])[_*]([^_*\s](?:[^_*]*[^_*\s])?)[_*]($|[^\w*])`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	ulRe         = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	blockquoteRe = regexp.MustCompile(`^>\s?(.*)$`)
)

// Parse converts a Mattermost markdown message to a game chat line.
// Inline code and code blocks are shown verbatim in gray. Links keep their
// target after the text so players can copy it; unsafe schemes are dropped.
func Parse(text string) string {
	if text == "" {
		return ""
	}

	// Step 1: Extract code so nothing inside it is formatted.
	var code []string
	stash := func(s string) string {
		code = append(code, s)
		return "\x00CODE" + strconv.Itoa(len(code)-1) + "\x00"
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		return stash(Gray + strings.TrimRight(parts[2], "\n") + Reset)
	})
	text = codeRe.ReplaceAllStringFunc(text, func(match string) string {
		return stash(Gray + codeRe.FindStringSubmatch(match)[1] + Reset)
	})

	// Step 2: Line structure.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case headingRe.MatchString(line):
			lines[i] = Bold + headingRe.FindStringSubmatch(line)[2] + Reset
		case blockquoteRe.MatchString(line):
			lines[i] = Gray + "┃ " + blockquoteRe.FindStringSubmatch(line)[1] + Reset
		case ulRe.MatchString(line):
			lines[i] = "• " + ulRe.FindStringSubmatch(line)[1]
		}
	}
	text = strings.Join(lines, "\n")

	// Step 3: Inline formatting.
	text = boldRe.ReplaceAllString(text, Bold+"$1"+Reset)
	text = strikeRe.ReplaceAllString(text, Strikethrough+"$1"+Reset)
	// Matches consume the boundary character, so a span directly after
	// another needs a second pass.
	for range 2 {
		text = italicRe.ReplaceAllString(text, "${1}"+Italic+"${2}"+Reset+"${3}")
	}

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], strings.TrimSpace(parts[2])
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return Aqua + Underline + label + Reset + " (" + href + ")"
		}
		return label
	})

	// Step 4: Restore code.
	for i, c := range code {
		text = strings.Replace(text, "\x00CODE"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return text
}
