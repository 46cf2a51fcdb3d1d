// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gamefmt converts Minecraft legacy formatting codes to Mattermost
// markdown.
package gamefmt

import (
	"strings"
)

const sectionSign = '§'

var markers = map[rune]string{
	'l': "**",
	'o': "_",
	'm': "~~",
}

type span struct {
	code rune
	at   int
}

// Parse converts a line containing §-codes to markdown. Bold, italic and
// strikethrough become markdown spans; colors, underline and obfuscation
// are dropped. A color code or §r closes every open span, matching how the
// game client renders them.
func Parse(line string) string {
	if !strings.ContainsRune(line, sectionSign) {
		return line
	}

	var out []byte
	var open []span
	closeAll := func() {
		for i := len(open) - 1; i >= 0; i-- {
			s := open[i]
			marker := markers[s.code]
			if len(out) == s.at+len(marker) {
				// Nothing was written inside the span.
				out = out[:s.at]
				continue
			}
			// Markdown does not close a span after whitespace.
			trimmed := strings.TrimRight(string(out[s.at+len(marker):]), " ")
			spaces := len(out) - s.at - len(marker) - len(trimmed)
			out = append(out[:len(out)-spaces], marker...)
			out = append(out, strings.Repeat(" ", spaces)...)
		}
		open = open[:0]
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != sectionSign {
			out = append(out, string(r)...)
			continue
		}
		if i+1 == len(runes) {
			break
		}
		i++
		code := runes[i]
		if code >= 'A' && code <= 'Z' {
			code += 'a' - 'A'
		}
		switch {
		case markers[code] != "":
			active := false
			for _, s := range open {
				active = active || s.code == code
			}
			if !active {
				open = append(open, span{code: code, at: len(out)})
				out = append(out, markers[code]...)
			}
		case code == 'r' || (code >= '0' && code <= '9') || (code >= 'a' && code <= 'f'):
			closeAll()
		}
	}
	closeAll()
	return string(out)
}
