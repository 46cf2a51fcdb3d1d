// Copyright 2024-2026 Aiku AI

package minecraft

import (
	"strings"
	"unicode/utf8"
)

const formatMark = "§"

// tellrawCommands renders line as one or more tellraw commands for target,
// each within the RCON request limit once JSON-encoded. Long lines break at
// a space when one is near the limit, and formatting codes active at a
// break are repeated at the start of the next part.
func tellrawCommands(target, line string) []string {
	head := "tellraw " + target + " "
	budget := maxCommandLength - len(head) - len(componentJSON(textComponent{}))
	var cmds []string
	for {
		part, rest := splitEncoded(line, budget)
		cmds = append(cmds, head+componentJSON(textComponent{Text: part}))
		if rest == "" {
			return cmds
		}
		line = activeFormat(part) + rest
	}
}

// splitEncoded returns the longest prefix of s whose JSON string encoding
// fits in budget bytes, and the remainder.
func splitEncoded(s string, budget int) (string, string) {
	size, cut, lastSpace := 0, len(s), -1
	for i, r := range s {
		n := encodedLen(r)
		if size+n > budget {
			cut = i
			break
		}
		size += n
		if r == ' ' {
			lastSpace = i
		}
	}
	if cut == len(s) {
		return s, ""
	}
	if lastSpace > 0 && lastSpace >= cut/2 {
		return s[:lastSpace], s[lastSpace+1:]
	}
	if strings.HasSuffix(s[:cut], formatMark) && cut > len(formatMark) {
		cut -= len(formatMark)
	}
	if cut == 0 {
		_, cut = utf8.DecodeRuneInString(s)
	}
	return s[:cut], s[cut:]
}

// encodedLen is the number of bytes r takes inside a JSON string as
// componentJSON writes it.
func encodedLen(r rune) int {
	switch {
	case r == '"' || r == '\\' || r == '\n' || r == '\r' || r == '\t':
		return 2
	case r < 0x20, r == utf8.RuneError, r == '\u2028', r == '\u2029':
		return 6
	default:
		return utf8.RuneLen(r)
	}
}

// activeFormat returns the formatting codes in effect at the end of s,
// lower-cased and without repeats. A color code clears earlier styles and
// §r clears everything.
func activeFormat(s string) string {
	var active string
	for {
		i := strings.Index(s, formatMark)
		if i < 0 || i+len(formatMark) >= len(s) {
			return active
		}
		code := formatMark + strings.ToLower(s[i+len(formatMark):i+len(formatMark)+1])
		s = s[i+len(formatMark)+1:]
		switch c := code[len(formatMark)]; {
		case c == 'r':
			active = ""
		case strings.IndexByte("0123456789abcdef", c) >= 0:
			active = code
		case strings.IndexByte("klmno", c) >= 0 && !strings.Contains(active, code):
			active += code
		}
	}
}
