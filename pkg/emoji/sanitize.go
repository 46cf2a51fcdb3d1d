// Copyright 2024-2026 Aiku AI

package emoji

import "strings"

// FileExt is the extension given to every downloaded image.
const FileExt = ".png"

// Sanitize strips every character outside [A-Za-z0-9._-] from name.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return -1
		}
	}, name)
}

// FileName returns the on-disk name for an emoji, or "" if nothing usable
// survives sanitization.
func FileName(name string) string {
	s := Sanitize(name)
	if strings.Trim(s, ".") == "" {
		return ""
	}
	return s + FileExt
}
