// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/craftbridge/pkg/connector/gamefmt"
	"github.com/aiku/craftbridge/pkg/connector/mattermostfmt"
)

// toGameText converts Mattermost markdown to Minecraft formatting codes.
func toGameText(text string) string {
	return mattermostfmt.Parse(text)
}

// toChatText converts Minecraft formatting codes to Mattermost markdown.
func toChatText(line string) string {
	return gamefmt.Parse(line)
}
