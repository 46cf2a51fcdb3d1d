// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
)

var (
	// ErrNoToken is returned by Connect when no bot token is configured.
	ErrNoToken = errors.New("mattermost bot token not configured")
	// ErrInvalidChannel is returned for a malformed or inaccessible channel ID.
	ErrInvalidChannel = errors.New("mattermost channel not usable")
)

// validateToken checks the bot token by fetching the account it belongs to.
func (m *MattermostClient) validateToken(ctx context.Context) (*model.User, error) {
	if m.client.AuthToken == "" {
		return nil, ErrNoToken
	}
	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return me, nil
}

// checkChannel verifies the bridged channel exists and the bot can read it.
func (m *MattermostClient) checkChannel(ctx context.Context, channelID string) error {
	if !model.IsValidId(channelID) {
		return fmt.Errorf("%w: %q is not a Mattermost ID", ErrInvalidChannel, channelID)
	}
	channel, _, err := m.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChannel, err)
	}
	m.log.Info().
		Str("channel_id", channel.Id).
		Str("channel_name", channel.Name).
		Msg("Bridging channel")
	return nil
}
