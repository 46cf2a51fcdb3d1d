// Copyright 2024-2026 Aiku AI

package emoji

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
)

// mattermostPageSize is the largest page the emoji list endpoint serves.
const mattermostPageSize = 200

// EmojiAPI is the subset of *model.Client4 used to read custom emoji.
type EmojiAPI interface {
	GetEmojiList(ctx context.Context, page, perPage int) ([]*model.Emoji, *model.Response, error)
	GetEmojiImage(ctx context.Context, emojiID string) ([]byte, *model.Response, error)
}

var _ EmojiAPI = (*model.Client4)(nil)

// MattermostCatalog lists custom emoji through the Mattermost REST API.
type MattermostCatalog struct {
	api EmojiAPI
}

var _ CatalogSource = (*MattermostCatalog)(nil)

// NewMattermostCatalog wraps an authenticated client.
func NewMattermostCatalog(api EmojiAPI) *MattermostCatalog {
	return &MattermostCatalog{api: api}
}

// FetchCatalog pages through every custom emoji on the server.
func (c *MattermostCatalog) FetchCatalog(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for page := 0; ; page++ {
		list, resp, err := c.api.GetEmojiList(ctx, page, mattermostPageSize)
		if err != nil {
			return nil, classifyMattermostError(resp, err)
		}
		for _, e := range list {
			if e == nil || e.Name == "" {
				continue
			}
			entries = append(entries, Entry{Name: e.Name, ID: e.Id})
		}
		if len(list) < mattermostPageSize {
			return entries, nil
		}
	}
}

// Open downloads an emoji image by ID.
func (c *MattermostCatalog) Open(ctx context.Context, e Entry) (io.ReadCloser, error) {
	data, resp, err := c.api.GetEmojiImage(ctx, e.ID)
	if err != nil {
		return nil, classifyMattermostError(resp, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// unmarshalErrorID is the AppError ID Client4 reports when a response body
// does not decode.
const unmarshalErrorID = "api.unmarshal_error"

// classifyMattermostError maps rejected credentials to ErrAuth and bodies
// that are not the expected JSON to ErrProtocol.
func classifyMattermostError(resp *model.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	var appErr *model.AppError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if (errors.As(err, &appErr) && appErr.Id == unmarshalErrorID) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return err
}
