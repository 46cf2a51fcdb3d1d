// Copyright 2024-2026 Aiku AI

package emoji

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// DefaultSlackAPIURL is the Slack Web API base.
const DefaultSlackAPIURL = "https://slack.com/api"

const slackAliasPrefix = "alias:"

// slackAuthErrors are the emoji.list error codes that mean the token is
// missing or lacks access.
var slackAuthErrors = map[string]bool{
	"not_authed":             true,
	"invalid_auth":           true,
	"account_inactive":       true,
	"token_revoked":          true,
	"token_expired":          true,
	"no_permission":          true,
	"missing_scope":          true,
	"not_allowed_token_type": true,
}

// SlackCatalog reads custom emoji from a Slack workspace with a bot token.
type SlackCatalog struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

var _ CatalogSource = (*SlackCatalog)(nil)

// NewSlackCatalog returns a catalog for the workspace that issued token.
func NewSlackCatalog(token string, client *http.Client) *SlackCatalog {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackCatalog{BaseURL: DefaultSlackAPIURL, Token: token, Client: client}
}

type slackEmojiList struct {
	OK    bool              `json:"ok"`
	Error string            `json:"error"`
	Emoji map[string]string `json:"emoji"`
}

// FetchCatalog calls emoji.list once. Alias entries are excluded and the
// result is sorted by name.
func (c *SlackCatalog) FetchCatalog(ctx context.Context) ([]Entry, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("%w: no token configured", ErrAuth)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.BaseURL, "/")+"/emoji.list", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request emoji list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuth, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emoji list returned HTTP %d", resp.StatusCode)
	}

	var list slackEmojiList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if !list.OK {
		if slackAuthErrors[list.Error] {
			return nil, fmt.Errorf("%w: %s", ErrAuth, list.Error)
		}
		return nil, fmt.Errorf("%w: %s", ErrProtocol, list.Error)
	}

	entries := make([]Entry, 0, len(list.Emoji))
	for name, value := range list.Emoji {
		if strings.HasPrefix(value, slackAliasPrefix) {
			continue
		}
		entries = append(entries, Entry{Name: name, URL: value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Open fetches the image at e.URL.
func (c *SlackCatalog) Open(ctx context.Context, e Entry) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("image request returned HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}
