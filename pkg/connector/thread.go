// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sort"

	"github.com/mattermost/mattermost/server/public/model"
)

// FetchThread returns the root post and its replies, oldest first. System
// replies are left out; the root is always kept.
func (m *MattermostClient) FetchThread(ctx context.Context, rootID string) ([]*model.Post, error) {
	postList, _, err := m.client.GetPostThread(ctx, rootID, "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}

	// Sort chronologically, with the root first regardless of timestamps.
	posts := postList.ToSlice()
	sort.SliceStable(posts, func(i, j int) bool {
		if (posts[i].Id == rootID) != (posts[j].Id == rootID) {
			return posts[i].Id == rootID
		}
		return posts[i].CreateAt < posts[j].CreateAt
	})

	out := posts[:0]
	for _, post := range posts {
		if post.Id != rootID && post.Type != "" && post.Type != model.PostTypeDefault {
			continue
		}
		out = append(out, post)
	}
	return out, nil
}
