// Copyright 2024-2026 Aiku AI

package linking

import (
	"container/heap"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CodeLength is the number of characters in a link code.
	CodeLength = 6
	// CodeTTL is how long an issued code stays redeemable.
	CodeTTL = 300 * time.Second

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// maxCodeAttempts bounds regeneration when a fresh code collides with a
	// live code belonging to another player.
	maxCodeAttempts = 16
)

// PendingCode is a one-time code proving control of a game account. It is
// issued when an unlinked player tries to join and redeemed from chat.
type PendingCode struct {
	Code        string
	GameID      uuid.UUID
	DisplayName string
	ExpiresAt   time.Time
}

// Expired reports whether the code is past its TTL at the given instant.
func (p *PendingCode) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// NormalizeCode trims whitespace and upper-cases a user-typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateCode draws CodeLength characters uniformly from codeAlphabet.
func generateCode(r io.Reader) (string, error) {
	// 252 is the largest multiple of 36 below 256; larger bytes are
	// rejected so every character is equally likely.
	const limit = 252
	var sb strings.Builder
	buf := make([]byte, CodeLength*2)
	for sb.Len() < CodeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
			if sb.Len() == CodeLength {
				break
			}
		}
	}
	return sb.String(), nil
}

var defaultRandom io.Reader = rand.Reader

// expiryItem is a heap entry. Entries are never updated in place; a code
// that was replaced or consumed leaves a stale entry that is ignored when
// popped.
type expiryItem struct {
	code      string
	expiresAt time.Time
}

// expiryHeap is a min-heap of code expirations.
type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) { *h = append(*h, x.(expiryItem)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *expiryHeap) push(code string, expiresAt time.Time) {
	heap.Push(h, expiryItem{code: code, expiresAt: expiresAt})
}

// popExpired removes and returns every entry that expired at or before now.
func (h *expiryHeap) popExpired(now time.Time) []expiryItem {
	var out []expiryItem
	for h.Len() > 0 && !now.Before((*h)[0].expiresAt) {
		out = append(out, heap.Pop(h).(expiryItem))
	}
	return out
}
