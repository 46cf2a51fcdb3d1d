// Copyright 2024-2026 Aiku AI

package linking

import "errors"

// Link-code and link-state errors. These are surfaced to users as chat or
// game replies rather than logged as failures.
var (
	// ErrCodeNotFound is returned when a redeemed code was never issued or
	// has already been consumed.
	ErrCodeNotFound = errors.New("link code not found")

	// ErrCodeExpired is returned when a redeemed code exists but its TTL has
	// elapsed. The code is discarded as a side effect.
	ErrCodeExpired = errors.New("link code expired")

	// ErrNotLinked is returned by callers that require an existing link.
	ErrNotLinked = errors.New("account not linked")
)
