// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package emoji fetches a team's custom emoji images into a local
// directory, ready to be packaged as a resource pack.
package emoji

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrAuth means the catalog rejected or never received credentials. The
	// asset subsystem is disabled when a catalog fetch fails with it.
	ErrAuth = errors.New("emoji catalog authentication failed")

	// ErrProtocol means the catalog answered with something that could not
	// be parsed.
	ErrProtocol = errors.New("malformed emoji catalog response")
)

// Entry is one downloadable emoji. Aliases are never returned as entries.
type Entry struct {
	Name string
	// URL is the image location for sources that serve images by URL.
	URL string
	// ID is the source-specific identifier for sources that serve images by
	// ID.
	ID string
}

// CatalogSource lists a team's custom emoji and opens their images.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) ([]Entry, error)
	Open(ctx context.Context, e Entry) (io.ReadCloser, error)
}
