// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package respack

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

// DefaultPath is the URL path the archive is served from.
const DefaultPath = "/resourcepack.zip"

// Distributor serves the most recently published bundle and offers it to
// players. It is safe for concurrent use; publishing swaps the bundle
// pointer, so an in-flight download keeps the file it opened.
type Distributor struct {
	// PublicHost overrides the host placed in offered URLs.
	PublicHost string
	Port       int
	Path       string

	current atomic.Pointer[Bundle]
	log     zerolog.Logger
}

// NewDistributor returns a distributor for the pack server listening on
// port.
func NewDistributor(publicHost string, port int, log zerolog.Logger) *Distributor {
	return &Distributor{
		PublicHost: publicHost,
		Port:       port,
		Path:       DefaultPath,
		log:        log.With().Str("component", "pack_distributor").Logger(),
	}
}

// Publish makes b the bundle served to new requests.
func (d *Distributor) Publish(b *Bundle) {
	d.current.Store(b)
	telemetry.BundleBytes.Set(float64(b.Size))
	d.log.Info().
		Str("sha1", b.SHA1).
		Int("files", b.Files).
		Str("size", humanize.Bytes(uint64(b.Size))).
		Msg("Published resource pack")
}

// Current returns the published bundle, or nil before the first build.
func (d *Distributor) Current() *Bundle {
	return d.current.Load()
}

// URLFor returns the download URL offered to clients. hostHint is used when
// no public host is configured, typically the address the game server is
// reachable on.
func (d *Distributor) URLFor(hostHint string) string {
	host := d.PublicHost
	if host == "" {
		host = hostHint
	}
	if host == "" {
		host = "localhost"
	}
	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("http://%s:%d%s", host, d.Port, path)
}

// PushTo schedules an offer of the current bundle to a player on the
// server's execution context. It is a no-op before the first build.
func (d *Distributor) PushTo(server game.Server, player, hostHint string) {
	b := d.current.Load()
	if b == nil {
		return
	}
	url := d.URLFor(hostHint)
	server.Execute(func() {
		if err := server.SendResourcePack(player, url, b.SHA1); err != nil {
			d.log.Warn().Err(err).Str("player", player).Msg("Failed to offer resource pack")
		}
	})
}

func (d *Distributor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, f, err := d.openCurrent()
	if b == nil {
		http.Error(w, "resource pack not built yet", http.StatusNotFound)
		return
	} else if err != nil {
		d.log.Err(err).Str("path", b.Path).Msg("Failed to open resource pack")
		http.Error(w, "resource pack unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("ETag", strconv.Quote(b.SHA1))
	if r.Method == http.MethodGet {
		telemetry.BundleDownloads.Inc()
	}
	http.ServeContent(w, r, "resourcepack.zip", b.BuiltAt, f)
}

// openCurrent opens the published bundle's file. A bundle superseded and
// removed between the load and the open is retried with its replacement.
func (d *Distributor) openCurrent() (*Bundle, *os.File, error) {
	for {
		b := d.current.Load()
		if b == nil {
			return nil, nil, nil
		}
		f, err := os.Open(b.Path)
		if errors.Is(err, fs.ErrNotExist) && d.current.Load() != b {
			continue
		}
		return b, f, err
	}
}
