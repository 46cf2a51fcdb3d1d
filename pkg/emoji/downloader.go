// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package emoji

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aiku/craftbridge/pkg/telemetry"
)

const (
	// DefaultConcurrency is the number of images fetched at once.
	DefaultConcurrency = 5
	// DefaultRequestTimeout bounds a single image fetch.
	DefaultRequestTimeout = 30 * time.Second

	progressEvery = 1000
)

// Result counts the outcome of one DownloadAll run.
type Result struct {
	Downloaded int64
	Skipped    int64
	Failed     int64
}

// Total is the number of entries the run looked at.
func (r Result) Total() int64 {
	return r.Downloaded + r.Skipped + r.Failed
}

// DownloaderOptions tunes a Downloader. Zero values pick the defaults; a
// zero RequestsPerSecond means unthrottled.
type DownloaderOptions struct {
	Concurrency       int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Downloader fetches catalog entries into a directory with a bounded
// worker pool. Each entry succeeds or fails on its own.
type Downloader struct {
	source  CatalogSource
	opts    DownloaderOptions
	limiter *rate.Limiter
	log     zerolog.Logger

	mu   sync.Mutex
	done chan struct{}
	last Result
}

// NewDownloader creates a downloader reading images from source.
func NewDownloader(source CatalogSource, opts DownloaderOptions, log zerolog.Logger) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	d := &Downloader{
		source: source,
		opts:   opts,
		log:    log.With().Str("component", "emoji_downloader").Logger(),
		done:   make(chan struct{}),
	}
	if opts.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Concurrency)
	}
	// No run yet counts as a completed run.
	close(d.done)
	return d
}

// Done returns a channel that is closed when the most recently started run
// completes.
func (d *Downloader) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// LastResult returns the counts of the most recently completed run.
func (d *Downloader) LastResult() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Start runs DownloadAll in the background. Done reflects the new run as
// soon as Start returns.
func (d *Downloader) Start(ctx context.Context, entries []Entry, dir string) <-chan struct{} {
	done := d.begin()
	go d.run(ctx, entries, dir, done)
	return done
}

// DownloadAll fetches every entry into dir and blocks until all workers
// finish. Entries whose file already exists are skipped, so a rerun only
// fetches what is missing. When two names sanitize to the same file the
// first one written wins.
func (d *Downloader) DownloadAll(ctx context.Context, entries []Entry, dir string) (Result, error) {
	return d.run(ctx, entries, dir, d.begin())
}

func (d *Downloader) begin() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = make(chan struct{})
	return d.done
}

type runState struct {
	dir        string
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64

	claimMu sync.Mutex
	claimed map[string]bool
}

// claim reserves a file name for this run. Later entries mapping to the
// same name lose.
func (s *runState) claim(name string) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.claimed[name] {
		return false
	}
	s.claimed[name] = true
	return true
}

func (d *Downloader) run(ctx context.Context, entries []Entry, dir string, done chan struct{}) (Result, error) {
	var res Result
	defer func() {
		d.mu.Lock()
		d.last = res
		d.mu.Unlock()
		close(done)
	}()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create emoji directory: %w", err)
	}

	start := time.Now()
	state := &runState{dir: dir, claimed: make(map[string]bool, len(entries))}
	d.log.Info().
		Int("entries", len(entries)).
		Int("concurrency", d.opts.Concurrency).
		Str("dir", dir).
		Msg("Starting emoji download")

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d.fetchOne(ctx, state, entry)
			return nil
		})
	}
	_ = g.Wait()

	res = Result{
		Downloaded: state.downloaded.Load(),
		Skipped:    state.skipped.Load(),
		Failed:     state.failed.Load(),
	}
	elapsed := telemetry.ObserveSince(telemetry.EmojiFetchDuration, start)
	d.log.Info().
		Int64("downloaded", res.Downloaded).
		Int64("skipped", res.Skipped).
		Int64("failed", res.Failed).
		Str("bytes", humanize.Bytes(uint64(state.bytes.Load()))).
		Dur("elapsed", elapsed).
		Msg("Emoji download finished")
	return res, ctx.Err()
}

func (d *Downloader) fetchOne(ctx context.Context, state *runState, entry Entry) {
	log := d.log.With().Str("emoji", entry.Name).Logger()

	name := FileName(entry.Name)
	if name == "" {
		log.Warn().Msg("Emoji name is empty after sanitizing, skipping")
		countResult(&state.failed, "failed")
		return
	}
	target := filepath.Join(state.dir, name)

	if !state.claim(name) {
		log.Debug().Str("file", name).Msg("Another emoji already maps to this file")
		countResult(&state.skipped, "skipped")
		return
	}
	if _, err := os.Lstat(target); err == nil {
		countResult(&state.skipped, "skipped")
		return
	}

	n, err := d.download(ctx, entry, target)
	switch {
	case errors.Is(err, fs.ErrExist):
		countResult(&state.skipped, "skipped")
	case err != nil:
		log.Warn().Err(err).Msg("Failed to download emoji")
		countResult(&state.failed, "failed")
	default:
		state.bytes.Add(n)
		if total := countResult(&state.downloaded, "downloaded"); total%progressEvery == 0 {
			d.log.Info().Int64("downloaded", total).Msg("Emoji download progress")
		}
	}
}

func countResult(c *atomic.Int64, result string) int64 {
	telemetry.EmojiFetched.WithLabelValues(result).Inc()
	return c.Add(1)
}

// download writes the image to a temp file and links it into place, which
// fails rather than replacing a file that appeared in the meantime.
func (d *Downloader) download(ctx context.Context, entry Entry, target string) (int64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.RequestTimeout)
	defer cancel()

	body, err := d.source.Open(ctx, entry)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("empty image")
	}
	if err := os.Link(tmpName, target); err != nil {
		return 0, err
	}
	return n, nil
}
