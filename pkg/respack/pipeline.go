// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package respack

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/craftbridge/pkg/emoji"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

// DefaultMaxWait bounds how long packaging waits for downloads before
// building from whatever is on disk.
const DefaultMaxWait = 10 * time.Minute

// PipelineConfig locates the pipeline's inputs and outputs. Each build is
// written beside ArchivePath under DigestPath.
type PipelineConfig struct {
	EmojiDir    string
	ArchivePath string
	Manifest    Manifest
	MaxWait     time.Duration
}

// Pipeline fetches the emoji catalog, downloads the images, and publishes
// a resource pack built from them.
type Pipeline struct {
	source      emoji.CatalogSource
	downloader  *emoji.Downloader
	builder     *Builder
	distributor *Distributor
	cfg         PipelineConfig
	log         zerolog.Logger
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(source emoji.CatalogSource, downloader *emoji.Downloader, builder *Builder, distributor *Distributor, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Pipeline{
		source:      source,
		downloader:  downloader,
		builder:     builder,
		distributor: distributor,
		cfg:         cfg,
		log:         log.With().Str("component", "pack_pipeline").Logger(),
	}
}

// Run performs one fetch-download-build cycle. An authentication failure
// disables the pipeline with a warning and Run returns nil; other catalog
// errors are returned. If downloads outlast MaxWait, a pack is published
// from the partial set and rebuilt once the downloads finish.
func (p *Pipeline) Run(ctx context.Context) error {
	entries, err := p.source.FetchCatalog(ctx)
	if errors.Is(err, emoji.ErrAuth) {
		p.log.Warn().Err(err).Msg("Emoji source rejected credentials, resource pack disabled")
		return nil
	} else if err != nil {
		return err
	}
	p.log.Info().Int("emoji", len(entries)).Msg("Fetched emoji catalog")

	done := p.downloader.Start(ctx, entries, p.cfg.EmojiDir)

	timer := time.NewTimer(p.cfg.MaxWait)
	defer timer.Stop()
	select {
	case <-done:
		p.build()
		return nil
	case <-timer.C:
		p.log.Warn().Dur("max_wait", p.cfg.MaxWait).Msg("Downloads still running, building from partial set")
		p.build()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		p.build()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) build() {
	b, err := p.builder.Build(p.cfg.EmojiDir, p.cfg.ArchivePath, p.cfg.Manifest)
	if err != nil {
		telemetry.BundleBuilds.WithLabelValues("error").Inc()
		p.log.Err(err).Msg("Failed to build resource pack")
		return
	}
	telemetry.BundleBuilds.WithLabelValues("ok").Inc()
	p.distributor.Publish(b)
	p.removeSuperseded(b)
}

// removeSuperseded deletes archives from earlier builds and earlier runs.
// Downloads that already opened one keep reading it.
func (p *Pipeline) removeSuperseded(current *Bundle) {
	dir := filepath.Dir(p.cfg.ArchivePath)
	ext := filepath.Ext(p.cfg.ArchivePath)
	prefix := strings.TrimSuffix(filepath.Base(p.cfg.ArchivePath), ext) + "-"
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to list old resource packs")
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		path := filepath.Join(dir, name)
		if path == current.Path {
			continue
		}
		if err := os.Remove(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("Failed to remove old resource pack")
		}
	}
}
