// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/craftbridge/pkg/emoji"
	"github.com/aiku/craftbridge/pkg/game"
	"github.com/aiku/craftbridge/pkg/game/minecraft"
	"github.com/aiku/craftbridge/pkg/linking"
	"github.com/aiku/craftbridge/pkg/mention"
	"github.com/aiku/craftbridge/pkg/relay"
	"github.com/aiku/craftbridge/pkg/respack"
	"github.com/aiku/craftbridge/pkg/telemetry"
)

const (
	linksFile   = "links.json"
	emojiDir    = "emoji"
	archiveFile = "resourcepack.zip"

	shutdownTimeout = 5 * time.Second
	// packWriteTimeout covers a full archive download on a slow link.
	packWriteTimeout = 5 * time.Minute
)

// GameServer is the game side of the bridge as the Bridge drives it.
type GameServer interface {
	game.Server
	Host() string
	SetHandler(h game.Handler)
	Run(ctx context.Context) error
}

// Bridge is the application context. It owns every component and wires
// them together.
type Bridge struct {
	Config *Config

	mm          *MattermostClient
	server      GameServer
	links       *linking.Registry
	mentions    *mention.Rewriter
	relay       *relay.Relay
	outbound    *relay.Outbound
	distributor *respack.Distributor
	pipeline    *respack.Pipeline

	webhookServer *http.Server
	packServer    *http.Server

	log zerolog.Logger
}

// New builds a bridge from a post-processed config. Persistent state (links,
// downloaded emoji, the built pack) lives under dataDir.
func New(cfg *Config, dataDir string, log zerolog.Logger) (*Bridge, error) {
	links, err := linking.NewRegistry(linking.NewJSONStore(filepath.Join(dataDir, linksFile)), log)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity links: %w", err)
	}
	server := minecraft.NewServer(minecraft.Config{
		RCONAddress:  cfg.Minecraft.RCONAddress,
		RCONPassword: cfg.Minecraft.RCONPassword,
		LogPath:      cfg.Minecraft.LogPath,
	}, log)
	return newBridge(cfg, dataDir, server, NewMattermostClient(cfg, log), links, log), nil
}

func newBridge(cfg *Config, dataDir string, server GameServer, mm *MattermostClient, links *linking.Registry, log zerolog.Logger) *Bridge {
	b := &Bridge{
		Config: cfg,
		mm:     mm,
		server: server,
		links:  links,
		log:    log.With().Str("component", "bridge").Logger(),
	}
	telemetry.LinkedAccounts.Set(float64(len(links.Records())))

	b.mentions = mention.NewRewriter(links, server, mm, log)
	b.mentions.DisplayName = mm.formatUser

	channelID := cfg.Mattermost.ChannelID
	b.relay = relay.New(server, log,
		relay.WithChannel(channelID),
		relay.WithThreads(mm, mm, cfg.Mattermost.ThreadContext),
		relay.WithMentions(b.mentions),
		relay.WithFormatter(toGameText),
	)
	b.outbound = relay.NewOutbound(mm, channelID, cfg.avatarTemplate, b.mentions, toChatText, log)
	server.SetHandler(b)

	webhookMux := http.NewServeMux()
	webhookMux.Handle(cfg.Webhook.Path, relay.NewWebhookHandler(b.relay, log))
	if cfg.Mattermost.CommandToken != "" {
		webhookMux.Handle(CommandPath, NewCommandHandler(b, cfg.Mattermost.CommandToken, log))
	}
	b.webhookServer = &http.Server{
		Addr:         cfg.Webhook.Addr(),
		Handler:      webhookMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	packMux := http.NewServeMux()
	packMux.Handle("/metrics", telemetry.Handler())
	if cfg.ResourcePack.Enabled {
		b.distributor = respack.NewDistributor(cfg.ResourcePack.PublicHost, cfg.ResourcePack.Port, log)
		packMux.Handle(b.distributor.Path, b.distributor)
		b.pipeline = b.newPipeline(dataDir, log)
	}
	b.packServer = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.ResourcePack.Port),
		Handler:      packMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: packWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return b
}

func (b *Bridge) newPipeline(dataDir string, log zerolog.Logger) *respack.Pipeline {
	ecfg := b.Config.Emoji
	var source emoji.CatalogSource
	switch ecfg.Source {
	case "slack":
		source = emoji.NewSlackCatalog(ecfg.SlackToken, &http.Client{Timeout: time.Duration(ecfg.RequestTimeout)})
	default:
		source = emoji.NewMattermostCatalog(b.mm.API())
	}
	downloader := emoji.NewDownloader(source, emoji.DownloaderOptions{
		Concurrency:       ecfg.Concurrency,
		RequestTimeout:    time.Duration(ecfg.RequestTimeout),
		RequestsPerSecond: ecfg.RequestsPerSecond,
	}, log)
	manifest := respack.DefaultManifest()
	if b.Config.ResourcePack.PackFormat > 0 {
		manifest.PackFormat = b.Config.ResourcePack.PackFormat
	}
	if b.Config.ResourcePack.Description != "" {
		manifest.Description = b.Config.ResourcePack.Description
	}
	return respack.NewPipeline(source, downloader, respack.NewBuilder(respack.EmojiAssetDir), b.distributor, respack.PipelineConfig{
		EmojiDir:    filepath.Join(dataDir, emojiDir),
		ArchivePath: filepath.Join(dataDir, archiveFile),
		Manifest:    manifest,
		MaxWait:     time.Duration(b.Config.ResourcePack.MaxWait),
	}, log)
}

// Run starts every component and blocks until ctx is cancelled or an HTTP
// listener fails. Mattermost and emoji failures disable their subsystem
// without stopping the bridge.
func (b *Bridge) Run(parent context.Context) error {
	eg, ctx := errgroup.WithContext(parent)

	eg.Go(func() error {
		return b.server.Run(ctx)
	})
	eg.Go(func() error {
		b.outbound.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		b.connectChat(ctx)
		return nil
	})
	if b.pipeline != nil {
		eg.Go(func() error {
			if err := b.pipeline.Run(ctx); err != nil {
				b.log.Warn().Err(err).Msg("Emoji resource pack disabled")
			}
			return nil
		})
	}
	for _, srv := range []*http.Server{b.webhookServer, b.packServer} {
		eg.Go(func() error {
			b.log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		b.shutdown()
		return nil
	})

	err := eg.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

func (b *Bridge) connectChat(ctx context.Context) {
	if err := b.mm.Connect(ctx, b.Config.Mattermost.ChannelID, b.handleEvent); err != nil {
		b.log.Warn().Err(err).Msg("Mattermost unavailable, chat relay disabled")
	}
}

func (b *Bridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*http.Server{b.webhookServer, b.packServer} {
		if err := srv.Shutdown(ctx); err != nil {
			b.log.Warn().Err(err).Str("addr", srv.Addr).Msg("HTTP server shutdown failed")
		}
	}
	b.mm.Disconnect()
	b.log.Info().Msg("Bridge stopped")
}
