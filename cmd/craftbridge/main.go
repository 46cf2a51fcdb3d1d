// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command craftbridge relays chat between a Mattermost channel and a
// Minecraft server, gates joins behind linked Mattermost accounts and serves
// a resource pack built from the chat server's custom emoji.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/aiku/craftbridge/pkg/atomicfile"
	"github.com/aiku/craftbridge/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "craftbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("craftbridge", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", "config.yaml", "Path to the configuration file")
	dataDir := flags.StringP("data-dir", "d", ".", "Directory for links, emoji cache and the built pack")
	envFile := flags.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	generate := flags.BoolP("generate-config", "g", false, "Write the example configuration to --config and exit")
	showVersion := flags.BoolP("version", "v", false, "Print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Fprintf(stdout, "craftbridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if *generate {
		return generateConfig(*configPath, stdout)
	}

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}

	log := newLogger(stderr, connector.LoggingConfig{Level: "info"})
	cfg, err := connector.LoadConfig(*configPath, log)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(log)
	if err = cfg.PostProcess(); err != nil {
		return err
	}
	log = newLogger(stderr, cfg.Logging)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("config", *configPath).
		Msg("Starting craftbridge")

	if err = os.MkdirAll(*dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	bridge, err := connector.New(cfg, *dataDir, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err = bridge.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shut down cleanly")
	return nil
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func generateConfig(path string, stdout io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := atomicfile.WriteFile(path, []byte(connector.ExampleConfig), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote example configuration to %s\n", path)
	return nil
}

func newLogger(w io.Writer, cfg connector.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
