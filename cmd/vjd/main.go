// Copyright (c) 2026 Starlite TV
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starlitetv/vjd/internal/config"
	"github.com/starlitetv/vjd/internal/journal"
	"github.com/starlitetv/vjd/internal/log"
	"github.com/starlitetv/vjd/internal/media"
	"github.com/starlitetv/vjd/internal/playout"
	"github.com/starlitetv/vjd/internal/publish"
	"github.com/starlitetv/vjd/internal/render"
	"github.com/starlitetv/vjd/internal/supervisor"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "vjd"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	log.SetLevel(cfg.LogLevel)

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("mode", string(cfg.Mode)).
		Msg("starting vjd")
	logger.Info().Msgf("→ Publish dir: %s", cfg.PublishDir)
	logger.Info().Msgf("→ Staging dir: %s (queue %d, prebuffer %d)", cfg.Staging.Dir, cfg.Staging.QueueCapacity, cfg.Staging.Prebuffer)
	logger.Info().Msgf("→ Video: %s @ %d fps, %s", cfg.Video.Resolution(), cfg.Video.FPS, cfg.Video.Bitrate)
	if cfg.Mode == config.ModePipe {
		logger.Info().Msgf("→ Playout: %s", cfg.PlayoutFile)
	} else {
		logger.Info().Msgf("→ Capture display: %s", cfg.Surfaces.Display)
	}
	if cfg.MusicDir != "" {
		logger.Info().Msgf("→ Music library: %s", cfg.MusicDir)
	}

	var store *journal.Store
	if cfg.JournalPath != "" {
		store, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("path", cfg.JournalPath).
				Msg("failed to open session journal")
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close session journal")
			}
		}()
		logger.Info().Msgf("→ Journal: %s", cfg.JournalPath)
	}

	var tasks render.TaskSource
	if cfg.Mode == config.ModePipe {
		src, err := playout.New(ctx, cfg.PlayoutFile, media.NewProber(cfg.FFprobeBin))
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("path", cfg.PlayoutFile).
				Msg("failed to load playout file")
		}
		if err := src.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("playout file watching unavailable, edits need a restart")
		}
		logger.Info().Msgf("→ Playout tasks: %d", src.Len())
		tasks = src
	}

	sup := supervisor.New(cfg, tasks, store)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	if cfg.HTTP.Enabled {
		srv := publish.New(publish.Config{
			Addr:      cfg.HTTP.Listen,
			Dir:       cfg.PublishDir,
			RateLimit: cfg.HTTP.RequestsPerMinute,
			Snapshot:  sup.Snapshot,
			Journal:   store,
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
		logger.Info().Msgf("→ HTTP: %s", cfg.HTTP.Listen)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
	logger.Info().Msg("vjd exiting")
}
