// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command deckfsd maps Stream Deck keys to script directories.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/daemon"
	"github.com/ManuGH/deckfs/internal/device/streamdeck"
	xglog "github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			os.Exit(runStatusCLI(os.Args[2:]))
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configDir := flag.String("config-dir", "", "configuration root (default $DECKFS_CONFIG_DIR or ~/.local/streamdeck)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg := config.LoadDaemonConfig(*configDir)
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "deckfsd",
		Version: version.Version,
	})
	logger := xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.New(cfg, daemon.Deps{Enumerator: streamdeck.Enumerator{}})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "startup.failed").
			Str(xglog.FieldPath, cfg.ConfigDir).
			Msg("cannot start daemon")
	}

	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str(xglog.FieldPath, cfg.ConfigDir).
		Str("status_file", cfg.StatusFile).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("configuration loaded")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}
