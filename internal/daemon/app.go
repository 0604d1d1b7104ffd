// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the event bus, file watcher, device session and
// coordinator into one process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/deckfs/internal/button"
	"github.com/ManuGH/deckfs/internal/bus"
	"github.com/ManuGH/deckfs/internal/config"
	"github.com/ManuGH/deckfs/internal/coordinator"
	"github.com/ManuGH/deckfs/internal/device"
	"github.com/ManuGH/deckfs/internal/health"
	"github.com/ManuGH/deckfs/internal/hotplug"
	"github.com/ManuGH/deckfs/internal/log"
	"github.com/ManuGH/deckfs/internal/supervisor"
	"github.com/ManuGH/deckfs/internal/version"
	"github.com/ManuGH/deckfs/internal/watcher"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App owns the long-lived runtime: the device loop, the status writer,
// the optional metrics listener and reload signal handling.
type App struct {
	cfg          config.DaemonConfig
	deps         Deps
	logger       zerolog.Logger
	reloadSignal os.Signal

	settings *config.Holder
	bus      *bus.Bus
	watcher  *watcher.Watcher
	session  *device.Session
	coord    *coordinator.Coordinator
	health   *health.Manager
	hotplug  io.Closer

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopErr  error
}

// New validates the environment and builds every component. Startup only
// fails when the configuration root is unusable.
func New(cfg config.DaemonConfig, deps Deps) (*App, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if err := health.PerformStartupChecks(cfg.ConfigDir, config.DefaultInterpreters); err != nil {
		return nil, err
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}

	a := &App{
		cfg:          cfg,
		deps:         deps,
		logger:       log.WithComponent("daemon"),
		reloadSignal: syscall.SIGHUP,
	}

	a.settings = config.NewHolder(cfg.ConfigDir)
	a.bus = bus.New(a.settings.Get().DebounceInterval)

	w, err := watcher.New(cfg.ConfigDir, a.bus)
	if err != nil {
		a.bus.Shutdown()
		return nil, err
	}
	a.watcher = w

	buttonOpts := append([]button.Option{
		button.WithSupervisorOptions(supervisor.WithEnvFile(config.EnvFilePath(cfg.ConfigDir))),
	}, deps.ButtonOptions...)
	a.coord = coordinator.New(coordinator.Config{
		Root:          cfg.ConfigDir,
		Bus:           a.bus,
		Settings:      a.settings,
		Watcher:       a.watcher,
		ButtonOptions: buttonOpts,
	})

	a.session = device.NewSession(device.Config{
		Enumerator:     deps.Enumerator,
		Hotplug:        a.hotplugSource(),
		Listener:       a.coord,
		Brightness:     func() int { return a.settings.Get().Brightness },
		HealthInterval: deps.HealthInterval,
	})
	a.coord.SetDisplay(a.session)

	a.health = health.NewManager(version.Version)
	a.health.RegisterChecker(health.DeviceChecker{Source: a.session})
	a.health.RegisterChecker(health.ButtonsChecker{Source: a.coord})
	return a, nil
}

func (a *App) hotplugSource() device.HotplugSource {
	if a.deps.Hotplug != nil {
		return a.deps.Hotplug
	}
	if a.deps.DisableHotplug {
		return nil
	}
	l, err := hotplug.New()
	if err != nil {
		a.logger.Warn().Err(err).Msg("USB hotplug notifications unavailable, relying on periodic health checks")
		return nil
	}
	a.hotplug = l
	return l
}

// Session exposes the device session.
func (a *App) Session() *device.Session { return a.session }

// Coordinator exposes the button coordinator.
func (a *App) Coordinator() *coordinator.Coordinator { return a.coord }

// Health exposes the health manager.
func (a *App) Health() *health.Manager { return a.health }

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()

	a.coord.Start()
	if err := a.watcher.Start(); err != nil {
		return errors.Join(fmt.Errorf("start file watcher: %w", err), a.Shutdown())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.session.Run(gctx) })

	if a.cfg.StatusFile != "" {
		g.Go(func() error {
			return health.RunStatusWriter(gctx, a.health, a.cfg.StatusFile, a.cfg.StatusInterval, os.Getpid())
		})
	}

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	if a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading settings and buttons")
					a.Reload()
				}
			}
		})
	}

	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str(log.FieldPath, a.cfg.ConfigDir).
		Str("version", version.Version).
		Msg("deckfs daemon started")

	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error().Err(runErr).Msg("subsystem failed, shutting down")
	}
	return errors.Join(runErr, a.Shutdown())
}

// Reload re-reads config.yaml and reloads every button slot.
func (a *App) Reload() {
	a.settings.Reload()
	a.coord.ReloadAll()
}
