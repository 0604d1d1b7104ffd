// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// shutdownStep is one stage of the ordered teardown.
type shutdownStep struct {
	name string
	fn   func() error
}

// Shutdown stops the device session, the button slots, the file watcher and
// the event bus, in that order. Every step runs even if an earlier one
// failed. Safe to call more than once.
func (a *App) Shutdown() error {
	a.stopOnce.Do(func() {
		a.stopErr = a.shutdown()
	})
	return a.stopErr
}

func (a *App) shutdown() error {
	a.logger.Info().Msg("shutting down daemon")

	steps := []shutdownStep{
		{name: "device_session", fn: func() error {
			err := a.session.Shutdown(a.cfg.ShutdownTimeout)
			if a.hotplug != nil {
				err = errors.Join(err, a.hotplug.Close())
			}
			return err
		}},
		{name: "buttons", fn: func() error {
			a.coord.Shutdown()
			return nil
		}},
		{name: "file_watcher", fn: a.watcher.Stop},
		{name: "event_bus", fn: func() error {
			a.bus.Shutdown()
			return nil
		}},
	}

	var errs []error
	for _, step := range steps {
		start := time.Now()
		if err := runStep(step); err != nil {
			a.logger.Error().
				Err(err).
				Str("step", step.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		a.logger.Debug().
			Str("step", step.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown step completed")
	}

	if len(errs) > 0 {
		a.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	a.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

// runStep turns a panicking step into an error so later steps still run.
func runStep(s shutdownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn()
}

// serveMetrics runs the Prometheus and health listener until ctx is done.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.deps.MetricsHandler)
	mux.HandleFunc("/healthz", a.health.ServeHealth)

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics server listening")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.logger.Error().
			Err(err).
			Str("event", "metrics.server.failed").
			Msg("metrics server failed")
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errChan
		if err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
