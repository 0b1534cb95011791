// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"
)

// App supervises the long-running loops of a Runtime: directory watch,
// segment worker, balance sampling and the HTTP server.
type App struct {
	logger zerolog.Logger
	rt     *Runtime
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, rt *Runtime) *App {
	return &App{logger: logger, rt: rt}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.rt == nil || a.rt.Manager == nil {
		return ErrMissingManager
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoops := context.WithCancel(gctx)
	defer stopLoops()

	// Initial sample so a start request right after boot sees the breaker state.
	if _, err := a.rt.Breaker.Sample(loopCtx); err != nil {
		a.logger.Warn().Err(err).Str("event", "breaker.initial_sample_failed").Msg("initial balance sample failed")
	}

	var loops sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		loops.Add(1)
		g.Go(func() error {
			defer loops.Done()
			if err := fn(loopCtx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	run("watcher", a.rt.Watcher.Watch)
	run("worker", a.rt.Watcher.Run)
	run("breaker", func(ctx context.Context) error {
		return a.rt.Breaker.Run(ctx, a.rt.Service.ShouldSample)
	})

	// Registered last so it runs first: the loops stop before the session
	// and the store are closed under them.
	a.rt.Manager.RegisterShutdownHook("pipeline_loops", func(ctx context.Context) error {
		stopLoops()
		done := make(chan struct{})
		go func() {
			loops.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Segments left over from a previous run are picked up once at boot.
	a.rt.Watcher.Scan()

	g.Go(func() error {
		err := a.rt.Manager.Start(gctx)
		if err != nil {
			_ = a.rt.Manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
