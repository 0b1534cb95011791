// SPDX-License-Identifier: MIT

// Package daemon wires the pipeline components and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/camanchor/internal/api"
	"github.com/ManuGH/camanchor/internal/chain"
	"github.com/ManuGH/camanchor/internal/config"
	"github.com/ManuGH/camanchor/internal/health"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/pinning"
	"github.com/ManuGH/camanchor/internal/pipeline"
	"github.com/ManuGH/camanchor/internal/probe"
	"github.com/ManuGH/camanchor/internal/recorder"
	"github.com/ManuGH/camanchor/internal/records"
	"github.com/ManuGH/camanchor/internal/resilience"
	"github.com/ManuGH/camanchor/internal/segments"
)

// Runtime is the fully wired daemon.
type Runtime struct {
	Config  config.AppConfig
	Manager Manager
	Service *pipeline.Service
	Watcher *pipeline.Watcher
	Breaker *resilience.BalanceBreaker
	Health  *health.Manager
}

// Overrides replaces collaborators in tests. Nil fields use the real ones.
type Overrides struct {
	Dialer   chain.Dialer
	Recorder pipeline.Recorder
	Prober   pipeline.Prober
	Pinner   pipeline.Pinner
}

// Bootstrap acquires the instance lock and builds every component from cfg.
// Shutdown hooks release them in reverse order.
func Bootstrap(cfg config.AppConfig, ov Overrides) (_ *Runtime, err error) {
	logger := log.WithComponent("daemon")

	lock, err := AcquireLock(cfg.LockPath())
	if err != nil {
		return nil, err
	}
	var cleanup []func() error
	cleanup = append(cleanup, lock.Release)
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			err = errors.Join(err, cleanup[i]())
		}
	}()

	store, err := records.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	cleanup = append(cleanup, store.Close)

	dial := ov.Dialer
	if dial == nil {
		dial = chain.DialEthereum
	}
	sel := chain.NewSelector(cfg.Ledger.Endpoints, dial, cfg.Ledger.ProbeTimeout, cfg.Ledger.ReselectInterval)
	cleanup = append(cleanup, func() error { sel.Close(); return nil })

	fee := chain.NewFeePolicy(cfg.Ledger.FeeMultiplier, chain.Gwei(cfg.Ledger.FeeFloorGwei))
	client, err := chain.NewClient(sel, fee, chain.ClientConfig{
		PrivateKey:      cfg.Ledger.PrivateKey,
		ContractAddress: cfg.Ledger.ContractAddress,
		ChainID:         cfg.Ledger.ChainID,
		GasLimit:        cfg.Ledger.GasLimit,
		ReceiptTimeout:  cfg.Ledger.ReceiptTimeout,
		ReceiptPoll:     cfg.Ledger.ReceiptPoll,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}
	if !client.CanSign() {
		logger.Warn().Str(log.FieldEvent, "ledger.no_signer").Msg("no signing key configured; submissions and balance checks will fail")
	}

	minBalance, err := chain.ParseAmount(cfg.Breaker.MinBalance)
	if err != nil {
		return nil, fmt.Errorf("breaker.minBalance: %w", err)
	}
	breaker := resilience.NewBalanceBreaker(client, minBalance, cfg.Breaker.SampleInterval, resilience.WithName("balance"))
	state := pipeline.NewState(breaker)

	pattern := segments.Pattern{Prefix: cfg.Capture.SegmentPrefix, Ext: cfg.Capture.SegmentExt}

	var pins pipeline.Pinner = pinning.New(pinning.Options{
		BaseURL:   cfg.Pinning.BaseURL,
		Timeout:   cfg.Pinning.Timeout,
		JWT:       cfg.Pinning.JWT,
		APIKey:    cfg.Pinning.APIKey,
		APISecret: cfg.Pinning.APISecret,
	})
	if ov.Pinner != nil {
		pins = ov.Pinner
	}
	var prober pipeline.Prober = probe.New(cfg.Recorder.FFprobeBin, cfg.Recorder.ProbeTimeout)
	if ov.Prober != nil {
		prober = ov.Prober
	}
	var rec pipeline.Recorder = recorder.New(recorder.Config{
		Bin:        cfg.Recorder.FFmpegBin,
		Dir:        cfg.Capture.Dir,
		Template:   pattern.Template(),
		VideoCodec: cfg.Recorder.VideoCodec,
		AudioCodec: cfg.Recorder.AudioCodec,
		KillGrace:  cfg.Recorder.KillGrace,
	})
	if ov.Recorder != nil {
		rec = ov.Recorder
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Dir:      cfg.Capture.Dir,
		Pattern:  pattern,
		MaxFiles: cfg.Capture.MaxFiles,
	}, state, store,
		segments.NewStabilityDetector(cfg.Stability.Interval, cfg.Stability.MaxAttempts, cfg.Stability.Required),
		prober, pins, client)

	watcher := pipeline.NewWatcher(pipeline.WatcherConfig{
		Dir:       cfg.Capture.Dir,
		Pattern:   pattern,
		QueueSize: cfg.Capture.QueueSize,
	}, state, store, orch)

	var address string
	if client.CanSign() {
		address = client.Address().Hex()
	}
	svc := pipeline.NewService(pipeline.ServiceConfig{
		CaptureDir:  cfg.Capture.Dir,
		SessionsDir: cfg.SessionsDir(),
		Pattern:     pattern,
		Address:     address,
	}, state, store, rec, watcher, pins)
	cleanup = append(cleanup, svc.Close)

	hm := health.NewManager(cfg.Version,
		health.WithCheckTimeout(max(cfg.Ledger.ProbeTimeout, health.DefaultCheckTimeout)))
	hm.Register(health.NewStoreChecker(store), health.Critical)
	hm.Register(health.NewDirChecker("capture_dir", cfg.Capture.Dir), health.Critical)
	hm.Register(health.NewRPCChecker(client, cfg.Ledger.ProbeTimeout), health.Informational)
	hm.Register(health.NewBreakerChecker(breaker), health.Informational)

	srv := api.New(api.Config{
		ListenAddr:     cfg.API.ListenAddr,
		RateLimit:      cfg.API.RateLimit,
		RateWindow:     cfg.API.RateWindow,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		TracingService: tracingService(cfg),
	}, svc, hm)

	mgr, err := NewManager(ServerConfig{
		ListenAddr:      cfg.API.ListenAddr,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, Deps{Logger: logger, APIHandler: srv.Handler()})
	if err != nil {
		return nil, err
	}

	// Registered in acquisition order; the manager runs them LIFO.
	mgr.RegisterShutdownHook("instance_lock", func(context.Context) error { return lock.Release() })
	mgr.RegisterShutdownHook("ledger_store", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("rpc_selector", func(context.Context) error { sel.Close(); return nil })
	mgr.RegisterShutdownHook("session", func(context.Context) error { return svc.Close() })

	logger.Info().
		Str("capture_dir", cfg.Capture.Dir).
		Str("store", cfg.Store.Backend).
		Int("endpoints", len(cfg.Ledger.Endpoints)).
		Str("min_balance", cfg.Breaker.MinBalance).
		Msg("pipeline wired")

	return &Runtime{
		Config:  cfg,
		Manager: mgr,
		Service: svc,
		Watcher: watcher,
		Breaker: breaker,
		Health:  hm,
	}, nil
}

// tracingService is the span service name for API requests, empty when
// tracing is off.
func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.LogService
}
